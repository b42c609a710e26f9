// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	"github.com/boardkeep/boardkeep/internal/logging"
	"github.com/boardkeep/boardkeep/internal/scheduler"
)

// SchedulerService adapts the backup scheduler to the suture service
// contract: arm timers on start, disarm on context cancellation.
type SchedulerService struct {
	Scheduler *scheduler.Scheduler
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if err := s.Scheduler.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Scheduler.Stop()
	return ctx.Err()
}

func (s *SchedulerService) String() string { return "backup-scheduler" }

// RetentionService periodically applies per-schedule retention windows.
type RetentionService struct {
	Scheduler *scheduler.Scheduler
	Interval  time.Duration
}

// Serve implements suture.Service.
func (s *RetentionService) Serve(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	log := logging.With().Str("component", "retention").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			deleted, err := s.Scheduler.CleanupOldBackups(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Retention sweep failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int("deleted", deleted).Msg("Retention sweep deleted expired backups")
			}
		}
	}
}

func (s *RetentionService) String() string { return "retention-sweeper" }

// MetricsService serves the Prometheus scrape endpoint.
type MetricsService struct {
	Listen string
}

// Serve implements suture.Service.
func (s *MetricsService) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              s.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx) //nolint:errcheck // shutting down anyway
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		return err
	}
}

func (s *MetricsService) String() string { return "metrics-listener" }
