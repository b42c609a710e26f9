// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Boardkeep backup engine daemon. Loads configuration, opens the task
// database, and runs the backup scheduler, retention sweeper, and metrics
// listener under a supervision tree until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/boardkeep/boardkeep/internal/backup"
	"github.com/boardkeep/boardkeep/internal/config"
	"github.com/boardkeep/boardkeep/internal/database"
	"github.com/boardkeep/boardkeep/internal/logging"
	"github.com/boardkeep/boardkeep/internal/notify"
	"github.com/boardkeep/boardkeep/internal/scheduler"
	"github.com/boardkeep/boardkeep/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("Fatal error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	log := logging.With().Str("component", "main").Logger()

	store, err := database.Open(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // process exit path

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}
	defer notifier.Close() //nolint:errcheck // process exit path

	manager, err := backup.NewManager(backup.Config{
		Dir:               cfg.Backup.Dir,
		Compression:       cfg.Backup.Compression.Enabled,
		CompressionLevel:  cfg.Backup.Compression.Level,
		Encryption:        cfg.Backup.Encryption.Enabled,
		Passphrase:        cfg.Backup.Encryption.Passphrase,
		VerifyAfterCreate: cfg.Backup.VerifyAfterCreate,
	}, store, notifier)
	if err != nil {
		return err
	}

	sched := scheduler.New(store, manager, notifier)

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	if cfg.Scheduler.Enabled {
		tree.AddEngineService(&supervisor.SchedulerService{Scheduler: sched})
		tree.AddEngineService(&supervisor.RetentionService{
			Scheduler: sched,
			Interval:  cfg.Scheduler.CleanupInterval,
		})
	}
	if cfg.Metrics.Enabled {
		tree.AddTelemetryService(&supervisor.MetricsService{Listen: cfg.Metrics.Listen})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("database", cfg.Database.Path).
		Str("backup_dir", cfg.Backup.Dir).
		Bool("scheduler", cfg.Scheduler.Enabled).
		Msg("Boardkeep backup engine starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, svc := range report {
			log.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

// buildNotifier assembles the configured notification sinks. The log sink
// is always present when log_events is set; webhook and NATS join when
// configured.
func buildNotifier(cfg *config.Config) (*notify.Multi, error) {
	var sinks []notify.Notifier

	if cfg.Notifications.LogEvents {
		sinks = append(sinks, notify.NewLogNotifier())
	}
	if cfg.Notifications.Webhook.URL != "" {
		sinks = append(sinks, notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:           cfg.Notifications.Webhook.URL,
			Timeout:       cfg.Notifications.Webhook.Timeout,
			RatePerSecond: cfg.Notifications.Webhook.RatePerSecond,
			Burst:         cfg.Notifications.Webhook.Burst,
		}))
	}
	if cfg.Notifications.NATS.Enabled {
		natsSink, err := notify.NewNATSNotifier(notify.NATSConfig{
			URL:           cfg.Notifications.NATS.URL,
			Topic:         cfg.Notifications.NATS.Topic,
			MaxReconnects: cfg.Notifications.NATS.MaxReconnects,
			ReconnectWait: cfg.Notifications.NATS.ReconnectWait,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, natsSink)
	}

	return notify.NewMulti(sinks...), nil
}
