// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package notify

import (
	"context"

	"github.com/boardkeep/boardkeep/internal/logging"
	"github.com/boardkeep/boardkeep/internal/metrics"
	"github.com/rs/zerolog"
)

// Notifier delivers a single event to one sink.
type Notifier interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Notify delivers the event. Implementations respect ctx cancellation.
	Notify(ctx context.Context, event Event) error

	// Close releases sink resources.
	Close() error
}

// Multi fans one event out to every configured sink. Sink failures are
// logged and counted, never propagated: a dead webhook must not fail a
// backup that already succeeded.
type Multi struct {
	sinks []Notifier
	log   zerolog.Logger
}

// NewMulti builds a fan-out notifier over the given sinks.
func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{
		sinks: sinks,
		log:   logging.With().Str("component", "notify").Logger(),
	}
}

// Notify delivers the event to every sink sequentially.
func (m *Multi) Notify(ctx context.Context, event Event) {
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, event); err != nil {
			metrics.NotificationsSent.WithLabelValues(sink.Name(), "failure").Inc()
			m.log.Warn().
				Err(err).
				Str("sink", sink.Name()).
				Str("event_type", string(event.Type)).
				Str("subject", event.Subject).
				Msg("Notification delivery failed")
			continue
		}
		metrics.NotificationsSent.WithLabelValues(sink.Name(), "success").Inc()
	}
}

// Close closes every sink, returning the first error encountered.
func (m *Multi) Close() error {
	var first error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogNotifier writes events to the structured log. It exists so every
// deployment has at least one sink regardless of webhook or NATS
// configuration.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier builds the log sink.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.With().Str("component", "notify.log").Logger()}
}

// Name implements Notifier.
func (n *LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	var ev *zerolog.Event
	switch event.Severity {
	case SeverityError:
		ev = n.log.Error()
	case SeverityWarning:
		ev = n.log.Warn()
	default:
		ev = n.log.Info()
	}

	ev.Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("subject", event.Subject)
	for k, v := range event.Metadata {
		ev = ev.Str(k, v)
	}
	ev.Msg(event.Message)
	return nil
}

// Close implements Notifier.
func (n *LogNotifier) Close() error { return nil }
