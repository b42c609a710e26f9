// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	json "github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/boardkeep/boardkeep/internal/logging"
)

// NATSConfig configures the NATS sink.
type NATSConfig struct {
	URL           string
	Topic         string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSNotifier publishes events to a NATS JetStream topic through Watermill.
// The event id doubles as the Nats-Msg-Id so redelivered events deduplicate
// on the broker side.
type NATSNotifier struct {
	topic     string
	publisher message.Publisher

	mu     sync.Mutex
	closed bool
}

// NewNATSNotifier connects to NATS and builds the sink. Connection loss is
// handled by the client's reconnect machinery; publishes during an outage
// fail and are reported through the usual delivery-failure path.
func NewNATSNotifier(cfg NATSConfig) (*NATSNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("nats topic is required")
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	wmLogger := newWatermillLogger(logging.With().Str("component", "notify.nats").Logger())

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				wmLogger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			wmLogger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	return &NATSNotifier{topic: cfg.Topic, publisher: pub}, nil
}

// Name implements Notifier.
func (n *NATSNotifier) Name() string { return "nats" }

// Notify implements Notifier.
func (n *NATSNotifier) Notify(_ context.Context, event Event) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return fmt.Errorf("nats notifier is closed")
	}
	n.mu.Unlock()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, event.ID)
	msg.Metadata.Set("event_type", string(event.Type))

	if err := n.publisher.Publish(n.topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", n.topic, err)
	}
	return nil
}

// Close implements Notifier.
func (n *NATSNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.publisher.Close()
}

// watermillLogger bridges Watermill's logging interface onto zerolog.
type watermillLogger struct {
	log zerolog.Logger
}

func newWatermillLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{log: log}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.log.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.log.Info(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.log.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.log.Trace(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := l.log.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &watermillLogger{log: ctx.Logger()}
}

func (l *watermillLogger) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
