/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/telemetry"
)

// SubjectPrefix prefixes every NATS subject events are published on.
const SubjectPrefix = "catchup.events."

// Subject returns the NATS subject for an event type.
func Subject(eventType events.EventType) string {
	return SubjectPrefix + string(eventType)
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "catchup",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSLogger publishes sweep events as JSON envelopes to NATS subjects.
// Publishing is buffered by the client; failures are logged and dropped.
type NATSLogger struct {
	conn   *nats.Conn
	pub    natsPublisher
	nodeID string
	logger zerolog.Logger
	now    func() time.Time
}

// NewNATSLogger connects to NATS.
func NewNATSLogger(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSLogger, error) {
	logger = logger.With().Str("component", "nats_events").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info().Str("url", cfg.URL).Msg("NATS event sink connected")

	l := newNATSLogger(nc, nodeID, logger)
	l.conn = nc
	return l, nil
}

func newNATSLogger(pub natsPublisher, nodeID string, logger zerolog.Logger) *NATSLogger {
	return &NATSLogger{
		pub:    pub,
		nodeID: nodeID,
		logger: logger,
		now:    time.Now,
	}
}

// Record publishes the event on its subject.
func (l *NATSLogger) Record(message string, data map[string]any) {
	eventType := EventFor(message)
	body, err := marshalEnvelope(eventType, payloadFor(message, data), l.nodeID, l.now())
	if err != nil {
		l.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		telemetry.EventsDroppedTotal.WithLabelValues("nats").Inc()
		return
	}
	if err := l.pub.Publish(Subject(eventType), body); err != nil {
		l.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to publish event to NATS")
		telemetry.EventsDroppedTotal.WithLabelValues("nats").Inc()
	}
}

// Tail subscribes to every catchup event subject on nc and calls fn for each
// decoded envelope until ctx is done.
func Tail(ctx context.Context, nc *nats.Conn, fn func(*Envelope)) error {
	sub, err := nc.Subscribe(SubjectPrefix+">", func(msg *nats.Msg) {
		env, err := DecodeEnvelope(msg.Data)
		if err != nil {
			return
		}
		fn(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	<-ctx.Done()
	return nil
}

// Close flushes buffered events and closes the connection.
func (l *NATSLogger) Close() error {
	if l.conn == nil {
		return nil
	}
	if err := l.conn.Drain(); err != nil {
		l.conn.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
