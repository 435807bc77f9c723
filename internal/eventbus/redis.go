/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/telemetry"
)

// ChannelPrefix prefixes every Redis pub/sub channel events are published on.
const ChannelPrefix = "catchup:events:"

// Channel returns the Redis channel for an event type.
func Channel(eventType events.EventType) string {
	return ChannelPrefix + string(eventType)
}

// RedisConfig tunes a RedisLogger.
type RedisConfig struct {
	QueueSize      int           // events buffered before dropping
	PublishTimeout time.Duration // per publish
	MaxFailures    int           // consecutive failures before the breaker opens
	CheckInterval  time.Duration // how long the breaker stays open
}

// DefaultRedisConfig returns default Redis sink configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		QueueSize:      256,
		PublishTimeout: 2 * time.Second,
		MaxFailures:    5,
		CheckInterval:  30 * time.Second,
	}
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type redisEvent struct {
	eventType events.EventType
	payload   events.Payload
	at        time.Time
}

// RedisLogger publishes sweep events to Redis pub/sub channels from a
// background goroutine. Record only enqueues; a full queue drops the event.
// After MaxFailures consecutive publish errors events are dropped until
// CheckInterval has passed (circuit breaker).
type RedisLogger struct {
	client redisPublisher
	cfg    RedisConfig
	nodeID string
	logger zerolog.Logger
	now    func() time.Time

	queue chan redisEvent
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	mu        sync.Mutex
	failCount int
	openUntil time.Time
}

// NewRedisLogger starts the publishing goroutine. Close stops it.
func NewRedisLogger(client *redis.Client, cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisLogger {
	return newRedisLogger(client, cfg, nodeID, logger)
}

func newRedisLogger(client redisPublisher, cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisLogger {
	def := DefaultRedisConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}

	l := &RedisLogger{
		client: client,
		cfg:    cfg,
		nodeID: nodeID,
		logger: logger.With().Str("component", "redis_events").Logger(),
		now:    time.Now,
		queue:  make(chan redisEvent, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Record enqueues the event without blocking.
func (l *RedisLogger) Record(message string, data map[string]any) {
	ev := redisEvent{eventType: EventFor(message), payload: payloadFor(message, data), at: l.now()}
	select {
	case <-l.done:
		telemetry.EventsDroppedTotal.WithLabelValues("redis").Inc()
		return
	default:
	}
	select {
	case l.queue <- ev:
	default:
		telemetry.EventsDroppedTotal.WithLabelValues("redis").Inc()
	}
}

func (l *RedisLogger) run() {
	defer l.wg.Done()
	for {
		select {
		case ev := <-l.queue:
			l.publish(ev)
		case <-l.done:
			// Flush what is already queued.
			for {
				select {
				case ev := <-l.queue:
					l.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *RedisLogger) publish(ev redisEvent) {
	if l.breakerOpen() {
		telemetry.EventsDroppedTotal.WithLabelValues("redis").Inc()
		return
	}

	data, err := marshalEnvelope(ev.eventType, ev.payload, l.nodeID, ev.at)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.PublishTimeout)
	defer cancel()

	if err := l.client.Publish(ctx, Channel(ev.eventType), data).Err(); err != nil {
		l.logger.Error().Err(err).Str("event_type", string(ev.eventType)).Msg("failed to publish to Redis")
		telemetry.EventsDroppedTotal.WithLabelValues("redis").Inc()
		l.handleFailure()
		return
	}

	l.mu.Lock()
	l.failCount = 0
	l.mu.Unlock()
}

func (l *RedisLogger) breakerOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now().Before(l.openUntil)
}

// handleFailure implements circuit breaker logic.
func (l *RedisLogger) handleFailure() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failCount++
	if l.failCount >= l.cfg.MaxFailures {
		l.openUntil = l.now().Add(l.cfg.CheckInterval)
		l.failCount = 0
		l.logger.Warn().
			Dur("retry_in", l.cfg.CheckInterval).
			Msg("Redis failure threshold reached, dropping events")
	}
}

// Close stops the publisher after flushing queued events.
func (l *RedisLogger) Close() error {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}
