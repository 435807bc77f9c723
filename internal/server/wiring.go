/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/catchup/internal/config"
	"github.com/friendsincode/catchup/internal/eventbus"
	"github.com/friendsincode/catchup/internal/events"
	"github.com/friendsincode/catchup/internal/publish"
	"github.com/friendsincode/catchup/internal/storage"
	"github.com/friendsincode/catchup/internal/store"
	"github.com/friendsincode/catchup/internal/sweeper"
)

func nodeIdentity() string {
	return eventbus.NodeID()
}

// ConnectRedis opens and pings a Redis client from cfg.
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

// buildSource returns the configured overdue-item source. The Redis source is
// also returned on its own so delivered items can be removed from it.
func buildSource(cfg *config.Config, database *gorm.DB, rdb *redis.Client, logger zerolog.Logger) (sweeper.Source, *store.RedisSource, error) {
	switch cfg.Source {
	case config.SourceDB:
		return store.NewGormSource(database, store.SourceOptions{Kinds: cfg.ItemKinds}, logger), nil, nil
	case config.SourceRedis:
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis source requires a redis connection")
		}
		src := store.NewRedisSource(rdb, cfg.HookName, 0, logger)
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("unsupported source %q", cfg.Source)
	}
}

// buildExecutor composes the configured executor with failure bookkeeping.
//
//	db executor:               pending -> delivered in the database
//	webhook with db source:    check the row, POST, then mark delivered
//	webhook with redis source: check the pending set, POST, then drop the item
func buildExecutor(cfg *config.Config, database *gorm.DB, redisSource *store.RedisSource, logger zerolog.Logger) sweeper.Executor {
	gormPub := publish.NewGormPublisher(database, publish.GormOptions{MaxAttempts: cfg.MaxAttempts}, logger)

	if cfg.Executor != config.ExecutorWebhook {
		return publish.NewTracked(gormPub, gormPub, logger)
	}

	webhook := publish.NewWebhookPublisher(publish.WebhookConfig{
		URL:     cfg.WebhookURL,
		Secret:  cfg.WebhookSecret,
		Timeout: cfg.WebhookTimeout,
	}, logger)

	// The POST cannot be taken back, so the item's state is checked first.
	if redisSource != nil {
		return publish.NewTracked(webhook, nil, logger, redisSource.Remove).
			Before(publish.IndexCheck(redisSource, nil))
	}
	return publish.NewTracked(webhook, gormPub, logger, gormPub.Deliver).
		Before(gormPub.Check)
}

// buildEventLoggers assembles every enabled event sink. Remote sinks that
// cannot connect are logged and left out; sweeps never depend on them.
func buildEventLoggers(cfg *config.Config, bus *events.Bus, rdb *redis.Client, nodeID string, logger zerolog.Logger, deferClose func(func() error)) sweeper.EventLogger {
	loggers := []sweeper.EventLogger{
		sweeper.NewZerologLogger(logger),
		eventbus.NewBusLogger(bus),
	}

	if cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Token = cfg.NATSToken
		natsCfg.Name = "catchup-" + nodeID
		nl, err := eventbus.NewNATSLogger(natsCfg, nodeID, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS event sink unavailable, continuing without it")
		} else {
			deferClose(nl.Close)
			loggers = append(loggers, nl)
		}
	}

	if cfg.EventsRedis && rdb != nil {
		rl := eventbus.NewRedisLogger(rdb, eventbus.DefaultRedisConfig(), nodeID, logger)
		deferClose(rl.Close)
		loggers = append(loggers, rl)
	}

	return sweeper.Multi(loggers...)
}

// buildArchive returns the object store pruned history is archived to, or
// nil when archiving is off.
func buildArchive(cfg *config.Config, logger zerolog.Logger) (storage.ObjectStore, error) {
	switch cfg.ArchiveBackend {
	case config.ArchiveFilesystem:
		fs := storage.NewFilesystemStore(cfg.ArchiveDir, logger)
		if err := fs.CheckAccess(context.Background()); err != nil {
			return nil, err
		}
		return fs, nil
	case config.ArchiveS3:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s3, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			Prefix:          "catchup",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init s3 archive: %w", err)
		}
		return s3, nil
	default:
		return nil, nil
	}
}
