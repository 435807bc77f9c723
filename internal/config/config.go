/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// cronParser accepts the same expressions as the schedule registry.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Source and executor selection.
const (
	SourceDB        = "db"
	SourceRedis     = "redis"
	ExecutorDB      = "db"
	ExecutorWebhook = "webhook"
)

// Archive backend selection for pruned sweep history.
const (
	ArchiveNone       = "none"
	ArchiveFilesystem = "fs"
	ArchiveS3         = "s3"
)

// DefaultHookName mirrors the hook the sweeper has always registered under.
const DefaultHookName = "catchup_scheduled_item_checker"

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Sweep configuration
	HookName      string
	Interval      time.Duration
	CronSpec      string // Overrides Interval when set
	Concurrency   int
	OverlapPolicy string // skip or queue
	MaxAttempts   int    // 0 means retry forever
	ItemKinds     []string
	Source        string // db or redis
	Executor      string // db or webhook

	// Webhook executor
	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration

	// Event fan-out
	NATSURL        string
	NATSToken      string
	EventsRedis    bool // publish sweep events on Redis pub/sub
	HistoryEnabled bool

	// History retention and archive
	HistoryRetention time.Duration // 0 keeps history forever
	ArchiveBackend   string        // none, fs or s3
	ArchiveDir       string

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Ops API
	APIJWTSecret string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	ConfigFile string
}

// Load reads environment variables, applies defaults, and validates the result.
// When CATCHUP_CONFIG_FILE points to a YAML file of KEY: value pairs, those
// values act as defaults beneath the real environment.
func Load() (*Config, error) {
	fileValues, path, err := loadFileValues(os.Getenv("CATCHUP_CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	env := envReader{file: fileValues}

	cfg := &Config{
		Environment: env.str("CATCHUP_ENV", "development"),
		HTTPBind:    env.str("CATCHUP_HTTP_BIND", "127.0.0.1"),
		HTTPPort:    env.int("CATCHUP_HTTP_PORT", 9180),
		DBBackend:   DatabaseBackend(env.str("CATCHUP_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       env.str("CATCHUP_DB_DSN", ""),

		HookName:      env.str("CATCHUP_HOOK_NAME", DefaultHookName),
		Interval:      time.Duration(env.int("CATCHUP_INTERVAL_SECONDS", 300)) * time.Second,
		CronSpec:      env.str("CATCHUP_CRON", ""),
		Concurrency:   env.int("CATCHUP_CONCURRENCY", 1),
		OverlapPolicy: strings.ToLower(env.str("CATCHUP_OVERLAP_POLICY", "skip")),
		MaxAttempts:   env.int("CATCHUP_MAX_ATTEMPTS", 0),
		ItemKinds:     splitList(env.str("CATCHUP_ITEM_KINDS", "")),
		Source:        strings.ToLower(env.str("CATCHUP_SOURCE", SourceDB)),
		Executor:      strings.ToLower(env.str("CATCHUP_EXECUTOR", ExecutorDB)),

		WebhookURL:     env.str("CATCHUP_WEBHOOK_URL", ""),
		WebhookSecret:  env.str("CATCHUP_WEBHOOK_SECRET", ""),
		WebhookTimeout: time.Duration(env.int("CATCHUP_WEBHOOK_TIMEOUT_SECONDS", 10)) * time.Second,

		NATSURL:        env.str("CATCHUP_NATS_URL", ""),
		NATSToken:      env.str("CATCHUP_NATS_TOKEN", ""),
		EventsRedis:    env.bool("CATCHUP_EVENTS_REDIS", false),
		HistoryEnabled: env.bool("CATCHUP_HISTORY_ENABLED", true),

		HistoryRetention: time.Duration(env.int("CATCHUP_HISTORY_RETENTION_DAYS", 30)) * 24 * time.Hour,
		ArchiveBackend:   strings.ToLower(env.str("CATCHUP_ARCHIVE_BACKEND", ArchiveNone)),
		ArchiveDir:       env.str("CATCHUP_ARCHIVE_DIR", "./data/archive"),

		S3AccessKeyID:     env.any([]string{"CATCHUP_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: env.any([]string{"CATCHUP_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          env.any([]string{"CATCHUP_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          env.any([]string{"CATCHUP_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        env.any([]string{"CATCHUP_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    env.bool("CATCHUP_S3_USE_PATH_STYLE", false),

		APIJWTSecret: env.str("CATCHUP_API_JWT_SECRET", ""),

		TracingEnabled:    env.bool("CATCHUP_TRACING_ENABLED", false),
		OTLPEndpoint:      env.str("CATCHUP_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: env.float("CATCHUP_TRACING_SAMPLE_RATE", 1.0),

		LeaderElectionEnabled: env.bool("CATCHUP_LEADER_ELECTION_ENABLED", false),
		RedisAddr:             env.str("CATCHUP_REDIS_ADDR", "localhost:6379"),
		RedisPassword:         env.str("CATCHUP_REDIS_PASSWORD", ""),
		RedisDB:               env.int("CATCHUP_REDIS_DB", 0),
		InstanceID:            env.str("CATCHUP_INSTANCE_ID", ""),

		ConfigFile: path,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option combinations that cannot work at runtime.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("CATCHUP_DB_DSN must be provided")
	}
	if c.HookName == "" {
		return fmt.Errorf("CATCHUP_HOOK_NAME must not be empty")
	}
	if c.CronSpec == "" && c.Interval <= 0 {
		return fmt.Errorf("CATCHUP_INTERVAL_SECONDS must be positive")
	}
	if c.CronSpec != "" {
		if _, err := cronParser.Parse(c.CronSpec); err != nil {
			return fmt.Errorf("invalid CATCHUP_CRON %q: %w", c.CronSpec, err)
		}
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("CATCHUP_CONCURRENCY must be at least 1")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("CATCHUP_MAX_ATTEMPTS must not be negative")
	}
	switch c.OverlapPolicy {
	case "skip", "queue":
	default:
		return fmt.Errorf("unsupported overlap policy %q", c.OverlapPolicy)
	}
	switch c.Source {
	case SourceDB:
	case SourceRedis:
		if c.Executor != ExecutorWebhook {
			return fmt.Errorf("CATCHUP_SOURCE=redis requires CATCHUP_EXECUTOR=webhook")
		}
	default:
		return fmt.Errorf("unsupported source %q", c.Source)
	}
	switch c.Executor {
	case ExecutorDB:
	case ExecutorWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("CATCHUP_WEBHOOK_URL is required for the webhook executor")
		}
	default:
		return fmt.Errorf("unsupported executor %q", c.Executor)
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("CATCHUP_HISTORY_RETENTION_DAYS must not be negative")
	}
	switch c.ArchiveBackend {
	case ArchiveNone:
	case ArchiveFilesystem:
		if c.ArchiveDir == "" {
			return fmt.Errorf("CATCHUP_ARCHIVE_DIR is required for the fs archive")
		}
	case ArchiveS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("CATCHUP_S3_BUCKET is required for the s3 archive")
		}
	default:
		return fmt.Errorf("unsupported archive backend %q", c.ArchiveBackend)
	}
	if strings.EqualFold(c.Environment, "production") {
		if c.Executor == ExecutorWebhook && c.WebhookSecret == "" {
			return fmt.Errorf("CATCHUP_WEBHOOK_SECRET must be set in production")
		}
		if c.APIJWTSecret == "" {
			return fmt.Errorf("CATCHUP_API_JWT_SECRET must be set in production")
		}
	}
	return nil
}

// NeedsRedis reports whether any enabled component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Source == SourceRedis || c.LeaderElectionEnabled || c.EventsRedis
}

func loadFileValues(path string) (map[string]string, string, error) {
	if path == "" {
		return nil, "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read config file: %w", err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, "", fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch tv := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(tv))
			for _, p := range tv {
				parts = append(parts, fmt.Sprint(p))
			}
			values[k] = strings.Join(parts, ",")
		default:
			values[k] = fmt.Sprint(tv)
		}
	}
	return values, path, nil
}

// envReader resolves keys from the environment first, then the config file.
type envReader struct {
	file map[string]string
}

func (r envReader) lookup(key string) (string, bool) {
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	if v, ok := r.file[key]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (r envReader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

// any returns the first key that is set, in order.
func (r envReader) any(keys []string, def string) string {
	for _, key := range keys {
		if v, ok := r.lookup(key); ok {
			return v
		}
	}
	return def
}

func (r envReader) int(key string, def int) int {
	if v, ok := r.lookup(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return parsed
		}
	}
	return def
}

func (r envReader) bool(key string, def bool) bool {
	if v, ok := r.lookup(key); ok {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func (r envReader) float(key string, def float64) float64 {
	if v, ok := r.lookup(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed
		}
	}
	return def
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
