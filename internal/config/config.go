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
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// FanoutBackend selects how room batches reach other relay instances.
type FanoutBackend string

const (
	FanoutNone  FanoutBackend = "none"
	FanoutRedis FanoutBackend = "redis"
	FanoutNATS  FanoutBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	MediaRoot   string
	CatalogURL  string // Base URL for asset_id lookups against an HTTP catalog
	LayoutFile  string // Optional YAML channel layout; built-in layout when empty
	MetricsBind string

	JWTSigningKey string

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	Fanout        FanoutBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	InstanceID    string

	// Mixer timing
	HandoffDelay   time.Duration
	PendingTimeout time.Duration
	DefaultFade    time.Duration
	FrameInterval  time.Duration
	SampleRate     int

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"TABLEMIX_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"TABLEMIX_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"TABLEMIX_HTTP_PORT"}, 8080),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"TABLEMIX_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"TABLEMIX_DB_DSN"}, "tablemix.db"),
		MediaRoot:   getEnvAny([]string{"TABLEMIX_MEDIA_ROOT"}, "./media"),
		CatalogURL:  getEnvAny([]string{"TABLEMIX_CATALOG_URL"}, ""),
		LayoutFile:  getEnvAny([]string{"TABLEMIX_LAYOUT_FILE"}, ""),
		MetricsBind: getEnvAny([]string{"TABLEMIX_METRICS_BIND"}, "127.0.0.1:9000"),

		JWTSigningKey: getEnvAny([]string{"TABLEMIX_JWT_SIGNING_KEY"}, ""),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"TABLEMIX_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"TABLEMIX_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"TABLEMIX_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"TABLEMIX_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"TABLEMIX_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"TABLEMIX_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"TABLEMIX_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"TABLEMIX_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"TABLEMIX_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		Fanout:        FanoutBackend(strings.ToLower(getEnvAny([]string{"TABLEMIX_FANOUT"}, string(FanoutNone)))),
		RedisAddr:     getEnvAny([]string{"TABLEMIX_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"TABLEMIX_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"TABLEMIX_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"TABLEMIX_NATS_URL"}, "nats://127.0.0.1:4222"),
		InstanceID:    getEnvAny([]string{"TABLEMIX_INSTANCE_ID"}, ""),

		// Mixer timing
		HandoffDelay:   getEnvMillisAny([]string{"TABLEMIX_HANDOFF_DELAY_MS"}, 120*time.Millisecond),
		PendingTimeout: getEnvMillisAny([]string{"TABLEMIX_PENDING_TIMEOUT_MS"}, 5*time.Second),
		DefaultFade:    getEnvMillisAny([]string{"TABLEMIX_DEFAULT_FADE_MS"}, 2*time.Second),
		FrameInterval:  getEnvMillisAny([]string{"TABLEMIX_FRAME_INTERVAL_MS"}, 16*time.Millisecond),
		SampleRate:     getEnvIntAny([]string{"TABLEMIX_SAMPLE_RATE"}, 44100),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks option combinations Load cannot default away.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("TABLEMIX_DB_DSN must be provided")
	}

	switch c.Fanout {
	case FanoutNone, FanoutRedis, FanoutNATS:
	default:
		return fmt.Errorf("unsupported fanout backend %q", c.Fanout)
	}

	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("TABLEMIX_SAMPLE_RATE %d out of range", c.SampleRate)
	}
	if c.FrameInterval <= 0 || c.PendingTimeout <= 0 || c.HandoffDelay < 0 || c.DefaultFade < 0 {
		return fmt.Errorf("mixer timings must be positive")
	}

	if strings.EqualFold(c.Environment, "production") {
		if c.JWTSigningKey == "" {
			return fmt.Errorf("TABLEMIX_JWT_SIGNING_KEY must be provided in production")
		}
		if len(c.JWTSigningKey) < 32 {
			return fmt.Errorf("TABLEMIX_JWT_SIGNING_KEY must be at least 32 bytes in production")
		}
	}
	return nil
}

// HTTPAddr returns the relay listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"JWT_SIGNING_KEY":     "use TABLEMIX_JWT_SIGNING_KEY",
		"TRACING_ENABLED":     "use TABLEMIX_TRACING_ENABLED",
		"OTLP_ENDPOINT":       "use TABLEMIX_OTLP_ENDPOINT",
		"TRACING_SAMPLE_RATE": "use TABLEMIX_TRACING_SAMPLE_RATE",
		"REDIS_ADDR":          "use TABLEMIX_REDIS_ADDR",
		"NATS_URL":            "use TABLEMIX_NATS_URL",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("unprefixed env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvMillisAny reads a millisecond count and returns it as a duration.
func getEnvMillisAny(keys []string, def time.Duration) time.Duration {
	ms := getEnvIntAny(keys, -1)
	if ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
