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

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// RelayBackend selects how realtime events reach other instances.
type RelayBackend string

const (
	RelayRedis RelayBackend = "redis"
	RelayNATS  RelayBackend = "nats"
	RelayNone  RelayBackend = "none"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	JWTSigningKey string

	// Coordination store
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	InstanceID    string
	StoreTimeout  time.Duration

	// Room critical section
	LockLease          time.Duration
	LockAcquireTimeout time.Duration

	// Track timers
	TimerPollInterval time.Duration
	TimerLease        time.Duration
	TimerMaxAttempts  int
	TimerBackoffCap   time.Duration

	HistoryLimit int

	// Realtime relay between instances
	RelayBackend RelayBackend
	NATSURL      string

	// Content providers
	YouTubeAPIKey    string
	SoundCloudAPIKey string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// fileValues holds keys loaded from RIPPLE_CONFIG_FILE. Environment variables win.
var fileValues map[string]string

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	fileValues = nil
	if path := os.Getenv("RIPPLE_CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		fileValues = values
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"RIPPLE_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"RIPPLE_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"RIPPLE_HTTP_PORT", "PORT"}, 3000),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"RIPPLE_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:       getEnvAny([]string{"RIPPLE_DB_DSN", "DATABASE_URL"}, ""),

		JWTSigningKey: getEnvAny([]string{"RIPPLE_JWT_SIGNING_KEY"}, ""),

		RedisAddr:     getEnvAny([]string{"RIPPLE_REDIS_ADDR", "REDIS_HOST"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"RIPPLE_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"RIPPLE_REDIS_DB"}, 0),
		KeyPrefix:     getEnvAny([]string{"RIPPLE_KEY_PREFIX"}, "ripple"),
		InstanceID:    getEnvAny([]string{"RIPPLE_INSTANCE_ID"}, ""),
		StoreTimeout:  getEnvDurationAny([]string{"RIPPLE_STORE_TIMEOUT"}, 2*time.Second),

		LockLease:          getEnvDurationAny([]string{"RIPPLE_LOCK_LEASE"}, 10*time.Second),
		LockAcquireTimeout: getEnvDurationAny([]string{"RIPPLE_LOCK_ACQUIRE_TIMEOUT"}, 5*time.Second),

		TimerPollInterval: getEnvDurationAny([]string{"RIPPLE_TIMER_POLL_INTERVAL"}, 250*time.Millisecond),
		TimerLease:        getEnvDurationAny([]string{"RIPPLE_TIMER_LEASE"}, 30*time.Second),
		TimerMaxAttempts:  getEnvIntAny([]string{"RIPPLE_TIMER_MAX_ATTEMPTS"}, 5),
		TimerBackoffCap:   getEnvDurationAny([]string{"RIPPLE_TIMER_BACKOFF_CAP"}, 5*time.Minute),

		HistoryLimit: getEnvIntAny([]string{"RIPPLE_HISTORY_LIMIT"}, 50),

		RelayBackend: RelayBackend(getEnvAny([]string{"RIPPLE_RELAY_BACKEND"}, string(RelayRedis))),
		NATSURL:      getEnvAny([]string{"RIPPLE_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),

		YouTubeAPIKey:    getEnvAny([]string{"RIPPLE_YOUTUBE_API_KEY", "YOUTUBE_API_KEY"}, ""),
		SoundCloudAPIKey: getEnvAny([]string{"RIPPLE_SOUNDCLOUD_API_KEY", "SOUNDCLOUD_API_KEY"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"RIPPLE_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"RIPPLE_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"RIPPLE_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("RIPPLE_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("RIPPLE_JWT_SIGNING_KEY must be provided")
	}

	switch cfg.RelayBackend {
	case RelayRedis, RelayNATS, RelayNone:
	default:
		return nil, fmt.Errorf("unsupported relay backend %q", cfg.RelayBackend)
	}

	if cfg.TimerLease <= cfg.TimerPollInterval {
		return nil, fmt.Errorf("RIPPLE_TIMER_LEASE (%s) must exceed RIPPLE_TIMER_POLL_INTERVAL (%s)", cfg.TimerLease, cfg.TimerPollInterval)
	}

	// A transition makes several store round trips while holding the lease.
	if cfg.LockLease < 3*cfg.StoreTimeout {
		return nil, fmt.Errorf("RIPPLE_LOCK_LEASE (%s) must be at least three store timeouts (%s)", cfg.LockLease, 3*cfg.StoreTimeout)
	}

	if cfg.HistoryLimit <= 0 {
		return nil, fmt.Errorf("RIPPLE_HISTORY_LIMIT must be positive")
	}

	return cfg, nil
}

// readFile loads a flat YAML mapping of configuration keys to values.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

func lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fileValues[key]
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := lookup(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := lookup(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := lookup(k); v != "" {
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
		if v := lookup(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("250ms") or bare integers as milliseconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := lookup(k); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
			if ms, err := strconv.Atoi(v); err == nil {
				return time.Duration(ms) * time.Millisecond
			}
		}
	}
	return def
}
