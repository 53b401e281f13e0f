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

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	LogLevel    string // Empty keeps the environment default (debug in development)
	LogFormat   string // console or json

	// Queue files
	QueueFile      string // One media descriptor path per line, consumed from the top
	DeadLetterFile string // Items that could not be scheduled are appended here

	// Schedule store
	DBBackend          DatabaseBackend
	DBDSN              string
	DBTable            string
	StoreTimeout       time.Duration // Bound on a single connect/query/insert attempt
	StoreRetryAttempts int
	StoreRetryBackoff  time.Duration

	// Poller
	PollInterval     time.Duration // Upper bound on idle latency when the queue is empty
	Channel          int           // Value written to the channel column of every record
	DurationElement  string        // Restrict duration lookup to elements with this local name (empty = any)
	FallbackEncoding string        // Used when charset detection fails
	Timezone         string        // Location used to read and write start_date/start_time
	Location         *time.Location

	// HTTP (health, metrics, producer API)
	HTTPEnabled bool
	HTTPBind    string
	HTTPPort    int

	// Producer API authentication; empty leaves the API open
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

	// Event publishing
	NATSURL           string // Empty disables NATS publishing
	NATSSubjectPrefix string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:    getEnvAny([]string{"PLAYOUT_ENV"}, "development"),
		LogLevel:       getEnvAny([]string{"PLAYOUT_LOG_LEVEL"}, ""),
		LogFormat:      getEnvAny([]string{"PLAYOUT_LOG_FORMAT"}, "console"),
		QueueFile:      getEnvAny([]string{"PLAYOUT_QUEUE_FILE", "NOTEPAD_FILE"}, "playitems.txt"),
		DeadLetterFile: getEnvAny([]string{"PLAYOUT_DEADLETTER_FILE"}, ""),

		DBBackend:          DatabaseBackend(getEnvAny([]string{"PLAYOUT_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:              getEnvAny([]string{"PLAYOUT_DB_DSN"}, ""),
		DBTable:            getEnvAny([]string{"PLAYOUT_DB_TABLE"}, "schedule"),
		StoreTimeout:       time.Duration(getEnvIntAny([]string{"PLAYOUT_STORE_TIMEOUT_MS"}, 5000)) * time.Millisecond,
		StoreRetryAttempts: getEnvIntAny([]string{"PLAYOUT_STORE_RETRY_ATTEMPTS"}, 5),
		StoreRetryBackoff:  time.Duration(getEnvIntAny([]string{"PLAYOUT_STORE_RETRY_BACKOFF_MS"}, 500)) * time.Millisecond,

		PollInterval:     time.Duration(getEnvIntAny([]string{"PLAYOUT_POLL_INTERVAL_SECONDS"}, 10)) * time.Second,
		Channel:          getEnvIntAny([]string{"PLAYOUT_CHANNEL"}, 1),
		DurationElement:  getEnvAny([]string{"PLAYOUT_DURATION_ELEMENT"}, ""),
		FallbackEncoding: getEnvAny([]string{"PLAYOUT_FALLBACK_ENCODING"}, "utf-8"),
		Timezone:         getEnvAny([]string{"PLAYOUT_TIMEZONE"}, "Local"),

		HTTPEnabled: getEnvBoolAny([]string{"PLAYOUT_HTTP_ENABLED"}, true),
		HTTPBind:    getEnvAny([]string{"PLAYOUT_HTTP_BIND"}, "127.0.0.1"),
		HTTPPort:    getEnvIntAny([]string{"PLAYOUT_HTTP_PORT"}, 9090),

		APIJWTSecret: getEnvAny([]string{"PLAYOUT_API_JWT_SECRET"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"PLAYOUT_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"PLAYOUT_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"PLAYOUT_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"PLAYOUT_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"PLAYOUT_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"PLAYOUT_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"PLAYOUT_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"PLAYOUT_INSTANCE_ID"}, ""),

		NATSURL:           getEnvAny([]string{"PLAYOUT_NATS_URL"}, ""),
		NATSSubjectPrefix: getEnvAny([]string{"PLAYOUT_NATS_SUBJECT_PREFIX"}, "playout"),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("PLAYOUT_LOG_FORMAT must be console or json, got %q", cfg.LogFormat)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("PLAYOUT_DB_DSN must be provided")
	}

	if strings.TrimSpace(cfg.QueueFile) == "" {
		return nil, fmt.Errorf("PLAYOUT_QUEUE_FILE must not be empty")
	}
	if cfg.DeadLetterFile == "" {
		cfg.DeadLetterFile = cfg.QueueFile + ".failed"
	}
	if cfg.DeadLetterFile == cfg.QueueFile {
		return nil, fmt.Errorf("PLAYOUT_DEADLETTER_FILE must differ from the queue file")
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("PLAYOUT_POLL_INTERVAL_SECONDS must be positive")
	}
	if cfg.StoreTimeout <= 0 {
		return nil, fmt.Errorf("PLAYOUT_STORE_TIMEOUT_MS must be positive")
	}
	if cfg.StoreRetryAttempts < 1 {
		cfg.StoreRetryAttempts = 1
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("PLAYOUT_REDIS_ADDR is required when leader election is enabled")
	}

	if cfg.APIJWTSecret != "" && len(cfg.APIJWTSecret) < 16 {
		return nil, fmt.Errorf("PLAYOUT_API_JWT_SECRET must be at least 16 characters")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"NOTEPAD_FILE": "use PLAYOUT_QUEUE_FILE",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the listen address for the HTTP server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
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
