package storage

import (
	"log/slog"
	"strings"
	"time"

	"guacplayer/internal/observability/metrics"
)

type Option func(*PostgresConfig)

func WithPostgresPoolLimits(maxConns, minConns int32) Option {
	return func(cfg *PostgresConfig) {
		if maxConns > 0 {
			cfg.MaxConnections = maxConns
		}
		if minConns >= 0 {
			cfg.MinConnections = minConns
		}
	}
}

// WithPostgresAcquireTimeout bounds how long establishing a new pool
// connection may take.
func WithPostgresAcquireTimeout(timeout time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.AcquireTimeout = timeout
		}
	}
}

func WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if maxLifetime > 0 {
			cfg.MaxConnLifetime = maxLifetime
		}
		if maxIdle > 0 {
			cfg.MaxConnIdleTime = maxIdle
		}
		if healthInterval > 0 {
			cfg.HealthCheckInterval = healthInterval
		}
	}
}

func WithPostgresApplicationName(name string) Option {
	return func(cfg *PostgresConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.ApplicationName = trimmed
		}
	}
}

// WithPostgresSchema sets search_path for installations that keep the
// Guacamole tables outside the public schema.
func WithPostgresSchema(schema string) Option {
	return func(cfg *PostgresConfig) {
		cfg.Schema = strings.TrimSpace(schema)
	}
}

// WithQueryTimeout caps every statement issued by the repository.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(cfg *PostgresConfig) {
		if timeout > 0 {
			cfg.QueryTimeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cfg *PostgresConfig) {
		if logger != nil {
			cfg.Logger = logger
		}
	}
}

// WithMetrics counts failed statements per operation.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(cfg *PostgresConfig) {
		cfg.Metrics = recorder
	}
}
