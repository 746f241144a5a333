package storage

import (
	"log/slog"
	"time"

	"guacplayer/internal/observability/metrics"
)

const defaultQueryTimeout = 5 * time.Second

// PostgresConfig describes how the repository initialises its Postgres
// connection pool and bounds the statements it runs against the Guacamole
// schema.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	QueryTimeout        time.Duration
	ApplicationName     string
	Schema              string
	Logger              *slog.Logger
	Metrics             *metrics.Recorder
}

func newPostgresConfig(dsn string, opts ...Option) PostgresConfig {
	cfg := PostgresConfig{
		DSN:             dsn,
		QueryTimeout:    defaultQueryTimeout,
		ApplicationName: "guacplayer",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}
