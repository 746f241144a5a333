// Package config assembles the guacplayer runtime configuration from
// built-in defaults, an optional YAML file, an optional .env file, the
// process environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig describes the Guacamole Postgres database. DSN wins over
// the individual connection fields when both are present.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslmode"`
	Schema          string        `yaml:"schema"`
	MaxConns        int           `yaml:"max_conns"`
	MinConns        int           `yaml:"min_conns"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	ApplicationName string        `yaml:"application_name"`
}

type RecordingsConfig struct {
	Path string `yaml:"path"`
	// CreateRoot creates Path on startup when it does not exist. Unset
	// means "only in development mode".
	CreateRoot    *bool `yaml:"create_root"`
	MetadataLimit int64 `yaml:"metadata_limit"`
}

type AuthConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
	Issuer string        `yaml:"issuer"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RateLimitConfig struct {
	GlobalRPS            float64       `yaml:"global_rps"`
	GlobalBurst          int           `yaml:"global_burst"`
	LoginLimit           int           `yaml:"login_limit"`
	LoginWindow          time.Duration `yaml:"login_window"`
	APIRequestsPerMinute int           `yaml:"api_requests_per_minute"`
	RedisAddr            string        `yaml:"redis_addr"`
	RedisPassword        string        `yaml:"redis_password"`
	RedisDB              int           `yaml:"redis_db"`
	RedisTimeout         time.Duration `yaml:"redis_timeout"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Config mirrors the guacplayer.yaml schema.
type Config struct {
	Mode              string           `yaml:"mode"`
	Addr              string           `yaml:"addr"`
	TLS               TLSConfig        `yaml:"tls"`
	WebRoot           string           `yaml:"web_root"`
	CORSOrigins       []string         `yaml:"cors_origins"`
	TrustForwardedFor bool             `yaml:"trust_forwarded_for"`
	ItemsPerPage      int              `yaml:"items_per_page"`
	ShutdownTimeout   time.Duration    `yaml:"shutdown_timeout"`
	Database          DatabaseConfig   `yaml:"database"`
	Recordings        RecordingsConfig `yaml:"recordings"`
	Auth              AuthConfig       `yaml:"auth"`
	Log               LogConfig        `yaml:"log"`
	RateLimit         RateLimitConfig  `yaml:"rate_limit"`
	Tracing           TracingConfig    `yaml:"tracing"`
}

// Default returns the configuration used when nothing else is supplied.
// The values match a stock Guacamole docker deployment.
func Default() Config {
	return Config{
		Mode:            ModeDevelopment,
		Addr:            ":5000",
		CORSOrigins:     []string{"http://localhost:3000"},
		ItemsPerPage:    20,
		ShutdownTimeout: 10 * time.Second,
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Name:           "guacamole",
			User:           "guacamole",
			Password:       "guacamole",
			SSLMode:        "disable",
			AcquireTimeout: 5 * time.Second,
			QueryTimeout:   5 * time.Second,
		},
		Recordings: RecordingsConfig{
			Path:          "/var/lib/guacamole/recordings",
			MetadataLimit: 1 << 20,
		},
		Auth: AuthConfig{
			TTL:    24 * time.Hour,
			Issuer: "guacplayer",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			LoginLimit:           10,
			LoginWindow:          time.Minute,
			APIRequestsPerMinute: 600,
			RedisTimeout:         2 * time.Second,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Production reports whether strict production checks apply.
func (c Config) Production() bool {
	return c.Mode == ModeProduction
}

// CreateRecordingsRoot resolves the tri-state create_root setting.
func (c Config) CreateRecordingsRoot() bool {
	if c.Recordings.CreateRoot != nil {
		return *c.Recordings.CreateRoot
	}
	return !c.Production()
}

// DatabaseDSN returns the explicit DSN or one assembled from the
// individual connection fields.
func (c Config) DatabaseDSN() string {
	if dsn := strings.TrimSpace(c.Database.DSN); dsn != "" {
		return dsn
	}
	db := c.Database
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(db.User, db.Password),
		Host:   net.JoinHostPort(db.Host, strconv.Itoa(db.Port)),
		Path:   "/" + db.Name,
	}
	if db.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{db.SSLMode}}.Encode()
	}
	return u.String()
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		errs = append(errs, fmt.Errorf("mode %q is invalid, expected %s or %s", c.Mode, ModeDevelopment, ModeProduction))
	}
	if err := validateAddr(c.Addr); err != nil {
		errs = append(errs, err)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		if strings.TrimSpace(c.Database.Host) == "" {
			errs = append(errs, errors.New("database.host is required"))
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Errorf("database.port %d is invalid", c.Database.Port))
		}
		if strings.TrimSpace(c.Database.Name) == "" {
			errs = append(errs, errors.New("database.name is required"))
		}
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 || (c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns) {
		errs = append(errs, errors.New("database pool limits are invalid"))
	}
	if strings.TrimSpace(c.Recordings.Path) == "" {
		errs = append(errs, errors.New("recordings.path is required"))
	}
	if c.Auth.TTL <= 0 {
		errs = append(errs, errors.New("auth.ttl must be positive"))
	}
	if c.Production() && strings.TrimSpace(c.Auth.Secret) == "" {
		errs = append(errs, errors.New("auth.secret is required in production mode"))
	}
	if c.ItemsPerPage < 1 || c.ItemsPerPage > 100 {
		errs = append(errs, fmt.Errorf("items_per_page %d is outside 1..100", c.ItemsPerPage))
	}
	if c.RateLimit.GlobalRPS < 0 || c.RateLimit.GlobalBurst < 0 || c.RateLimit.LoginLimit < 0 || c.RateLimit.APIRequestsPerMinute < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio %v is outside 0..1", c.Tracing.SampleRatio))
	}
	return errors.Join(errs...)
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return fmt.Errorf("addr %q is invalid: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("addr %q has an invalid port", addr)
	}
	return nil
}
