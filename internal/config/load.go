package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envConfigFile = "GUACPLAYER_CONFIG"
	envEnvFile    = "GUACPLAYER_ENV_FILE"
	defaultEnv    = ".env"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Source lists the inputs Load reads. Zero values fall back to the
// process arguments and environment.
type Source struct {
	Args   []string
	Lookup LookupFunc
	Output io.Writer
}

// setting binds one configuration value to its flag and environment names.
// Env keys are tried in order and the first one present wins.
type setting struct {
	flag  string
	env   []string
	usage string
	apply func(c *Config, value string) error
}

var settings = []setting{
	{"mode", []string{"GUACPLAYER_MODE"}, "runtime mode (development or production)", str(func(c *Config) *string { return &c.Mode })},
	{"addr", []string{"GUACPLAYER_ADDR"}, "HTTP listen address", str(func(c *Config) *string { return &c.Addr })},
	{"tls-cert", []string{"GUACPLAYER_TLS_CERT"}, "path to TLS certificate file", str(func(c *Config) *string { return &c.TLS.CertFile })},
	{"tls-key", []string{"GUACPLAYER_TLS_KEY"}, "path to TLS private key file", str(func(c *Config) *string { return &c.TLS.KeyFile })},
	{"web-root", []string{"GUACPLAYER_WEB_ROOT"}, "directory with the built player frontend", str(func(c *Config) *string { return &c.WebRoot })},
	{"cors-origins", []string{"GUACPLAYER_CORS_ORIGINS", "CORS_ORIGINS"}, "comma separated allowed CORS origins", list(func(c *Config) *[]string { return &c.CORSOrigins })},
	{"trust-forwarded-for", []string{"GUACPLAYER_TRUST_FORWARDED_FOR"}, "trust X-Forwarded-For and X-Real-IP", boolean(func(c *Config) *bool { return &c.TrustForwardedFor })},
	{"items-per-page", []string{"GUACPLAYER_ITEMS_PER_PAGE", "ITEMS_PER_PAGE"}, "default page size for listings", integer(func(c *Config) *int { return &c.ItemsPerPage })},
	{"shutdown-timeout", []string{"GUACPLAYER_SHUTDOWN_TIMEOUT"}, "graceful shutdown budget", duration(func(c *Config) *time.Duration { return &c.ShutdownTimeout })},

	{"db-dsn", []string{"GUACPLAYER_DATABASE_URL", "DATABASE_URL"}, "Postgres connection string", str(func(c *Config) *string { return &c.Database.DSN })},
	{"db-host", []string{"GUACPLAYER_DB_HOST", "DB_HOST"}, "Postgres host", str(func(c *Config) *string { return &c.Database.Host })},
	{"db-port", []string{"GUACPLAYER_DB_PORT", "DB_PORT"}, "Postgres port", integer(func(c *Config) *int { return &c.Database.Port })},
	{"db-name", []string{"GUACPLAYER_DB_NAME", "DB_NAME"}, "Postgres database name", str(func(c *Config) *string { return &c.Database.Name })},
	{"db-user", []string{"GUACPLAYER_DB_USER", "DB_USER"}, "Postgres user", str(func(c *Config) *string { return &c.Database.User })},
	{"db-password", []string{"GUACPLAYER_DB_PASSWORD", "DB_PASSWORD"}, "Postgres password", str(func(c *Config) *string { return &c.Database.Password })},
	{"db-sslmode", []string{"GUACPLAYER_DB_SSLMODE"}, "Postgres sslmode", str(func(c *Config) *string { return &c.Database.SSLMode })},
	{"db-schema", []string{"GUACPLAYER_DB_SCHEMA"}, "schema holding the Guacamole tables", str(func(c *Config) *string { return &c.Database.Schema })},
	{"db-max-conns", []string{"GUACPLAYER_DB_MAX_CONNS"}, "maximum pooled connections", integer(func(c *Config) *int { return &c.Database.MaxConns })},
	{"db-min-conns", []string{"GUACPLAYER_DB_MIN_CONNS"}, "minimum idle pooled connections", integer(func(c *Config) *int { return &c.Database.MinConns })},
	{"db-acquire-timeout", []string{"GUACPLAYER_DB_ACQUIRE_TIMEOUT"}, "timeout for opening a pooled connection", duration(func(c *Config) *time.Duration { return &c.Database.AcquireTimeout })},
	{"db-query-timeout", []string{"GUACPLAYER_DB_QUERY_TIMEOUT"}, "per-statement timeout", duration(func(c *Config) *time.Duration { return &c.Database.QueryTimeout })},
	{"db-app-name", []string{"GUACPLAYER_DB_APP_NAME"}, "application_name reported to Postgres", str(func(c *Config) *string { return &c.Database.ApplicationName })},

	{"recordings-path", []string{"GUACPLAYER_RECORDINGS_PATH", "NFS_MOUNT_PATH"}, "root of the recordings tree", str(func(c *Config) *string { return &c.Recordings.Path })},
	{"recordings-create-root", []string{"GUACPLAYER_RECORDINGS_CREATE_ROOT"}, "create the recordings root when missing", func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		c.Recordings.CreateRoot = &b
		return nil
	}},
	{"recordings-metadata-limit", []string{"GUACPLAYER_RECORDINGS_METADATA_LIMIT"}, "maximum metadata.json size in bytes", func(c *Config, v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		c.Recordings.MetadataLimit = n
		return nil
	}},

	{"", []string{"JWT_EXPIRATION_HOURS"}, "", func(c *Config, v string) error {
		hours, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		c.Auth.TTL = time.Duration(hours) * time.Hour
		return nil
	}},
	{"jwt-secret", []string{"GUACPLAYER_JWT_SECRET", "JWT_SECRET_KEY"}, "token signing secret", str(func(c *Config) *string { return &c.Auth.Secret })},
	{"jwt-ttl", []string{"GUACPLAYER_JWT_TTL"}, "token lifetime", duration(func(c *Config) *time.Duration { return &c.Auth.TTL })},
	{"jwt-issuer", []string{"GUACPLAYER_JWT_ISSUER"}, "token issuer claim", str(func(c *Config) *string { return &c.Auth.Issuer })},

	{"log-level", []string{"GUACPLAYER_LOG_LEVEL", "LOG_LEVEL"}, "log level (debug, info, warn, error)", str(func(c *Config) *string { return &c.Log.Level })},
	{"log-format", []string{"GUACPLAYER_LOG_FORMAT"}, "log format (json or text)", str(func(c *Config) *string { return &c.Log.Format })},

	{"rate-global-rps", []string{"GUACPLAYER_RATE_GLOBAL_RPS"}, "global request rate in requests per second", float(func(c *Config) *float64 { return &c.RateLimit.GlobalRPS })},
	{"rate-global-burst", []string{"GUACPLAYER_RATE_GLOBAL_BURST"}, "global rate limit burst", integer(func(c *Config) *int { return &c.RateLimit.GlobalBurst })},
	{"rate-login-limit", []string{"GUACPLAYER_RATE_LOGIN_LIMIT"}, "login attempts per window and client", integer(func(c *Config) *int { return &c.RateLimit.LoginLimit })},
	{"rate-login-window", []string{"GUACPLAYER_RATE_LOGIN_WINDOW"}, "login throttle window", duration(func(c *Config) *time.Duration { return &c.RateLimit.LoginWindow })},
	{"rate-api-per-minute", []string{"GUACPLAYER_RATE_API_PER_MINUTE"}, "authenticated API requests per minute and client", integer(func(c *Config) *int { return &c.RateLimit.APIRequestsPerMinute })},
	{"rate-redis-addr", []string{"GUACPLAYER_RATE_REDIS_ADDR"}, "Redis address for distributed login throttling", str(func(c *Config) *string { return &c.RateLimit.RedisAddr })},
	{"rate-redis-password", []string{"GUACPLAYER_RATE_REDIS_PASSWORD"}, "Redis password", str(func(c *Config) *string { return &c.RateLimit.RedisPassword })},
	{"rate-redis-db", []string{"GUACPLAYER_RATE_REDIS_DB"}, "Redis database index", integer(func(c *Config) *int { return &c.RateLimit.RedisDB })},
	{"rate-redis-timeout", []string{"GUACPLAYER_RATE_REDIS_TIMEOUT"}, "timeout for Redis operations", duration(func(c *Config) *time.Duration { return &c.RateLimit.RedisTimeout })},

	{"otel-endpoint", []string{"GUACPLAYER_OTEL_ENDPOINT"}, "OTLP/HTTP collector address", str(func(c *Config) *string { return &c.Tracing.Endpoint })},
	{"otel-insecure", []string{"GUACPLAYER_OTEL_INSECURE"}, "send traces without TLS", boolean(func(c *Config) *bool { return &c.Tracing.Insecure })},
	{"otel-sample-ratio", []string{"GUACPLAYER_OTEL_SAMPLE_RATIO"}, "fraction of requests traced", float(func(c *Config) *float64 { return &c.Tracing.SampleRatio })},
}

var boolFlags = map[string]bool{
	"trust-forwarded-for":    true,
	"recordings-create-root": true,
	"otel-insecure":          true,
}

// Load resolves the configuration and validates the result. A -h flag
// yields flag.ErrHelp.
func Load(src Source) (Config, error) {
	lookup := src.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	output := src.Output
	if output == nil {
		output = os.Stderr
	}
	args := src.Args
	if args == nil {
		args = os.Args[1:]
	}

	flags := flag.NewFlagSet("guacplayer", flag.ContinueOnError)
	flags.SetOutput(output)
	configPath := flags.String("config", "", "path to a YAML configuration file (env "+envConfigFile+")")
	envPath := flags.String("env-file", "", "path to a .env file (env "+envEnvFile+", default "+defaultEnv+" when present)")
	flagged := make(map[string]string)
	for _, s := range settings {
		if s.flag == "" {
			continue
		}
		name := s.flag
		usage := s.usage
		if len(s.env) > 0 {
			usage += " (env " + s.env[0] + ")"
		}
		record := func(v string) error {
			flagged[name] = v
			return nil
		}
		if boolFlags[name] {
			flags.BoolFunc(name, usage, record)
		} else {
			flags.Func(name, usage, record)
		}
	}
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}
	if flags.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(flags.Args(), " "))
	}

	dotenv, err := readDotenv(*envPath, lookup)
	if err != nil {
		return Config{}, err
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	cfg := Default()
	path := strings.TrimSpace(*configPath)
	if path == "" {
		path, _ = env(envConfigFile)
		path = strings.TrimSpace(path)
	}
	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	for _, s := range settings {
		for _, key := range s.env {
			v, ok := env(key)
			if !ok {
				continue
			}
			if err := s.apply(&cfg, v); err != nil {
				return Config{}, fmt.Errorf("env %s: %w", key, err)
			}
			break
		}
	}
	for _, s := range settings {
		v, ok := flagged[s.flag]
		if !ok || s.flag == "" {
			continue
		}
		if err := s.apply(&cfg, v); err != nil {
			return Config{}, fmt.Errorf("flag -%s: %w", s.flag, err)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readDotenv parses the .env file without touching the process
// environment. A missing default file is not an error.
func readDotenv(path string, lookup LookupFunc) (map[string]string, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		if v, ok := lookup(envEnvFile); ok && strings.TrimSpace(v) != "" {
			path, explicit = strings.TrimSpace(v), true
		} else {
			path = defaultEnv
		}
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return values, nil
}

// mergeFile overlays the YAML document at path onto cfg. Unknown keys are
// rejected so typos surface at startup.
func mergeFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.Addr = strings.TrimSpace(c.Addr)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Recordings.Path = strings.TrimSpace(c.Recordings.Path)
	c.WebRoot = strings.TrimSpace(c.WebRoot)
	origins := make([]string, 0, len(c.CORSOrigins))
	for _, origin := range c.CORSOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.CORSOrigins = origins
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = strings.TrimSpace(v)
		return nil
	}
}

func list(field func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = strings.Split(v, ",")
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func float(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
