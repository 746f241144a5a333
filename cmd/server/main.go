// Command server starts the guacplayer API over a Guacamole database and
// its recordings tree.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guacplayer/internal/api"
	"guacplayer/internal/auth"
	"guacplayer/internal/config"
	"guacplayer/internal/observability/logging"
	"guacplayer/internal/observability/metrics"
	"guacplayer/internal/observability/tracing"
	"guacplayer/internal/recordings"
	"guacplayer/internal/server"
	"guacplayer/internal/serverutil"
	"guacplayer/internal/storage"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

const startupPingTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, runOptions{Args: os.Args[1:], Lookup: os.LookupEnv, Output: os.Stdout})
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "guacplayer: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	Args   []string
	Lookup config.LookupFunc
	Output io.Writer

	// Listener and Ready let tests drive the server on an ephemeral port.
	Listener net.Listener
	Ready    chan<- struct{}
}

func run(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(config.Source{Args: opts.Args, Lookup: opts.Lookup, Output: opts.Output})
	if err != nil {
		return err
	}

	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: opts.Output})
	recorder := metrics.New()

	tp, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		ServiceName:    "guacplayer",
		ServiceVersion: version,
		Environment:    cfg.Mode,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("configure tracing: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	secret, err := signingSecret(cfg, logger)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenManager(secret, auth.WithTTL(cfg.Auth.TTL), auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return fmt.Errorf("configure tokens: %w", err)
	}

	store, err := recordings.NewStore(cfg.Recordings.Path,
		recordings.WithLogger(logger),
		recordings.WithCreateRoot(cfg.CreateRecordingsRoot()),
		recordings.WithMetadataLimit(cfg.Recordings.MetadataLimit),
	)
	if err != nil {
		return fmt.Errorf("open recordings: %w", err)
	}

	repo, err := storage.NewPostgresRepository(ctx, cfg.DatabaseDSN(), storageOptions(cfg, logger, recorder)...)
	if err != nil {
		return fmt.Errorf("open datastore: %w", err)
	}
	defer func() {
		if err := repo.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}()
	pingDatastore(ctx, repo, logger)

	handler, err := api.NewHandler(repo, tokens, store,
		api.WithLogger(logger),
		api.WithMetrics(recorder),
		api.WithVersion(version),
		api.WithDefaultPerPage(cfg.ItemsPerPage),
	)
	if err != nil {
		return fmt.Errorf("initialise handlers: %w", err)
	}

	srv, err := server.New(handler, serverConfig(cfg, logger, recorder))
	if err != nil {
		return fmt.Errorf("initialise server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warn("failed to release server resources", "error", err)
		}
	}()

	tlsCfg := srv.TLS()
	logger.Info("guacplayer starting",
		"version", version,
		"mode", cfg.Mode,
		"recordings", cfg.Recordings.Path,
		"tracing", cfg.Tracing.Endpoint != "",
	)
	err = serverutil.Run(ctx, serverutil.Config{
		Server:          srv.HTTPServer(),
		TLS:             serverutil.TLSConfig{CertFile: tlsCfg.CertFile, KeyFile: tlsCfg.KeyFile},
		Listener:        opts.Listener,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Ready:           opts.Ready,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// signingSecret returns the configured token secret. Development
// instances without one get a random secret, so tokens do not survive a
// restart.
func signingSecret(cfg config.Config, logger *slog.Logger) (string, error) {
	if cfg.Auth.Secret != "" {
		return cfg.Auth.Secret, nil
	}
	if cfg.Production() {
		return "", auth.ErrMissingSecret
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate signing secret: %w", err)
	}
	logger.Warn("no token secret configured; using an ephemeral secret")
	return hex.EncodeToString(buf), nil
}

func storageOptions(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) []storage.Option {
	db := cfg.Database
	options := []storage.Option{
		storage.WithLogger(logger),
		storage.WithMetrics(recorder),
		storage.WithQueryTimeout(db.QueryTimeout),
		storage.WithPostgresAcquireTimeout(db.AcquireTimeout),
	}
	if db.MaxConns > 0 || db.MinConns > 0 {
		options = append(options, storage.WithPostgresPoolLimits(int32(db.MaxConns), int32(db.MinConns)))
	}
	if db.ApplicationName != "" {
		options = append(options, storage.WithPostgresApplicationName(db.ApplicationName))
	}
	if db.Schema != "" {
		options = append(options, storage.WithPostgresSchema(db.Schema))
	}
	return options
}

// pingDatastore logs whether the database answers. An unreachable database
// does not stop startup; readiness reports it until it recovers.
func pingDatastore(ctx context.Context, repo storage.Repository, logger *slog.Logger) {
	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()
	if err := repo.Ping(pingCtx); err != nil {
		logger.Warn("database unreachable at startup", "error", err)
		return
	}
	logger.Info("database reachable")
}

func serverConfig(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) server.Config {
	rl := cfg.RateLimit
	return server.Config{
		Addr: cfg.Addr,
		TLS: server.TLSConfig{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:            rl.GlobalRPS,
			GlobalBurst:          rl.GlobalBurst,
			LoginLimit:           rl.LoginLimit,
			LoginWindow:          rl.LoginWindow,
			APIRequestsPerMinute: rl.APIRequestsPerMinute,
			RedisAddr:            rl.RedisAddr,
			RedisPassword:        rl.RedisPassword,
			RedisDB:              rl.RedisDB,
			RedisTimeout:         rl.RedisTimeout,
		},
		CORS:              server.CORSConfig{Origins: cfg.CORSOrigins},
		TrustForwardedFor: cfg.TrustForwardedFor,
		WebRoot:           cfg.WebRoot,
		Tracing:           cfg.Tracing.Endpoint != "",
		ServiceName:       "guacplayer",
		Logger:            logger,
		Metrics:           recorder,
	}
}
