package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"guacplayer/internal/api"
	"guacplayer/internal/observability/logging"
	"guacplayer/internal/observability/metrics"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Enabled reports whether both halves of the key pair are configured.
func (c TLSConfig) Enabled() bool {
	return strings.TrimSpace(c.CertFile) != "" && strings.TrimSpace(c.KeyFile) != ""
}

type Config struct {
	Addr      string
	TLS       TLSConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Security  SecurityConfig

	// TrustForwardedFor honours X-Forwarded-For and X-Real-IP when resolving
	// the client address. Enable only behind a reverse proxy.
	TrustForwardedFor bool

	// WebRoot, when set, is a built frontend served for non-API paths.
	WebRoot string

	// Tracing wraps the router with OpenTelemetry spans named after the
	// matched chi route.
	Tracing     bool
	ServiceName string

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

type Server struct {
	httpServer  *http.Server
	router      chi.Router
	logger      *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tls         TLSConfig
}

func New(handler *api.Handler, cfg Config) (*Server, error) {
	if handler == nil {
		return nil, errors.New("api handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "server")
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	if (strings.TrimSpace(cfg.TLS.CertFile) == "") != (strings.TrimSpace(cfg.TLS.KeyFile) == "") {
		return nil, errors.New("both TLS cert file and key file must be provided")
	}

	policy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, err
	}
	rl, err := newRateLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	if rl.Distributed() {
		handler.Checks = append(handler.Checks, api.HealthCheck{Component: "login_throttle", Ping: rl.Ping})
	}

	var spa http.Handler
	if root := strings.TrimSpace(cfg.WebRoot); root != "" {
		if spa, err = newSPAHandler(root); err != nil {
			_ = rl.Close()
			return nil, err
		}
	}

	resolver := clientIPResolver{trustForwarded: cfg.TrustForwardedFor}
	router := newRouter(handler, routerConfig{
		logger:   logger,
		metrics:  recorder,
		limiter:  rl,
		resolver: resolver,
		cors:     policy,
		security: cfg.Security,
		apiLimit: cfg.RateLimit.APIRequestsPerMinute,
		spa:      spa,
	})

	var root http.Handler = router
	if cfg.Tracing {
		service := strings.TrimSpace(cfg.ServiceName)
		if service == "" {
			service = "guacplayer"
		}
		root = otelhttp.NewHandler(router, service,
			otelhttp.WithFilter(shouldTrace),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method
			}),
		)
	}

	// WriteTimeout stays unset: recordings stream for as long as the player
	// keeps reading.
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	if cfg.TLS.Enabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{
		httpServer:  httpServer,
		router:      router,
		logger:      logger,
		metrics:     recorder,
		rateLimiter: rl,
		tls:         cfg.TLS,
	}, nil
}

// Handler is the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// HTTPServer exposes the configured server for serverutil.Run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

func (s *Server) TLS() TLSConfig {
	return s.tls
}

// Close releases the login throttle store.
func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	return s.rateLimiter.Close()
}

type routerConfig struct {
	logger   *slog.Logger
	metrics  *metrics.Recorder
	limiter  *rateLimiter
	resolver clientIPResolver
	cors     corsPolicy
	security SecurityConfig
	apiLimit int
	spa      http.Handler
}

func newRouter(h *api.Handler, cfg routerConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(recoverMiddleware(cfg.logger, cfg.resolver))
	r.Use(requestIDMiddleware(cfg.logger))
	r.Use(routeSpanName)
	r.Use(metrics.HTTPMiddleware(cfg.metrics))
	r.Use(logging.RequestLogger(logging.RequestLoggerConfig{
		Logger:            cfg.logger,
		DisableRemoteAddr: true,
		SkipPaths:         []string{"/metrics", "/api/health"},
		AdditionalFields: func(r *http.Request, _ int, _ time.Duration) []any {
			ip, source := cfg.resolver.resolve(r)
			return []any{"remote_ip", ip, "ip_source", source}
		},
	}))
	r.Use(securityHeadersMiddleware(cfg.security))
	r.Use(corsMiddleware(cfg.cors, cfg.logger))
	r.Use(globalRateLimitMiddleware(cfg.limiter, cfg.metrics))
	r.Use(middleware.GetHead)

	if cfg.spa != nil {
		r.NotFound(cfg.spa.ServeHTTP)
	} else {
		r.NotFound(notFoundHandler)
	}
	r.MethodNotAllowed(methodNotAllowedHandler)

	r.Method(http.MethodGet, "/metrics", cfg.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.NotFound(notFoundHandler)
		r.MethodNotAllowed(methodNotAllowedHandler)

		r.Get("/health", h.Health)
		r.Get("/health/ready", h.Ready)

		r.With(loginThrottleMiddleware(cfg.limiter, cfg.resolver, cfg.logger, cfg.metrics)).
			Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(apiRateLimitMiddleware(cfg.apiLimit, cfg.resolver, cfg.metrics))

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware(h, false))
				r.Get("/auth/verify", h.Verify)
				r.Get("/auth/logout", h.Logout)
				r.Post("/auth/logout", h.Logout)

				r.Get("/connections", h.Connections)
				r.Get("/connections/{id}", h.ConnectionByID)
				r.Get("/connections/{id}/history", h.ConnectionHistory)

				r.Get("/recordings/{uuid}", h.RecordingInfo)
				r.Get("/recordings/{uuid}/files", h.RecordingFiles)
			})

			// Media elements cannot send headers, so these accept ?token=.
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware(h, true))
				r.Get("/recordings/{uuid}/stream", h.RecordingStream)
				r.Get("/recordings/{uuid}/download", h.RecordingDownload)
			})
		})
	})
	return r
}

// authMiddleware rejects requests without a valid credential and attaches
// the caller to the request context and logger.
func authMiddleware(h *api.Handler, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := h.Authenticate(r, allowQuery)
			if err != nil {
				api.WriteRequestError(w, api.CredentialError(err))
				return
			}
			ctx := api.ContextWithIdentity(r.Context(), identity)
			ctx = logging.ContextWithUserID(ctx, identity.UserID)
			if logger := logging.LoggerFromContext(ctx); logger != nil {
				ctx = logging.ContextWithLogger(ctx, logger.With("user_id", identity.UserID))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// routeSpanName renames the active span once routing has resolved the
// pattern; before that only the raw path is known.
func routeSpanName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetName(fmt.Sprintf("%s %s", r.Method, pattern))
			}
		}
	})
}

func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/metrics", "/api/health", "/api/health/ready":
		return false
	}
	return true
}
