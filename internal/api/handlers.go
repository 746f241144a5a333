package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"guacplayer/internal/auth"
	"guacplayer/internal/connections"
	"guacplayer/internal/observability/logging"
	"guacplayer/internal/observability/metrics"
	"guacplayer/internal/recordings"
	"guacplayer/internal/storage"
)

const (
	serviceName    = "GuacPlayer Backend"
	defaultVersion = "1.0.0"
)

// HealthCheck is an additional dependency probed by the readiness endpoint.
type HealthCheck struct {
	Component string
	Ping      func(ctx context.Context) error
}

// Handler serves the REST API.
type Handler struct {
	Repo           storage.Repository
	Tokens         *auth.TokenManager
	Catalog        *connections.Service
	Recordings     *recordings.Store
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
	Version        string
	DefaultPerPage int
	Checks         []HealthCheck
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.Logger = logger
		}
	}
}

func WithMetrics(recorder *metrics.Recorder) Option {
	return func(h *Handler) {
		h.Metrics = recorder
	}
}

func WithVersion(version string) Option {
	return func(h *Handler) {
		if trimmed := strings.TrimSpace(version); trimmed != "" {
			h.Version = trimmed
		}
	}
}

// WithDefaultPerPage sets the page size used when a request omits or
// mangles per_page.
func WithDefaultPerPage(perPage int) Option {
	return func(h *Handler) {
		if perPage >= 1 && perPage <= connections.MaxPerPage {
			h.DefaultPerPage = perPage
		}
	}
}

// WithConnectionsService replaces the service built from the repository.
func WithConnectionsService(svc *connections.Service) Option {
	return func(h *Handler) {
		if svc != nil {
			h.Catalog = svc
		}
	}
}

// WithHealthCheck adds a component to the readiness report.
func WithHealthCheck(component string, ping func(context.Context) error) Option {
	return func(h *Handler) {
		if ping != nil && strings.TrimSpace(component) != "" {
			h.Checks = append(h.Checks, HealthCheck{Component: component, Ping: ping})
		}
	}
}

// NewHandler wires the handler dependencies. The repository, token manager
// and recordings store are required.
func NewHandler(repo storage.Repository, tokens *auth.TokenManager, store *recordings.Store, opts ...Option) (*Handler, error) {
	if repo == nil {
		return nil, errors.New("repository is required")
	}
	if tokens == nil {
		return nil, errors.New("token manager is required")
	}
	if store == nil {
		return nil, errors.New("recordings store is required")
	}
	h := &Handler{
		Repo:           repo,
		Tokens:         tokens,
		Recordings:     store,
		Logger:         slog.Default(),
		Version:        defaultVersion,
		DefaultPerPage: connections.DefaultPerPage,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.Logger = logging.WithComponent(h.Logger, "api")
	if h.Catalog == nil {
		svc, err := connections.NewService(repo, connections.WithLogger(h.Logger))
		if err != nil {
			return nil, err
		}
		h.Catalog = svc
	}
	return h, nil
}

func (h *Handler) logger(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), h.Logger)
}

// Health reports liveness without touching dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": h.Version,
	})
}

// Ready probes the database and any registered checks.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	components, status, code := h.componentHealth(r.Context())
	if code != http.StatusOK {
		h.logger(r).Warn("readiness degraded", "components", components)
	}
	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"service":    serviceName,
		"version":    h.Version,
		"components": components,
	})
}
