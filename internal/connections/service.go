// Package connections implements the paginated connection catalogue and
// session history on top of the Guacamole repository.
package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"guacplayer/internal/models"
	"guacplayer/internal/observability/logging"
	"guacplayer/internal/storage"
)

const (
	// SearchScanLimit caps how many connections a search inspects.
	SearchScanLimit = 1000

	defaultEnrichConcurrency = 4
)

var ErrRepositoryRequired = errors.New("connections repository is required")

// ListResult is one page of connections. Query is set for searches.
type ListResult struct {
	Query       string
	Connections []models.Connection
	Pagination  Pagination
}

// HistoryResult is one page of sessions for a connection.
type HistoryResult struct {
	ConnectionID   int64
	ConnectionName string
	Entries        []models.HistoryEntry
	Pagination     Pagination
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnrichConcurrency bounds parallel parameter lookups per page.
func WithEnrichConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.enrichConcurrency = n
		}
	}
}

// WithSearchScanLimit overrides SearchScanLimit.
func WithSearchScanLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.scanLimit = n
		}
	}
}

// Service answers connection listing, search, detail and history requests.
type Service struct {
	repo              storage.Repository
	logger            *slog.Logger
	enrichConcurrency int
	scanLimit         int
}

func NewService(repo storage.Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	svc := &Service{
		repo:              repo,
		logger:            slog.Default(),
		enrichConcurrency: defaultEnrichConcurrency,
		scanLimit:         SearchScanLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	svc.logger = logging.WithComponent(svc.logger, "connections")
	return svc, nil
}

// List returns one page of connections ordered by name, each with its
// parameters attached.
func (s *Service) List(ctx context.Context, page Page) (ListResult, error) {
	conns, total, err := s.repo.ListConnections(ctx, page.Offset(), page.PerPage)
	if err != nil {
		return ListResult{}, fmt.Errorf("list connections: %w", err)
	}
	if conns == nil {
		conns = []models.Connection{}
	}
	if err := s.attachParameters(ctx, conns); err != nil {
		return ListResult{}, err
	}
	logging.WithContext(ctx, s.logger).Debug("listed connections", "page", page.Number, "per_page", page.PerPage, "total", total)
	return ListResult{Connections: conns, Pagination: page.Describe(total)}, nil
}

// Search filters the first SearchScanLimit connections by a case-insensitive
// substring of name or protocol and paginates the matches. A blank query is
// a plain List.
func (s *Service) Search(ctx context.Context, query string, page Page) (ListResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, page)
	}

	all, _, err := s.repo.ListConnections(ctx, 0, s.scanLimit)
	if err != nil {
		return ListResult{}, fmt.Errorf("scan connections: %w", err)
	}
	match := newMatcher(query)
	filtered := make([]models.Connection, 0, len(all))
	for _, conn := range all {
		if match(conn.Name) || match(conn.Protocol) {
			filtered = append(filtered, conn)
		}
	}

	result := ListResult{Query: query, Pagination: page.Describe(len(filtered))}
	start := page.Offset()
	if start >= len(filtered) {
		result.Connections = []models.Connection{}
		return result, nil
	}
	end := start + page.PerPage
	if end > len(filtered) {
		end = len(filtered)
	}
	result.Connections = filtered[start:end]
	if err := s.attachParameters(ctx, result.Connections); err != nil {
		return ListResult{}, err
	}
	logging.WithContext(ctx, s.logger).Debug("searched connections", "query", query, "matches", len(filtered))
	return result, nil
}

// Detail returns a connection with its parameters.
func (s *Service) Detail(ctx context.Context, id int64) (models.Connection, bool, error) {
	conn, found, err := s.repo.ConnectionByID(ctx, id)
	if err != nil {
		return models.Connection{}, false, fmt.Errorf("load connection %d: %w", id, err)
	}
	if !found {
		logging.WithContext(ctx, s.logger).Info("connection not found", "connection_id", id)
		return models.Connection{}, false, nil
	}
	params, err := s.repo.ConnectionParameters(ctx, id)
	if err != nil {
		return models.Connection{}, false, fmt.Errorf("load parameters for connection %d: %w", id, err)
	}
	conn.Parameters = orEmpty(params)
	return conn, true, nil
}

// History returns one page of a connection's sessions, newest first. An
// unknown connection reports found=false.
func (s *Service) History(ctx context.Context, id int64, page Page) (HistoryResult, bool, error) {
	conn, found, err := s.repo.ConnectionByID(ctx, id)
	if err != nil {
		return HistoryResult{}, false, fmt.Errorf("load connection %d: %w", id, err)
	}
	if !found {
		logging.WithContext(ctx, s.logger).Info("connection not found", "connection_id", id)
		return HistoryResult{}, false, nil
	}
	entries, total, err := s.repo.ConnectionHistory(ctx, id, page.Offset(), page.PerPage)
	if err != nil {
		return HistoryResult{}, false, fmt.Errorf("load history for connection %d: %w", id, err)
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return HistoryResult{
		ConnectionID:   conn.ID,
		ConnectionName: conn.Name,
		Entries:        entries,
		Pagination:     page.Describe(total),
	}, true, nil
}

func (s *Service) attachParameters(ctx context.Context, conns []models.Connection) error {
	if len(conns) == 0 {
		return nil
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.enrichConcurrency)
	for i := range conns {
		conn := &conns[i]
		group.Go(func() error {
			params, err := s.repo.ConnectionParameters(groupCtx, conn.ID)
			if err != nil {
				return fmt.Errorf("load parameters for connection %d: %w", conn.ID, err)
			}
			conn.Parameters = orEmpty(params)
			return nil
		})
	}
	return group.Wait()
}

// orEmpty keeps a connection without parameter rows encoding as {}.
func orEmpty(params map[string]string) map[string]string {
	if params == nil {
		return map[string]string{}
	}
	return params
}
