package testsupport

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"guacplayer/internal/auth"
	"guacplayer/internal/models"
	"guacplayer/internal/storage"
)

// RepositoryStub is an in-memory storage.Repository intended for tests. It
// mimics the ordering of the Postgres queries and lets tests inject
// failures per operation.
type RepositoryStub struct {
	mu          sync.RWMutex
	users       map[int64]models.User
	connections map[int64]models.Connection
	parameters  map[int64]map[string]string
	history     map[int64][]models.HistoryEntry
	failures    map[string]error

	parameterCalls atomic.Int64
	closed         atomic.Bool
}

// NewRepositoryStub constructs a RepositoryStub with empty state.
func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		users:       make(map[int64]models.User),
		connections: make(map[int64]models.Connection),
		parameters:  make(map[int64]map[string]string),
		history:     make(map[int64][]models.HistoryEntry),
		failures:    make(map[string]error),
	}
}

// SeedUser stores a user whose password hashes with the Guacamole scheme.
func (s *RepositoryStub) SeedUser(id int64, username, password string, disabled bool) models.User {
	salt := []byte("0123456789abcdef0123456789abcdef")
	user := models.User{
		ID:           id,
		Username:     username,
		PasswordHash: auth.HashSecret(password, salt),
		PasswordSalt: salt,
		Disabled:     disabled,
	}
	s.mu.Lock()
	s.users[id] = user
	s.mu.Unlock()
	return user
}

// SeedConnection stores a connection and its parameters.
func (s *RepositoryStub) SeedConnection(conn models.Connection, params map[string]string) {
	s.mu.Lock()
	conn.Parameters = nil
	s.connections[conn.ID] = conn
	if params != nil {
		copied := make(map[string]string, len(params))
		for k, v := range params {
			copied[k] = v
		}
		s.parameters[conn.ID] = copied
	}
	s.mu.Unlock()
}

// SeedHistory appends history entries for their connection.
func (s *RepositoryStub) SeedHistory(entries ...models.HistoryEntry) {
	s.mu.Lock()
	for _, entry := range entries {
		s.history[entry.ConnectionID] = append(s.history[entry.ConnectionID], entry)
	}
	s.mu.Unlock()
}

// FailOn makes the named operation return err until cleared with a nil err.
// Operation names match the Repository method names.
func (s *RepositoryStub) FailOn(operation string, err error) {
	s.mu.Lock()
	if err == nil {
		delete(s.failures, operation)
	} else {
		s.failures[operation] = err
	}
	s.mu.Unlock()
}

// ParameterCalls reports how many times ConnectionParameters ran.
func (s *RepositoryStub) ParameterCalls() int64 {
	return s.parameterCalls.Load()
}

// Closed reports whether Close was called.
func (s *RepositoryStub) Closed() bool {
	return s.closed.Load()
}

func (s *RepositoryStub) failure(operation string) error {
	return s.failures[operation]
}

func (s *RepositoryStub) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.failure("Ping")
}

func (s *RepositoryStub) Close(context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *RepositoryStub) UserByUsername(ctx context.Context, username string) (models.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("UserByUsername"); err != nil {
		return models.User{}, false, err
	}
	for _, user := range s.users {
		if user.Username == username {
			return user, true, nil
		}
	}
	return models.User{}, false, nil
}

func (s *RepositoryStub) UserByID(ctx context.Context, id int64) (models.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("UserByID"); err != nil {
		return models.User{}, false, err
	}
	user, ok := s.users[id]
	return user, ok, nil
}

func (s *RepositoryStub) ListConnections(ctx context.Context, offset, limit int) ([]models.Connection, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListConnections"); err != nil {
		return nil, 0, err
	}
	all := make([]models.Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		all = append(all, conn)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID < all[j].ID
	})
	return window(all, offset, limit), len(all), nil
}

func (s *RepositoryStub) ConnectionByID(ctx context.Context, id int64) (models.Connection, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ConnectionByID"); err != nil {
		return models.Connection{}, false, err
	}
	conn, ok := s.connections[id]
	return conn, ok, nil
}

func (s *RepositoryStub) ConnectionParameters(ctx context.Context, id int64) (map[string]string, error) {
	s.parameterCalls.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ConnectionParameters"); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(s.parameters[id]))
	for k, v := range s.parameters[id] {
		params[k] = v
	}
	return params, nil
}

func (s *RepositoryStub) ConnectionHistory(ctx context.Context, connectionID int64, offset, limit int) ([]models.HistoryEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ConnectionHistory"); err != nil {
		return nil, 0, err
	}
	entries := append([]models.HistoryEntry(nil), s.history[connectionID]...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartDate.After(entries[j].StartDate)
	})
	return window(entries, offset, limit), len(entries), nil
}

func window[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit < 0 || end > len(items) {
		end = len(items)
	}
	return append([]T(nil), items[offset:end]...)
}

var _ storage.Repository = (*RepositoryStub)(nil)
