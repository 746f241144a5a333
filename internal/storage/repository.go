package storage

import (
	"context"
	"errors"

	"guacplayer/internal/models"
)

// ErrDSNRequired is returned when no connection string is configured.
var ErrDSNRequired = errors.New("postgres dsn required")

// Repository exposes the read-only Guacamole queries required by the
// authentication, connection and history handlers. Lookups report absence
// through the found flag; errors are reserved for datastore failures.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	UserByUsername(ctx context.Context, username string) (models.User, bool, error)
	UserByID(ctx context.Context, id int64) (models.User, bool, error)

	// ListConnections returns one page of connections ordered by name
	// together with the total number of connections.
	ListConnections(ctx context.Context, offset, limit int) ([]models.Connection, int, error)
	ConnectionByID(ctx context.Context, id int64) (models.Connection, bool, error)
	ConnectionParameters(ctx context.Context, id int64) (map[string]string, error)

	// ConnectionHistory returns one page of sessions for a connection, newest
	// first, together with the total number of sessions.
	ConnectionHistory(ctx context.Context, connectionID int64, offset, limit int) ([]models.HistoryEntry, int, error)
}
