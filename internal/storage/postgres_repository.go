package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"guacplayer/internal/models"
	"guacplayer/internal/observability/logging"
)

const (
	selectUserColumns = `user_id, username, password_hash, password_salt, disabled`

	selectConnectionColumns = `connection_id, connection_name, protocol, parent_id,
		max_connections, max_connections_per_user, proxy_hostname, proxy_port`

	selectHistoryColumns = `history_id, connection_id, user_id, start_date, end_date, remote_host`
)

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a pool against an existing Guacamole database.
// The schema is owned by Guacamole; the repository never writes to it.
func NewPostgresRepository(ctx context.Context, dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	poolCfg, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	cfg.Logger = logging.WithComponent(cfg.Logger, "storage")
	return &postgresRepository{pool: pool, cfg: cfg}, nil
}

func buildPoolConfig(cfg PostgresConfig) (*pgxpool.Config, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, ErrDSNRequired
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
	}
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	if cfg.Schema != "" {
		poolCfg.ConnConfig.RuntimeParams["search_path"] = cfg.Schema
	}
	return poolCfg, nil
}

func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return r.fail(ctx, "ping", err)
	}
	return nil
}

func (r *postgresRepository) UserByUsername(ctx context.Context, username string) (models.User, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+selectUserColumns+` FROM guacamole_user WHERE username = $1`, username)
	user, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return models.User{}, false, nil
		}
		return models.User{}, false, r.fail(ctx, "user_by_username", err)
	}
	return user, true, nil
}

func (r *postgresRepository) UserByID(ctx context.Context, id int64) (models.User, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+selectUserColumns+` FROM guacamole_user WHERE user_id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return models.User{}, false, nil
		}
		return models.User{}, false, r.fail(ctx, "user_by_id", err)
	}
	return user, true, nil
}

func (r *postgresRepository) ListConnections(ctx context.Context, offset, limit int) ([]models.Connection, int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM guacamole_connection`).Scan(&total); err != nil {
		return nil, 0, r.fail(ctx, "count_connections", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+selectConnectionColumns+`
		FROM guacamole_connection
		ORDER BY connection_name, connection_id
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, r.fail(ctx, "list_connections", err)
	}
	defer rows.Close()

	connections := make([]models.Connection, 0, limit)
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, 0, r.fail(ctx, "scan_connection", err)
		}
		connections = append(connections, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, r.fail(ctx, "iterate_connections", err)
	}
	return connections, total, nil
}

func (r *postgresRepository) ConnectionByID(ctx context.Context, id int64) (models.Connection, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+selectConnectionColumns+` FROM guacamole_connection WHERE connection_id = $1`, id)
	conn, err := scanConnection(row)
	if err != nil {
		if isNoRows(err) {
			return models.Connection{}, false, nil
		}
		return models.Connection{}, false, r.fail(ctx, "connection_by_id", err)
	}
	return conn, true, nil
}

func (r *postgresRepository) ConnectionParameters(ctx context.Context, id int64) (map[string]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT parameter_name, parameter_value
		FROM guacamole_connection_parameter
		WHERE connection_id = $1`, id)
	if err != nil {
		return nil, r.fail(ctx, "connection_parameters", err)
	}
	defer rows.Close()

	params := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, r.fail(ctx, "scan_parameter", err)
		}
		params[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail(ctx, "iterate_parameters", err)
	}
	return params, nil
}

func (r *postgresRepository) ConnectionHistory(ctx context.Context, connectionID int64, offset, limit int) ([]models.HistoryEntry, int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM guacamole_connection_history WHERE connection_id = $1`, connectionID).Scan(&total); err != nil {
		return nil, 0, r.fail(ctx, "count_history", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT `+selectHistoryColumns+`
		FROM guacamole_connection_history
		WHERE connection_id = $1
		ORDER BY start_date DESC, history_id DESC
		LIMIT $2 OFFSET $3`, connectionID, limit, offset)
	if err != nil {
		return nil, 0, r.fail(ctx, "list_history", err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0, limit)
	for rows.Next() {
		var entry models.HistoryEntry
		if err := rows.Scan(&entry.ID, &entry.ConnectionID, &entry.UserID, &entry.StartDate, &entry.EndDate, &entry.RemoteHost); err != nil {
			return nil, 0, r.fail(ctx, "scan_history", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, r.fail(ctx, "iterate_history", err)
	}
	return entries, total, nil
}

func (r *postgresRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.QueryTimeout)
}

func (r *postgresRepository) fail(ctx context.Context, operation string, err error) error {
	r.cfg.Metrics.ObserveRepositoryError(operation)
	logging.WithContext(ctx, r.cfg.Logger).Error("postgres query failed", "operation", operation, "error", err)
	return fmt.Errorf("%s: %w", operation, err)
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.PasswordSalt, &user.Disabled)
	return user, err
}

func scanConnection(row pgx.Row) (models.Connection, error) {
	var conn models.Connection
	err := row.Scan(
		&conn.ID,
		&conn.Name,
		&conn.Protocol,
		&conn.ParentID,
		&conn.MaxConnections,
		&conn.MaxConnectionsPerUser,
		&conn.ProxyHostname,
		&conn.ProxyPort,
	)
	return conn, err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ Repository = (*postgresRepository)(nil)
