// Package models defines the Guacamole records exposed by the API.
package models

import "time"

// User is a row of guacamole_user. Hash and salt are raw bytea values.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	PasswordSalt []byte
	Disabled     bool
}

// Connection is a row of guacamole_connection with its parameters attached.
type Connection struct {
	ID                    int64             `json:"connection_id"`
	Name                  string            `json:"connection_name"`
	Protocol              string            `json:"protocol"`
	ParentID              *int64            `json:"parent_id"`
	MaxConnections        *int32            `json:"max_connections"`
	MaxConnectionsPerUser *int32            `json:"max_connections_per_user"`
	ProxyHostname         *string           `json:"proxy_hostname"`
	ProxyPort             *int32            `json:"proxy_port"`
	Parameters            map[string]string `json:"parameters"`
}

// HistoryEntry is a row of guacamole_connection_history. EndDate is nil
// while the session is still active.
type HistoryEntry struct {
	ID           int64      `json:"history_id"`
	ConnectionID int64      `json:"connection_id"`
	UserID       *int64     `json:"user_id"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	RemoteHost   *string    `json:"remote_host"`
}
