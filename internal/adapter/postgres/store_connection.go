package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
)

const connectionColumns = `id, organization_id, provider_id, name, credentials, configuration, sync_status, last_sync, last_error, created_at, updated_at`

// CreateConnection inserts a connection with its sealed credentials.
func (s *Store) CreateConnection(ctx context.Context, c *bookkeeping.Connection) error {
	cfg, err := json.Marshal(c.Configuration)
	if err != nil {
		return fmt.Errorf("create connection: marshal configuration: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO bookkeeping_connections (`+connectionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.OrganizationID, c.ProviderID, c.Name, c.SealedCredentials, cfg,
		string(c.SyncStatus), nullTime(c.LastSync), c.LastError, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return conflictWrap(err, "create connection %s", c.ID)
	}
	return nil
}

// GetConnection returns a connection by id.
func (s *Store) GetConnection(ctx context.Context, id string) (*bookkeeping.Connection, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM bookkeeping_connections WHERE id = $1`, id)
	c, err := scanConnection(row)
	if err != nil {
		return nil, notFoundWrap(err, "get connection %s", id)
	}
	return &c, nil
}

// ListConnections returns the organization's connections, oldest first.
func (s *Store) ListConnections(ctx context.Context, organizationID string) ([]bookkeeping.Connection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+connectionColumns+` FROM bookkeeping_connections
		 WHERE organization_id = $1 ORDER BY created_at, id`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return collectConnections(rows)
}

// ListSchedulableConnections returns every connection in active or error state.
func (s *Store) ListSchedulableConnections(ctx context.Context) ([]bookkeeping.Connection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+connectionColumns+` FROM bookkeeping_connections
		 WHERE sync_status IN ('active', 'error') ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list schedulable connections: %w", err)
	}
	return collectConnections(rows)
}

// UpdateConnection writes the mutable fields of a connection if its status is
// still expected. A changed status is ErrConflict; a missing row ErrNotFound.
func (s *Store) UpdateConnection(ctx context.Context, c *bookkeeping.Connection, expected bookkeeping.SyncStatus) error {
	cfg, err := json.Marshal(c.Configuration)
	if err != nil {
		return fmt.Errorf("update connection: marshal configuration: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookkeeping_connections
		 SET name = $2, credentials = $3, configuration = $4, sync_status = $5, updated_at = $6
		 WHERE id = $1 AND sync_status = $7`,
		c.ID, c.Name, c.SealedCredentials, cfg, string(c.SyncStatus), c.UpdatedAt, string(expected))
	if err != nil || tag.RowsAffected() > 0 {
		return execExpectOne(tag, err, "update connection %s", c.ID)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bookkeeping_connections WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return fmt.Errorf("update connection %s: %w", c.ID, err)
	}
	if !exists {
		return fmt.Errorf("update connection %s: %w", c.ID, domain.ErrNotFound)
	}
	return fmt.Errorf("update connection %s: status is no longer %s: %w", c.ID, expected, domain.ErrConflict)
}

// DeleteConnection removes a connection; its sync records cascade.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bookkeeping_connections WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete connection %s", id)
}

// RecordSyncOutcome stamps the outcome in one statement; paused and
// disconnected connections keep their status.
func (s *Store) RecordSyncOutcome(ctx context.Context, id string, next bookkeeping.SyncStatus, at time.Time, lastError string) (*bookkeeping.Connection, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE bookkeeping_connections
		 SET sync_status = CASE WHEN sync_status IN ('paused', 'disconnected') THEN sync_status ELSE $2 END,
		     last_sync = $3, last_error = $4, updated_at = $3
		 WHERE id = $1
		 RETURNING `+connectionColumns, id, string(next), at, lastError)
	c, err := scanConnection(row)
	if err != nil {
		return nil, notFoundWrap(err, "record sync outcome %s", id)
	}
	return &c, nil
}

func collectConnections(rows pgx.Rows) ([]bookkeeping.Connection, error) {
	defer rows.Close()
	var out []bookkeeping.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return orEmpty(out), nil
}

func scanConnection(row scannable) (bookkeeping.Connection, error) {
	var (
		c        bookkeeping.Connection
		cfg      []byte
		status   string
		lastSync *time.Time
	)
	err := row.Scan(&c.ID, &c.OrganizationID, &c.ProviderID, &c.Name, &c.SealedCredentials, &cfg,
		&status, &lastSync, &c.LastError, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(cfg, &c.Configuration); err != nil {
		return c, fmt.Errorf("decode configuration of %s: %w", c.ID, err)
	}
	c.SyncStatus = bookkeeping.SyncStatus(status)
	if lastSync != nil {
		t := lastSync.UTC()
		c.LastSync = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}
