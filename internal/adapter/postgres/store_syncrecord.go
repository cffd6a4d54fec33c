package postgres

import (
	"context"
	"fmt"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
)

// GetSyncRecord returns domain.ErrNotFound when the record was never synced.
func (s *Store) GetSyncRecord(ctx context.Context, connectionID string, recordType bookkeeping.RecordType, recordID string) (*bookkeeping.SyncRecord, error) {
	var (
		r          bookkeeping.SyncRecord
		typ, state string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT connection_id, record_type, record_id, external_id, state, updated_at
		 FROM sync_records WHERE connection_id = $1 AND record_type = $2 AND record_id = $3`,
		connectionID, string(recordType), recordID).
		Scan(&r.ConnectionID, &typ, &r.RecordID, &r.ExternalID, &state, &r.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get sync record %s/%s", recordType, recordID)
	}
	r.RecordType = bookkeeping.RecordType(typ)
	r.State = bookkeeping.RecordState(state)
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// UpsertSyncRecord inserts or replaces a sync record.
func (s *Store) UpsertSyncRecord(ctx context.Context, r *bookkeeping.SyncRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_records (connection_id, record_type, record_id, external_id, state, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (connection_id, record_type, record_id) DO UPDATE
		 SET external_id = EXCLUDED.external_id, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		r.ConnectionID, string(r.RecordType), r.RecordID, r.ExternalID, string(r.State), r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert sync record %s/%s: %w", r.RecordType, r.RecordID, err)
	}
	return nil
}
