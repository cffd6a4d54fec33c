package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/database"
)

var _ database.Store = (*Store)(nil)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Ping checks database reachability for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Ledger ---

const ledgerColumns = `id, tenant_id, property_id, entry_date, type, description, amount, balance, category, reference, created_by, created_at`

// AppendLedgerEntry reads the previous balance and inserts the entry inside
// one transaction holding a transaction-scoped advisory lock on the tenant,
// so concurrent appends for the same tenant are applied one at a time.
func (s *Store) AppendLedgerEntry(ctx context.Context, tenantID string, n *ledger.NewEntry) (*ledger.Entry, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
		return nil, fmt.Errorf("append ledger entry: lock tenant %s: %w", tenantID, err)
	}

	prev := decimal.Zero
	err = tx.QueryRow(ctx, `SELECT balance FROM tenant_balances WHERE tenant_id = $1`, tenantID).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("append ledger entry: read balance: %w", err)
	}
	row := tx.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1`, tenantID)
	head, err := scanLedgerEntry(row)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		ledger.MustAgree(tenantID, prev, nil)
	case err != nil:
		return nil, fmt.Errorf("append ledger entry: read head: %w", err)
	default:
		ledger.MustAgree(tenantID, prev, &head)
	}

	e := ledger.Next(tenantID, uuid.NewString(), prev, n, s.now().UTC())

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (`+ledgerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.TenantID, e.PropertyID, e.Date, string(e.Type), e.Description,
		e.Amount, e.Balance, e.Category, e.Reference, e.CreatedBy, e.CreatedAt)
	if err != nil {
		return nil, conflictWrap(err, "append ledger entry %s", e.ID)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO tenant_balances (tenant_id, balance, last_entry_id, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET balance = EXCLUDED.balance, last_entry_id = EXCLUDED.last_entry_id, updated_at = EXCLUDED.updated_at`,
		tenantID, e.Balance, e.ID, e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry: update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("append ledger entry: commit: %w", err)
	}
	return &e, nil
}

// ListLedgerEntries returns the tenant's entries newest first.
func (s *Store) ListLedgerEntries(ctx context.Context, tenantID string) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE tenant_id = $1 ORDER BY seq DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return collectLedger(rows)
}

// TenantBalance returns the cached balance, zero when the tenant has no entries.
func (s *Store) TenantBalance(ctx context.Context, tenantID string) (decimal.Decimal, error) {
	bal := decimal.Zero
	err := s.pool.QueryRow(ctx, `SELECT balance FROM tenant_balances WHERE tenant_id = $1`, tenantID).Scan(&bal)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("tenant balance %s: %w", tenantID, err)
	}
	return bal, nil
}

// ListUnsyncedLedgerEntries returns entries of the organization's tenants
// without a sync record for the connection, oldest first.
func (s *Store) ListUnsyncedLedgerEntries(ctx context.Context, connectionID, organizationID string, limit int) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.tenant_id, e.property_id, e.entry_date, e.type, e.description, e.amount, e.balance,
		        e.category, e.reference, e.created_by, e.created_at
		 FROM ledger_entries e
		 JOIN tenants t ON t.id = e.tenant_id
		 WHERE t.organization_id = $2
		   AND NOT EXISTS (
		     SELECT 1 FROM sync_records r
		     WHERE r.connection_id = $1 AND r.record_type = 'ledger_entry' AND r.record_id = e.id)
		 ORDER BY e.created_at, e.seq
		 LIMIT $3`, connectionID, organizationID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list unsynced ledger entries: %w", err)
	}
	return collectLedger(rows)
}

func collectLedger(rows pgx.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return orEmpty(out), nil
}

func scanLedgerEntry(row scannable) (ledger.Entry, error) {
	var e ledger.Entry
	var typ string
	err := row.Scan(&e.ID, &e.TenantID, &e.PropertyID, &e.Date, &typ, &e.Description,
		&e.Amount, &e.Balance, &e.Category, &e.Reference, &e.CreatedBy, &e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.Type = ledger.EntryType(typ)
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}
