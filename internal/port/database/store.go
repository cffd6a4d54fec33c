// Package database defines the persistence ports of the ledger service.
package database

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
)

// LedgerStore owns the append-only tenant ledgers.
type LedgerStore interface {
	// AppendLedgerEntry computes the running balance from the tenant's latest
	// entry and stores the new entry. Appends for one tenant are serialized.
	AppendLedgerEntry(ctx context.Context, tenantID string, e *ledger.NewEntry) (*ledger.Entry, error)
	// ListLedgerEntries returns the tenant's entries newest first.
	ListLedgerEntries(ctx context.Context, tenantID string) ([]ledger.Entry, error)
	// TenantBalance returns the cached current balance, zero without entries.
	TenantBalance(ctx context.Context, tenantID string) (decimal.Decimal, error)
	// ListUnsyncedLedgerEntries returns entries of the organization's tenants
	// that have no sync record for the connection, oldest first.
	ListUnsyncedLedgerEntries(ctx context.Context, connectionID, organizationID string, limit int) ([]ledger.Entry, error)
}

// ConnectionStore persists bookkeeping connections. Credentials travel in
// Connection.SealedCredentials; the store never sees plaintext secrets.
type ConnectionStore interface {
	CreateConnection(ctx context.Context, c *bookkeeping.Connection) error
	GetConnection(ctx context.Context, id string) (*bookkeeping.Connection, error)
	ListConnections(ctx context.Context, organizationID string) ([]bookkeeping.Connection, error)
	// ListSchedulableConnections returns connections in active or error state.
	ListSchedulableConnections(ctx context.Context) ([]bookkeeping.Connection, error)
	// UpdateConnection writes name, credentials, configuration, status and
	// UpdatedAt, but only while the stored status still equals expected;
	// otherwise it returns domain.ErrConflict. LastSync and LastError are
	// owned by RecordSyncOutcome and left untouched.
	UpdateConnection(ctx context.Context, c *bookkeeping.Connection, expected bookkeeping.SyncStatus) error
	DeleteConnection(ctx context.Context, id string) error
	// RecordSyncOutcome stamps last sync and last error and moves the status
	// to next unless the connection is paused or disconnected. It returns the
	// stored connection.
	RecordSyncOutcome(ctx context.Context, id string, next bookkeeping.SyncStatus, at time.Time, lastError string) (*bookkeeping.Connection, error)
}

// SyncRecordStore remembers what each connection already pushed.
type SyncRecordStore interface {
	// GetSyncRecord returns domain.ErrNotFound when the record was never synced.
	GetSyncRecord(ctx context.Context, connectionID string, recordType bookkeeping.RecordType, recordID string) (*bookkeeping.SyncRecord, error)
	UpsertSyncRecord(ctx context.Context, r *bookkeeping.SyncRecord) error
}

// SettingsStore holds tenant-editable profile settings.
type SettingsStore interface {
	// GetTenantSettings returns domain.ErrNotFound when nothing was stored.
	GetTenantSettings(ctx context.Context, tenantID string) (*profile.Settings, error)
	UpsertTenantSettings(ctx context.Context, s *profile.Settings) error
}

// PaymentReader reads records owned by the tenant directory and the payment
// subsystem. The ledger never writes them.
type PaymentReader interface {
	GetTenant(ctx context.Context, id string) (*profile.Tenant, error)
	ListTenants(ctx context.Context, organizationID string) ([]profile.Tenant, error)
	ListPayments(ctx context.Context, tenantID string) ([]payment.Payment, error)
	GetPayment(ctx context.Context, id string) (*payment.Payment, error)
	ListPaymentMethods(ctx context.Context, tenantID string) ([]payment.Method, error)
	// ListUnsyncedPayments returns payments of the organization's tenants that
	// are not yet recorded as paid for the connection, oldest due date first.
	ListUnsyncedPayments(ctx context.Context, connectionID, organizationID string, limit int) ([]payment.Payment, error)
}

// Store is the full persistence port.
type Store interface {
	LedgerStore
	ConnectionStore
	SyncRecordStore
	SettingsStore
	PaymentReader
}
