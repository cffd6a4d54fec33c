// Package memory implements the database port in process. It backs tests and
// single-instance development runs; data does not survive a restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/database"
)

var _ database.Store = (*Store)(nil)

type syncKey struct {
	connectionID string
	recordType   bookkeeping.RecordType
	recordID     string
}

// Store is an in-memory database.Store.
type Store struct {
	now func() time.Time

	tenantLocks sync.Map // tenant id -> *sync.Mutex

	mu          sync.RWMutex
	ledgers     map[string][]ledger.Entry // insertion order
	balances    map[string]decimal.Decimal
	connections map[string]bookkeeping.Connection
	syncRecords map[syncKey]bookkeeping.SyncRecord
	settings    map[string]profile.Settings
	tenants     map[string]profile.Tenant
	payments    map[string]payment.Payment
	methods     map[string][]payment.Method
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:         time.Now,
		ledgers:     make(map[string][]ledger.Entry),
		balances:    make(map[string]decimal.Decimal),
		connections: make(map[string]bookkeeping.Connection),
		syncRecords: make(map[syncKey]bookkeeping.SyncRecord),
		settings:    make(map[string]profile.Settings),
		tenants:     make(map[string]profile.Tenant),
		payments:    make(map[string]payment.Payment),
		methods:     make(map[string][]payment.Method),
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) tenantLock(tenantID string) *sync.Mutex {
	m, _ := s.tenantLocks.LoadOrStore(tenantID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// --- Ledger ---

// AppendLedgerEntry serializes appends per tenant with a keyed mutex; other
// tenants are not blocked.
func (s *Store) AppendLedgerEntry(_ context.Context, tenantID string, n *ledger.NewEntry) (*ledger.Entry, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	l := s.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	prev := s.balances[tenantID]
	var head *ledger.Entry
	if entries := s.ledgers[tenantID]; len(entries) > 0 {
		head = &entries[len(entries)-1]
	}
	ledger.MustAgree(tenantID, prev, head)
	s.mu.RUnlock()

	e := ledger.Next(tenantID, uuid.NewString(), prev, n, s.now().UTC())

	s.mu.Lock()
	s.ledgers[tenantID] = append(s.ledgers[tenantID], e)
	s.balances[tenantID] = e.Balance
	s.mu.Unlock()
	return &e, nil
}

// ListLedgerEntries returns the tenant's entries newest first.
func (s *Store) ListLedgerEntries(_ context.Context, tenantID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ledger.NewestFirst(s.ledgers[tenantID]), nil
}

// TenantBalance returns the cached balance.
func (s *Store) TenantBalance(_ context.Context, tenantID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[tenantID], nil
}

// ListUnsyncedLedgerEntries returns entries without a sync record, oldest first.
func (s *Store) ListUnsyncedLedgerEntries(_ context.Context, connectionID, organizationID string, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for _, t := range s.sortedTenants(organizationID) {
		for _, e := range s.ledgers[t.ID] {
			if _, ok := s.syncRecords[syncKey{connectionID, bookkeeping.RecordLedgerEntry, e.ID}]; ok {
				continue
			}
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

// --- Connections ---

// CreateConnection stores a new connection.
func (s *Store) CreateConnection(_ context.Context, c *bookkeeping.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connections[c.ID]; exists {
		return fmt.Errorf("connection %s: %w", c.ID, domain.ErrConflict)
	}
	s.connections[c.ID] = cloneConnection(c)
	return nil
}

// GetConnection returns a connection by id.
func (s *Store) GetConnection(_ context.Context, id string) (*bookkeeping.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	out := cloneConnection(&c)
	return &out, nil
}

// ListConnections returns the organization's connections ordered by creation.
func (s *Store) ListConnections(_ context.Context, organizationID string) ([]bookkeeping.Connection, error) {
	return s.filterConnections(func(c *bookkeeping.Connection) bool { return c.OrganizationID == organizationID }), nil
}

// ListSchedulableConnections returns active and errored connections.
func (s *Store) ListSchedulableConnections(_ context.Context) ([]bookkeeping.Connection, error) {
	return s.filterConnections(func(c *bookkeeping.Connection) bool {
		return c.SyncStatus == bookkeeping.StatusActive || c.SyncStatus == bookkeeping.StatusError
	}), nil
}

func (s *Store) filterConnections(keep func(*bookkeeping.Connection) bool) []bookkeeping.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []bookkeeping.Connection{}
	for _, c := range s.connections {
		if keep(&c) {
			out = append(out, cloneConnection(&c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UpdateConnection writes the mutable fields of a connection if its status is
// still expected. LastSync and LastError keep their stored values.
func (s *Store) UpdateConnection(_ context.Context, c *bookkeeping.Connection, expected bookkeeping.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.connections[c.ID]
	if !ok {
		return fmt.Errorf("connection %s: %w", c.ID, domain.ErrNotFound)
	}
	if cur.SyncStatus != expected {
		return fmt.Errorf("connection %s: status is no longer %s: %w", c.ID, expected, domain.ErrConflict)
	}
	next := cloneConnection(c)
	next.LastSync, next.LastError = cur.LastSync, cur.LastError
	next.OrganizationID, next.ProviderID, next.CreatedAt = cur.OrganizationID, cur.ProviderID, cur.CreatedAt
	s.connections[c.ID] = next
	return nil
}

// DeleteConnection removes a connection and its sync records.
func (s *Store) DeleteConnection(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[id]; !ok {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	delete(s.connections, id)
	for k := range s.syncRecords {
		if k.connectionID == id {
			delete(s.syncRecords, k)
		}
	}
	return nil
}

// RecordSyncOutcome stamps the outcome; paused and disconnected keep their status.
func (s *Store) RecordSyncOutcome(_ context.Context, id string, next bookkeeping.SyncStatus, at time.Time, lastError string) (*bookkeeping.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	if c.SyncStatus != bookkeeping.StatusPaused && c.SyncStatus != bookkeeping.StatusDisconnected {
		c.SyncStatus = next
	}
	c.LastSync = &at
	c.LastError = lastError
	c.UpdatedAt = at
	s.connections[id] = c
	out := cloneConnection(&c)
	return &out, nil
}

func cloneConnection(c *bookkeeping.Connection) bookkeeping.Connection {
	out := *c
	out.SealedCredentials = slices.Clone(c.SealedCredentials)
	if c.LastSync != nil {
		t := *c.LastSync
		out.LastSync = &t
	}
	if c.Configuration.AccountMappings != nil {
		out.Configuration.AccountMappings = make(map[string]string, len(c.Configuration.AccountMappings))
		for k, v := range c.Configuration.AccountMappings {
			out.Configuration.AccountMappings[k] = v
		}
	}
	if c.Configuration.Features != nil {
		out.Configuration.Features = make(map[bookkeeping.Feature]bool, len(c.Configuration.Features))
		for k, v := range c.Configuration.Features {
			out.Configuration.Features[k] = v
		}
	}
	return out
}

// --- Sync records ---

// GetSyncRecord returns domain.ErrNotFound when nothing was synced.
func (s *Store) GetSyncRecord(_ context.Context, connectionID string, recordType bookkeeping.RecordType, recordID string) (*bookkeeping.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.syncRecords[syncKey{connectionID, recordType, recordID}]
	if !ok {
		return nil, fmt.Errorf("sync record %s/%s: %w", recordType, recordID, domain.ErrNotFound)
	}
	return &r, nil
}

// UpsertSyncRecord inserts or replaces a sync record.
func (s *Store) UpsertSyncRecord(_ context.Context, r *bookkeeping.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncRecords[syncKey{r.ConnectionID, r.RecordType, r.RecordID}] = *r
	return nil
}

// --- Settings ---

// GetTenantSettings returns domain.ErrNotFound when nothing was stored.
func (s *Store) GetTenantSettings(_ context.Context, tenantID string) (*profile.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settings[tenantID]
	if !ok {
		return nil, fmt.Errorf("settings for tenant %s: %w", tenantID, domain.ErrNotFound)
	}
	return &st, nil
}

// UpsertTenantSettings stores the tenant settings.
func (s *Store) UpsertTenantSettings(_ context.Context, st *profile.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[st.TenantID] = *st
	return nil
}

// --- Payment subsystem data ---

// PutTenant adds or replaces a tenant record.
func (s *Store) PutTenant(t *profile.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = *t
}

// PutPayment adds or replaces a payment record.
func (s *Store) PutPayment(p *payment.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = *p
}

// PutPaymentMethod adds a payment method.
func (s *Store) PutPaymentMethod(m *payment.Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[m.TenantID] = append(s.methods[m.TenantID], *m)
}

// GetTenant returns a tenant by id.
func (s *Store) GetTenant(_ context.Context, id string) (*profile.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

// ListTenants returns the organization's tenants ordered by id.
func (s *Store) ListTenants(_ context.Context, organizationID string) ([]profile.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedTenants(organizationID), nil
}

func (s *Store) sortedTenants(organizationID string) []profile.Tenant {
	out := []profile.Tenant{}
	for _, t := range s.tenants {
		if t.OrganizationID == organizationID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListPayments returns the tenant's payments by due date.
func (s *Store) ListPayments(_ context.Context, tenantID string) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []payment.Payment{}
	for _, p := range s.payments {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	sortPayments(out)
	return out, nil
}

// GetPayment returns a payment by id.
func (s *Store) GetPayment(_ context.Context, id string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

// ListPaymentMethods returns the tenant's payment methods.
func (s *Store) ListPaymentMethods(_ context.Context, tenantID string) ([]payment.Method, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]payment.Method{}, s.methods[tenantID]...), nil
}

// ListUnsyncedPayments returns payments not yet recorded as paid for the connection.
func (s *Store) ListUnsyncedPayments(_ context.Context, connectionID, organizationID string, limit int) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org := make(map[string]bool)
	for _, t := range s.sortedTenants(organizationID) {
		org[t.ID] = true
	}
	var out []payment.Payment
	for _, p := range s.payments {
		if !org[p.TenantID] {
			continue
		}
		if r, ok := s.syncRecords[syncKey{connectionID, bookkeeping.RecordPayment, p.ID}]; ok && r.State == bookkeeping.StatePaid {
			continue
		}
		out = append(out, p)
	}
	sortPayments(out)
	return truncate(out, limit), nil
}

func sortPayments(ps []payment.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].DueDate.Equal(ps[j].DueDate) {
			return ps[i].DueDate.Before(ps[j].DueDate)
		}
		return ps[i].ID < ps[j].ID
	})
}

func truncate[T any](s []T, limit int) []T {
	if s == nil {
		s = []T{}
	}
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
