package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/memory"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/config"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/accounting"
)

const testCatalogYAML = `
providers:
  - id: fakebooks
    name: Fake Books
    auth_type: api_key
    base_url: http://fakebooks.invalid
    features: [invoices, payments, customers, journal_entries, reports]
    limits:
      rate_limit: 60000
      max_retries: 0
      timeout: 200ms
`

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeAdapter records every call. Hooks, when set, decide the outcome of a call.
type fakeAdapter struct {
	mu sync.Mutex

	testErr   error
	onInvoice func(ctx context.Context, inv *bookkeeping.Invoice) error

	customers []bookkeeping.Customer
	invoices  []bookkeeping.Invoice
	payments  []bookkeeping.Payment
	journals  []bookkeeping.JournalEntry

	seq         int
	inflight    int
	maxInflight int
}

var _ accounting.Adapter = (*fakeAdapter)(nil)

func (f *fakeAdapter) enter() {
	f.mu.Lock()
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	f.mu.Unlock()
}

func (f *fakeAdapter) exit() {
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
}

func (f *fakeAdapter) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeAdapter) ProviderID() string { return "fakebooks" }

func (f *fakeAdapter) TestConnection(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.testErr
}

func (f *fakeAdapter) CreateCustomer(_ context.Context, c *bookkeeping.Customer) (bookkeeping.ExternalRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers = append(f.customers, *c)
	return bookkeeping.ExternalRef{ExternalID: f.nextID("cust")}, nil
}

func (f *fakeAdapter) CreateInvoice(ctx context.Context, inv *bookkeeping.Invoice) (bookkeeping.ExternalRef, error) {
	f.enter()
	defer f.exit()
	if f.onInvoice != nil {
		if err := f.onInvoice(ctx, inv); err != nil {
			return bookkeeping.ExternalRef{}, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoices = append(f.invoices, *inv)
	return bookkeeping.ExternalRef{ExternalID: f.nextID("inv")}, nil
}

func (f *fakeAdapter) CreatePayment(_ context.Context, p *bookkeeping.Payment) (bookkeeping.ExternalRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payments = append(f.payments, *p)
	return bookkeeping.ExternalRef{ExternalID: f.nextID("pay")}, nil
}

func (f *fakeAdapter) CreateJournalEntry(_ context.Context, j *bookkeeping.JournalEntry) (bookkeeping.ExternalRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journals = append(f.journals, *j)
	return bookkeeping.ExternalRef{ExternalID: f.nextID("je")}, nil
}

func (f *fakeAdapter) GetFinancialReport(_ context.Context, kind bookkeeping.ReportKind, from, to time.Time) (*bookkeeping.FinancialReport, error) {
	return &bookkeeping.FinancialReport{
		Kind: kind,
		From: from,
		To:   to,
		Rows: []bookkeeping.ReportRow{{Label: "Rental Income", Amount: dec("2000")}},
	}, nil
}

func (f *fakeAdapter) counts() (customers, invoices, payments, journals int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.customers), len(f.invoices), len(f.payments), len(f.journals)
}

// fakeBroadcaster records broadcast event types.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBroadcaster) BroadcastEvent(_ context.Context, eventType string, _ any) {
	b.mu.Lock()
	b.events = append(b.events, eventType)
	b.mu.Unlock()
}

type testEnv struct {
	store   *memory.Store
	adapter *fakeAdapter
	conns   *ConnectionService
	sync    *SyncService
	profile *ProfileService
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	catalog, err := bookkeeping.ParseCatalog([]byte(testCatalogYAML))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	key, err := bookkeeping.DeriveKey("test-secret")
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{store: memory.New(), adapter: &fakeAdapter{}, now: testNow}
	env.store.SetClock(env.clock)

	env.conns = NewConnectionService(env.store, catalog, key)
	env.conns.now = env.clock
	env.conns.SetAdapterFactory(func(accounting.Config) (accounting.Adapter, error) { return env.adapter, nil })

	env.sync = NewSyncService(env.store, env.conns, nil,
		config.Sync{ScheduleInterval: time.Minute, MaxParallel: 4, LockTTL: time.Minute, BatchLimit: 100},
		config.Breaker{MaxFailures: 5, Timeout: time.Minute})
	env.sync.now = env.clock

	env.profile = NewProfileService(env.store, nil, 0, nil)
	env.profile.SetClock(env.clock)

	env.store.PutTenant(&profile.Tenant{
		ID:             "t1",
		OrganizationID: "org1",
		Name:           "Dana Reyes",
		Email:          "dana@example.com",
		PropertyID:     "prop1",
		Unit:           "4B",
		MonthlyRent:    dec("2000"),
	})
	return env
}

func (e *testEnv) clock() time.Time { return e.now }

func testCredentials() bookkeeping.Credentials {
	return bookkeeping.Credentials{
		AuthType: bookkeeping.AuthAPIKey,
		APIKey:   &bookkeeping.APIKeyCredentials{APIKey: "fb-secret-key-1234", AccountID: "acc1"},
	}
}

func testMappings() map[string]string {
	return map[string]string{
		bookkeeping.AccountRentIncome:  "4000",
		bookkeeping.AccountLateFee:     "4100",
		bookkeeping.AccountFeeIncome:   "4200",
		bookkeeping.AccountBank:        "1000",
		bookkeeping.AccountReceivables: "1200",
	}
}

func (e *testEnv) connect(t *testing.T) *bookkeeping.Connection {
	t.Helper()
	c, err := e.conns.Create(context.Background(), &bookkeeping.CreateRequest{
		OrganizationID: "org1",
		ProviderID:     "fakebooks",
		Name:           "Books",
		Credentials:    testCredentials(),
		Configuration:  bookkeeping.Configuration{AccountMappings: testMappings()},
	})
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return c
}

func rentPayment(id, amount string, status payment.Status) payment.Payment {
	p := payment.Payment{
		ID:         id,
		TenantID:   "t1",
		PropertyID: "prop1",
		Amount:     dec(amount),
		DueDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:     status,
	}
	if status == payment.StatusCompleted {
		paid := p.DueDate
		p.PaidDate = &paid
	}
	return p
}
