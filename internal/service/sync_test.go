package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/memory"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/broadcast"
)

func fivePayments() []payment.Payment {
	return []payment.Payment{
		rentPayment("p1", "2000", payment.StatusPending),
		rentPayment("p2", "2000", payment.StatusPending),
		rentPayment("p3", "0", payment.StatusPending), // fails translation
		rentPayment("p4", "2000", payment.StatusPending),
		rentPayment("p5", "2000", payment.StatusPending),
	}
}

func TestSyncBatch_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)

	r, err := env.sync.SyncBatch(context.Background(), c.ID, fivePayments())
	if err != nil {
		t.Fatal(err)
	}
	if r.RecordsProcessed != 5 || r.RecordsCreated != 4 || r.RecordsSkipped != 0 {
		t.Fatalf("unexpected counts %+v", r)
	}
	if len(r.Errors) != 1 {
		t.Fatalf("expected exactly one error, got %+v", r.Errors)
	}
	if got := r.Errors[0]; got.RecordID != "p3" || got.Kind != bookkeeping.KindValidation {
		t.Fatalf("expected validation error on p3, got %+v", got)
	}
	customers, invoices, _, _ := env.adapter.counts()
	if customers != 1 || invoices != 4 {
		t.Fatalf("expected 1 customer and 4 invoices, got %d and %d", customers, invoices)
	}

	conn, err := env.conns.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if conn.SyncStatus != bookkeeping.StatusActive || conn.LastSync == nil || conn.LastError == "" {
		t.Fatalf("connection not stamped after partial failure: %+v", conn)
	}
}

func TestSyncSingle_AdapterFailureKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bookkeeping.ErrorKind
	}{
		{"untyped", errors.New("duplicate document number"), bookkeeping.KindBusinessLogic},
		{"typed", bookkeeping.NewSyncError(bookkeeping.KindRateLimit, "", "429"), bookkeeping.KindRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			c := env.connect(t)
			env.adapter.onInvoice = func(context.Context, *bookkeeping.Invoice) error { return tt.err }

			p := rentPayment("p1", "2000", payment.StatusPending)
			r, err := env.sync.SyncSingle(context.Background(), c.ID, &p)
			if err != nil {
				t.Fatalf("record failures must not surface as errors: %v", err)
			}
			if len(r.Errors) != 1 || r.Errors[0].Kind != tt.want || r.Errors[0].RecordID != "p1" {
				t.Fatalf("expected %s error on p1, got %+v", tt.want, r.Errors)
			}
			conn, _ := env.conns.Get(context.Background(), c.ID)
			if conn.SyncStatus != bookkeeping.StatusError {
				t.Fatalf("a failed single sync should flag the connection, got %s", conn.SyncStatus)
			}

			env.adapter.onInvoice = nil
			if _, err := env.sync.SyncSingle(context.Background(), c.ID, &p); err != nil {
				t.Fatal(err)
			}
			conn, _ = env.conns.Get(context.Background(), c.ID)
			if conn.SyncStatus != bookkeeping.StatusActive || conn.LastError != "" {
				t.Fatalf("a successful sync should clear the error, got %+v", conn)
			}
		})
	}
}

func TestSync_IdempotentPayments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.connect(t)

	pending := rentPayment("p1", "2000", payment.StatusPending)
	r, err := env.sync.SyncSingle(ctx, c.ID, &pending)
	if err != nil {
		t.Fatal(err)
	}
	if r.RecordsCreated != 1 {
		t.Fatalf("expected invoice created, got %+v", r)
	}

	r, _ = env.sync.SyncSingle(ctx, c.ID, &pending)
	if r.RecordsSkipped != 1 {
		t.Fatalf("pending invoice should be skipped on resync, got %+v", r)
	}

	completed := rentPayment("p1", "2000", payment.StatusCompleted)
	r, _ = env.sync.SyncSingle(ctx, c.ID, &completed)
	if r.RecordsUpdated != 1 {
		t.Fatalf("completion should add the payment only, got %+v", r)
	}
	r, _ = env.sync.SyncSingle(ctx, c.ID, &completed)
	if r.RecordsSkipped != 1 {
		t.Fatalf("paid record should be skipped, got %+v", r)
	}

	customers, invoices, payments, _ := env.adapter.counts()
	if customers != 1 || invoices != 1 || payments != 1 {
		t.Fatalf("expected 1/1/1 customer/invoice/payment, got %d/%d/%d", customers, invoices, payments)
	}
	if got := env.adapter.payments[0]; got.InvoiceExternalID == "" || got.BankAccountCode != "1000" {
		t.Fatalf("payment not linked to its invoice: %+v", got)
	}
}

func TestSyncBatch_CancelBetweenRecords(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	env.adapter.onInvoice = func(callCtx context.Context, _ *bookkeeping.Invoice) error {
		calls++
		if calls == 2 {
			cancel()
			if callCtx.Err() != nil {
				return errors.New("in-flight call was cancelled")
			}
		}
		return nil
	}

	payments := fivePayments()
	payments[2] = rentPayment("p3", "2000", payment.StatusPending)
	r, err := env.sync.SyncBatch(ctx, c.ID, payments)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Cancelled {
		t.Fatal("expected cancelled result")
	}
	if r.RecordsProcessed != 2 || r.RecordsCreated != 2 || r.RecordsSkipped != 3 || len(r.Errors) != 0 {
		t.Fatalf("unexpected counts after cancel %+v", r)
	}
	conn, _ := env.conns.Get(context.Background(), c.ID)
	if conn.LastSync == nil {
		t.Fatal("cancelled batch must still stamp the connection")
	}
}

func TestSyncBatch_TimeoutIsNetworkError(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)
	env.adapter.onInvoice = func(ctx context.Context, inv *bookkeeping.Invoice) error {
		if inv.SourceID != "p2" {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}

	payments := fivePayments()[:3]
	payments[2] = rentPayment("p3", "2000", payment.StatusPending)
	r, err := env.sync.SyncBatch(context.Background(), c.ID, payments)
	if err != nil {
		t.Fatal(err)
	}
	if r.RecordsCreated != 2 || len(r.Errors) != 1 {
		t.Fatalf("timeout must not abort the batch: %+v", r)
	}
	if got := r.Errors[0]; got.Kind != bookkeeping.KindNetwork || got.RecordID != "p2" || !got.Retryable {
		t.Fatalf("expected retryable network error on p2, got %+v", got)
	}
}

func TestSync_ConcurrentCallsBoundedPerConnection(t *testing.T) {
	env := newTestEnv(t)
	env.sync.cfg.MaxParallel = 2
	c := env.connect(t)
	env.adapter.onInvoice = func(context.Context, *bookkeeping.Invoice) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := rentPayment("p"+string(rune('a'+i)), "100", payment.StatusPending)
			if _, err := env.sync.SyncSingle(context.Background(), c.ID, &p); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	env.adapter.mu.Lock()
	defer env.adapter.mu.Unlock()
	if env.adapter.maxInflight > 2 {
		t.Fatalf("expected at most 2 calls in flight, saw %d", env.adapter.maxInflight)
	}
	if len(env.adapter.invoices) != 8 {
		t.Fatalf("expected 8 invoices, got %d", len(env.adapter.invoices))
	}
}

func TestSyncTenantLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.connect(t)

	if _, _, err := env.profile.AppendLedgerEntry(ctx, "t1", rent("2000")); err != nil {
		t.Fatal(err)
	}
	credit := &ledger.NewEntry{Type: ledger.TypeCredit, Description: "Payment", Amount: dec("500")}
	if _, _, err := env.profile.AppendLedgerEntry(ctx, "t1", credit); err != nil {
		t.Fatal(err)
	}

	r, err := env.sync.SyncTenantLedger(ctx, c.ID, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if r.RecordsCreated != 2 || len(r.Errors) != 0 {
		t.Fatalf("unexpected result %+v", r)
	}
	journals := env.adapter.journals
	if journals[0].Lines[0].AccountCode != "4000" || journals[1].Lines[1].AccountCode != "1000" {
		t.Fatalf("expected rent posted before the payment, got %+v", journals)
	}
	for i := range journals {
		if !journals[i].Balanced() {
			t.Fatalf("journal %d is not balanced", i)
		}
	}

	r, _ = env.sync.SyncTenantLedger(ctx, c.ID, "t1")
	if r.RecordsSkipped != 2 {
		t.Fatalf("posted entries should be skipped, got %+v", r)
	}
}

func TestSyncTenantLedger_ForeignTenant(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)
	env.store.PutTenant(&profile.Tenant{ID: "t2", OrganizationID: "org2", Name: "Lee Park", MonthlyRent: dec("1800")})

	_, err := env.sync.SyncTenantLedger(context.Background(), c.ID, "t2")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSyncPayments_UnknownIDs(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)
	env.store.PutPayment(ptr(rentPayment("p1", "2000", payment.StatusPending)))

	r, err := env.sync.SyncPayments(context.Background(), c.ID, []string{"p1", "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if r.RecordsProcessed != 2 || r.RecordsCreated != 1 || len(r.Errors) != 1 || r.Errors[0].RecordID != "ghost" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestSync_DisconnectedConnectionRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)
	if _, err := env.conns.Disconnect(context.Background(), c.ID); err != nil {
		t.Fatal(err)
	}
	p := rentPayment("p1", "2000", payment.StatusPending)
	if _, err := env.sync.SyncSingle(context.Background(), c.ID, &p); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSyncPending_AndScheduler(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.connect(t)
	events := &fakeBroadcaster{}
	env.sync.SetBroadcaster(events)
	env.sync.SetLocker(memory.NewLocker())

	env.store.PutPayment(ptr(rentPayment("p1", "2000", payment.StatusCompleted)))
	if _, _, err := env.profile.AppendLedgerEntry(ctx, "t1", rent("2000")); err != nil {
		t.Fatal(err)
	}

	if n := env.sync.RunScheduled(ctx); n != 1 {
		t.Fatalf("expected one due connection, got %d", n)
	}
	_, invoices, payments, journals := env.adapter.counts()
	if invoices != 1 || payments != 1 || journals != 1 {
		t.Fatalf("expected invoice, payment and journal, got %d/%d/%d", invoices, payments, journals)
	}
	if len(events.events) != 1 || events.events[0] != broadcast.EventSyncCompleted {
		t.Fatalf("expected one sync.completed event, got %v", events.events)
	}

	if n := env.sync.RunScheduled(ctx); n != 0 {
		t.Fatalf("connection synced moments ago must not be due, got %d", n)
	}

	env.now = env.now.Add(25 * time.Hour)
	locker := memory.NewLocker()
	held, err := locker.Obtain(ctx, schedulerLockKey, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release(ctx)
	env.sync.SetLocker(locker)
	if n := env.sync.RunScheduled(ctx); n != 0 {
		t.Fatalf("scheduler ran without the lock, synced %d", n)
	}
	if err := held.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if n := env.sync.RunScheduled(ctx); n != 1 {
		t.Fatalf("expected the connection due again after a day, got %d", n)
	}
	conn, _ := env.conns.Get(ctx, c.ID)
	if conn.LastSync == nil || !conn.LastSync.Equal(env.now) {
		t.Fatalf("expected last sync stamped at %s, got %v", env.now, conn.LastSync)
	}
}

func TestFinancialReport(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	rep, err := env.sync.FinancialReport(context.Background(), c.ID, bookkeeping.ReportProfitAndLoss, from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Rows) != 1 || rep.Kind != bookkeeping.ReportProfitAndLoss {
		t.Fatalf("unexpected report %+v", rep)
	}
	if _, err := env.sync.FinancialReport(context.Background(), c.ID, "cash_flow", from, to); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown kind, got %v", err)
	}
	if _, err := env.sync.FinancialReport(context.Background(), c.ID, bookkeeping.ReportBalanceSheet, to, from); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for reversed period, got %v", err)
	}
}
