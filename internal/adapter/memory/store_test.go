package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/lock"
)

func TestAppendLedgerEntrySequential(t *testing.T) {
	s := New()
	ctx := context.Background()

	inputs := []ledger.NewEntry{
		{Type: ledger.TypeRent, Amount: decimal.NewFromInt(2000), Description: "rent"},
		{Type: ledger.TypeCredit, Amount: decimal.NewFromInt(500), Description: "payment"},
		{Type: ledger.TypeLateFee, Amount: decimal.NewFromInt(75), Description: "late"},
		{Type: ledger.TypeAdjustment, Amount: decimal.NewFromInt(-25), Description: "waive"},
	}
	sum := decimal.Zero
	for i := range inputs {
		e, err := s.AppendLedgerEntry(ctx, "t1", &inputs[i])
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		sum = sum.Add(ledger.SignedEffect(inputs[i].Type, inputs[i].Amount))
		if !e.Balance.Equal(sum) {
			t.Fatalf("entry %d: expected balance %s, got %s", i, sum, e.Balance)
		}
	}

	bal, _ := s.TenantBalance(ctx, "t1")
	if !bal.Equal(decimal.NewFromInt(1550)) {
		t.Fatalf("expected cached balance 1550, got %s", bal)
	}

	list, _ := s.ListLedgerEntries(ctx, "t1")
	if len(list) != 4 || list[0].Type != ledger.TypeAdjustment {
		t.Fatalf("expected newest first, got %+v", list)
	}
}

func TestAppendLedgerEntryRejectsInvalid(t *testing.T) {
	s := New()
	_, err := s.AppendLedgerEntry(context.Background(), "t1", &ledger.NewEntry{Type: ledger.TypeRent, Description: "x"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAppendLedgerEntryConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	const perTenant = 50
	tenants := []string{"t1", "t2", "t3"}

	var wg sync.WaitGroup
	for _, tid := range tenants {
		for i := 0; i < perTenant; i++ {
			wg.Add(1)
			go func(tid string, i int) {
				defer wg.Done()
				typ := ledger.TypeRent
				if i%2 == 1 {
					typ = ledger.TypeCredit
				}
				_, err := s.AppendLedgerEntry(ctx, tid, &ledger.NewEntry{Type: typ, Amount: decimal.NewFromInt(int64(i + 1)), Description: "c"})
				if err != nil {
					t.Errorf("append: %v", err)
				}
			}(tid, i)
		}
	}
	wg.Wait()

	for _, tid := range tenants {
		list, _ := s.ListLedgerEntries(ctx, tid)
		if len(list) != perTenant {
			t.Fatalf("%s: expected %d entries, got %d", tid, perTenant, len(list))
		}
		final, err := ledger.VerifyChain(ledger.NewestFirst(list))
		if err != nil {
			t.Fatalf("%s: %v", tid, err)
		}
		// odd amounts (rent) minus even amounts (credit): 1+3+...+49 - (2+4+...+50) = -25
		if !final.Equal(decimal.NewFromInt(-25)) {
			t.Fatalf("%s: expected final -25, got %s", tid, final)
		}
	}
}

func TestConnectionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	c := &bookkeeping.Connection{ID: "c1", OrganizationID: "org", ProviderID: "sage", SyncStatus: bookkeeping.StatusActive,
		Configuration: bookkeeping.Configuration{AccountMappings: map[string]string{"rent": "4000"}}, CreatedAt: now}
	if err := s.CreateConnection(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateConnection(ctx, c); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := s.GetConnection(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	got.Configuration.AccountMappings["rent"] = "9999"
	again, _ := s.GetConnection(ctx, "c1")
	if again.Configuration.AccountMappings["rent"] != "4000" {
		t.Fatal("store leaked a mutable map")
	}

	updated, err := s.RecordSyncOutcome(ctx, "c1", bookkeeping.StatusError, now, "boom")
	if err != nil {
		t.Fatal(err)
	}
	if updated.SyncStatus != bookkeeping.StatusError || updated.LastError != "boom" || updated.LastSync == nil {
		t.Fatalf("unexpected outcome %+v", updated)
	}

	// again was read while active; the sync outcome has since moved it to error.
	again.SyncStatus = bookkeeping.StatusPaused
	again.LastError = ""
	if err := s.UpdateConnection(ctx, again, bookkeeping.StatusActive); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale update: expected ErrConflict, got %v", err)
	}
	if err := s.UpdateConnection(ctx, again, bookkeeping.StatusError); err != nil {
		t.Fatal(err)
	}
	if cur, _ := s.GetConnection(ctx, "c1"); cur.LastError != "boom" || cur.LastSync == nil {
		t.Fatalf("update overwrote the sync outcome: %+v", cur)
	}
	if err := s.UpdateConnection(ctx, &bookkeeping.Connection{ID: "missing"}, bookkeeping.StatusActive); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	updated, _ = s.RecordSyncOutcome(ctx, "c1", bookkeeping.StatusActive, now, "")
	if updated.SyncStatus != bookkeeping.StatusPaused {
		t.Fatalf("paused connection changed to %s", updated.SyncStatus)
	}

	sched, _ := s.ListSchedulableConnections(ctx)
	if len(sched) != 0 {
		t.Fatalf("paused connection must not be schedulable")
	}

	if err := s.DeleteConnection(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetConnection(ctx, "c1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListUnsynced(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutTenant(&profile.Tenant{ID: "t1", OrganizationID: "org"})
	s.PutTenant(&profile.Tenant{ID: "t9", OrganizationID: "other"})
	for i := 1; i <= 3; i++ {
		s.PutPayment(&payment.Payment{ID: fmt.Sprintf("p%d", i), TenantID: "t1", Amount: decimal.NewFromInt(10),
			DueDate: time.Date(2026, time.Month(i), 1, 0, 0, 0, 0, time.UTC), Status: payment.StatusCompleted})
	}
	s.PutPayment(&payment.Payment{ID: "px", TenantID: "t9", Amount: decimal.NewFromInt(10), Status: payment.StatusCompleted})
	_ = s.UpsertSyncRecord(ctx, &bookkeeping.SyncRecord{ConnectionID: "c1", RecordType: bookkeeping.RecordPayment, RecordID: "p1", State: bookkeeping.StatePaid})
	_ = s.UpsertSyncRecord(ctx, &bookkeeping.SyncRecord{ConnectionID: "c1", RecordType: bookkeeping.RecordPayment, RecordID: "p2", State: bookkeeping.StateInvoiced})

	ps, _ := s.ListUnsyncedPayments(ctx, "c1", "org", 0)
	if len(ps) != 2 || ps[0].ID != "p2" || ps[1].ID != "p3" {
		t.Fatalf("unexpected unsynced payments %+v", ps)
	}

	e, _ := s.AppendLedgerEntry(ctx, "t1", &ledger.NewEntry{Type: ledger.TypeRent, Amount: decimal.NewFromInt(1), Description: "r"})
	_, _ = s.AppendLedgerEntry(ctx, "t1", &ledger.NewEntry{Type: ledger.TypeRent, Amount: decimal.NewFromInt(1), Description: "r"})
	_ = s.UpsertSyncRecord(ctx, &bookkeeping.SyncRecord{ConnectionID: "c1", RecordType: bookkeeping.RecordLedgerEntry, RecordID: e.ID, State: bookkeeping.StatePosted})
	es, _ := s.ListUnsyncedLedgerEntries(ctx, "c1", "org", 10)
	if len(es) != 1 || es[0].ID == e.ID {
		t.Fatalf("unexpected unsynced entries %+v", es)
	}
}

func TestLocker(t *testing.T) {
	l := NewLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	held, err := l.Obtain(ctx, "scheduler", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Obtain(ctx, "scheduler", time.Minute); !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}
	if err := held.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Obtain(ctx, "scheduler", time.Minute); err != nil {
		t.Fatalf("expected obtain after release, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := l.Obtain(ctx, "scheduler", time.Minute); err != nil {
		t.Fatalf("expected obtain after expiry, got %v", err)
	}
}

func TestAppendPanicsWhenCachedBalanceDrifts(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.AppendLedgerEntry(ctx, "t1", &ledger.NewEntry{Type: ledger.TypeRent, Description: "rent", Amount: decimal.NewFromInt(2000)}); err != nil {
		t.Fatal(err)
	}
	s.balances["t1"] = decimal.NewFromInt(1999)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when the cached balance disagrees with the newest entry")
		}
	}()
	_, _ = s.AppendLedgerEntry(ctx, "t1", &ledger.NewEntry{Type: ledger.TypeCredit, Description: "payment", Amount: decimal.NewFromInt(500)})
}
