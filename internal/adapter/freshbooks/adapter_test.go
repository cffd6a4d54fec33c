package freshbooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/accounting"
)

// Compile-time interface check.
var _ accounting.Adapter = (*Adapter)(nil)

func testConfig(srvURL string) accounting.Config {
	return accounting.Config{
		Provider: bookkeeping.Provider{
			ID:       providerID,
			AuthType: bookkeeping.AuthAPIKey,
			Limits:   bookkeeping.Limits{RateLimit: 120, MaxRetries: 0, Timeout: 2 * time.Second},
		},
		Credentials: bookkeeping.Credentials{
			AuthType: bookkeeping.AuthAPIKey,
			APIKey:   &bookkeeping.APIKeyCredentials{APIKey: "fb-key", AccountID: "acc1"},
		},
		BaseURL:   srvURL,
		RetryWait: time.Millisecond,
	}
}

func newAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(keyHeader); got != "fb-key" {
			t.Errorf("%s = %q", keyHeader, got)
		}
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	cfg := testConfig(srv.URL)
	a, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNew_RequiresAccount(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.Credentials.APIKey.AccountID = ""
	if _, err := New(&cfg); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateCustomer(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounting/account/acc1/users/clients" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]client
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		if c := body["client"]; c.FName != "Ann" || c.LName != "Lee" || c.Email != "ann@example.com" {
			t.Errorf("client = %+v", c)
		}
		_, _ = w.Write([]byte(`{"response":{"result":{"client":{"id":4021}}}}`))
	})
	ref, err := a.CreateCustomer(context.Background(), &bookkeeping.Customer{
		SourceID: "t1", Name: "Ann Lee", Email: "ann@example.com",
	})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if ref.ExternalID != "4021" || ref.Approximated {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestCreateInvoice_DueOffset(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]invoice
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		inv := body["invoice"]
		if inv.DueOffsetDays != 10 {
			t.Errorf("due offset = %d", inv.DueOffsetDays)
		}
		if len(inv.Lines) != 1 || inv.Lines[0].UnitCost.Amount != "1500.00" {
			t.Errorf("lines = %+v", inv.Lines)
		}
		_, _ = w.Write([]byte(`{"response":{"result":{"invoice":{"id":9}}}}`))
	})
	ref, err := a.CreateInvoice(context.Background(), &bookkeeping.Invoice{
		SourceID:           "p1",
		CustomerExternalID: "4021",
		IssueDate:          time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		DueDate:            time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC),
		Lines:              []bookkeeping.LineItem{{Description: "Rent", Amount: decimal.NewFromInt(1500), AccountCode: "4000"}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if ref.ExternalID != "9" {
		t.Fatalf("ExternalID = %q", ref.ExternalID)
	}
}

func TestCreatePayment_RequiresInvoice(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := a.CreatePayment(context.Background(), &bookkeeping.Payment{SourceID: "p1", Amount: decimal.NewFromInt(5)})
	var se *bookkeeping.SyncError
	if !errors.As(err, &se) || se.Kind != bookkeeping.KindValidation || se.RecordID != "p1" {
		t.Fatalf("expected validation sync error, got %v", err)
	}
}

func TestCreateJournalEntry_Approximated(t *testing.T) {
	amt := decimal.NewFromInt(75)
	tests := []struct {
		name     string
		account  string
		wantPath string
	}{
		{"income account becomes other income", "4100", "/accounting/account/acc1/other_incomes/other_incomes"},
		{"non-income account becomes expense", "1000", "/accounting/account/acc1/expenses/expenses"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.wantPath {
					t.Errorf("path = %q, want %q", r.URL.Path, tt.wantPath)
				}
				_, _ = w.Write([]byte(`{"response":{"result":{"other_income":{"id":1},"expense":{"id":2}}}}`))
			})
			ref, err := a.CreateJournalEntry(context.Background(), &bookkeeping.JournalEntry{
				SourceID: "e1",
				Date:     time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
				Memo:     "late fee",
				Lines: []bookkeeping.JournalLine{
					{AccountCode: tt.account, Debit: amt},
					{AccountCode: "1200", Credit: amt},
				},
			})
			if err != nil {
				t.Fatalf("CreateJournalEntry: %v", err)
			}
			if !ref.Approximated {
				t.Fatal("expected Approximated=true")
			}
		})
	}
}

func TestCreateJournalEntry_Unbalanced(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := a.CreateJournalEntry(context.Background(), &bookkeeping.JournalEntry{
		SourceID: "e1",
		Lines: []bookkeeping.JournalLine{
			{AccountCode: "1200", Debit: decimal.NewFromInt(10)},
			{AccountCode: "4000", Credit: decimal.NewFromInt(9)},
		},
	})
	var se *bookkeeping.SyncError
	if !errors.As(err, &se) || se.Kind != bookkeeping.KindValidation {
		t.Fatalf("expected validation sync error, got %v", err)
	}
}

func TestGetFinancialReport_BalanceSheet(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounting/account/acc1/reports/accounting/balance_sheet" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"response":{"result":{"balance_sheet":{
			"currency_code":"USD",
			"assets":[{"description":"Cash","total":{"amount":"9000.00","code":"USD"}}],
			"liabilities":[{"description":"Deposits held","total":{"amount":"3000.00","code":"USD"}}]
		}}}}`))
	})
	rep, err := a.GetFinancialReport(context.Background(), bookkeeping.ReportBalanceSheet,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetFinancialReport: %v", err)
	}
	if len(rep.Rows) != 2 || rep.Rows[1].Label != "Deposits held" {
		t.Fatalf("rows = %+v", rep.Rows)
	}
	if !rep.Rows[0].Amount.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("cash = %s", rep.Rows[0].Amount)
	}
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	calls := 0
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	err := a.TestConnection(context.Background())
	var se *bookkeeping.SyncError
	if !errors.As(err, &se) || se.Kind != bookkeeping.KindAuthentication {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
