package quickbooks

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
			AuthType: bookkeeping.AuthOAuth2,
			Limits:   bookkeeping.Limits{RateLimit: 500, MaxRetries: 1, Timeout: 2 * time.Second},
		},
		Credentials: bookkeeping.Credentials{
			AuthType: bookkeeping.AuthOAuth2,
			OAuth2: &bookkeeping.OAuth2Credentials{
				ClientID:     "cid",
				ClientSecret: "secret",
				RefreshToken: "refresh",
				RealmID:      "123",
			},
		},
		BaseURL:   srvURL,
		TokenURL:  srvURL + "/token",
		RetryWait: time.Millisecond,
	}
}

// newServer serves the token endpoint and routes API calls to api.
func newServer(t *testing.T, api http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/company/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at-1" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("minorversion") == "" {
			t.Error("missing minorversion")
		}
		api(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresRealm(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.Credentials.OAuth2.RealmID = ""
	if _, err := New(&cfg); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNew_RejectsWrongBundle(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.Credentials = bookkeeping.Credentials{
		AuthType: bookkeeping.AuthAPIKey,
		APIKey:   &bookkeeping.APIKeyCredentials{APIKey: "k"},
	}
	if _, err := New(&cfg); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegistered(t *testing.T) {
	cfg := testConfig("http://localhost")
	a, err := accounting.New(cfg)
	if err != nil {
		t.Fatalf("accounting.New: %v", err)
	}
	if a.ProviderID() != "quickbooks" {
		t.Fatalf("ProviderID = %q", a.ProviderID())
	}
}

func TestTestConnection(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/company/123/companyinfo/123" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"CompanyInfo":{"CompanyName":"Acme"}}`))
	})
	cfg := testConfig(srv.URL)
	a, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}

func TestCreateInvoice(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/company/123/invoice" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
			return
		}
		if body["DueDate"] != "2026-03-01" {
			t.Errorf("DueDate = %v", body["DueDate"])
		}
		if ref := body["CustomerRef"].(map[string]any); ref["value"] != "C9" {
			t.Errorf("CustomerRef = %v", ref)
		}
		lines := body["Line"].([]any)
		if len(lines) != 2 {
			t.Errorf("lines = %d, want 2", len(lines))
			return
		}
		if amt := lines[0].(map[string]any)["Amount"]; amt != 1200.0 {
			t.Errorf("line amount = %v", amt)
		}
		_, _ = w.Write([]byte(`{"Invoice":{"Id":"77"}}`))
	})
	cfg := testConfig(srv.URL)
	a, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	inv := &bookkeeping.Invoice{
		SourceID:           "p1",
		CustomerExternalID: "C9",
		Number:             "INV-1",
		IssueDate:          time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		DueDate:            time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Lines: []bookkeeping.LineItem{
			{Description: "Rent", Amount: decimal.NewFromInt(1200), AccountCode: "4000"},
			{Description: "Late fee", Amount: decimal.NewFromInt(50), AccountCode: "4100"},
		},
	}
	ref, err := a.CreateInvoice(context.Background(), inv)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if ref.ExternalID != "77" || ref.Approximated {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestCreateJournalEntry_PostingTypes(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body journalEntry
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
			return
		}
		if len(body.Line) != 2 {
			t.Errorf("lines = %d", len(body.Line))
			return
		}
		if body.Line[0].JournalEntryLineDetail.PostingType != "Debit" ||
			body.Line[1].JournalEntryLineDetail.PostingType != "Credit" {
			t.Errorf("posting types = %s/%s", body.Line[0].JournalEntryLineDetail.PostingType, body.Line[1].JournalEntryLineDetail.PostingType)
		}
		if body.Line[1].Amount != "250.00" {
			t.Errorf("credit amount = %s", body.Line[1].Amount)
		}
		_, _ = w.Write([]byte(`{"JournalEntry":{"Id":"J1"}}`))
	})
	cfg := testConfig(srv.URL)
	a, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	amt := decimal.NewFromInt(250)
	ref, err := a.CreateJournalEntry(context.Background(), &bookkeeping.JournalEntry{
		SourceID: "e1",
		Date:     time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Lines: []bookkeeping.JournalLine{
			{AccountCode: "1200", Debit: amt},
			{AccountCode: "4000", Credit: amt},
		},
	})
	if err != nil {
		t.Fatalf("CreateJournalEntry: %v", err)
	}
	if ref.ExternalID != "J1" {
		t.Fatalf("ExternalID = %q", ref.ExternalID)
	}
}

func TestCreate_MissingIDIsServerError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Customer":{}}`))
	})
	cfg := testConfig(srv.URL)
	a, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.CreateCustomer(context.Background(), &bookkeeping.Customer{SourceID: "t1", Name: "Ann"})
	var se *bookkeeping.SyncError
	if !errors.As(err, &se) || se.Kind != bookkeeping.KindServer {
		t.Fatalf("expected server sync error, got %v", err)
	}
}

func TestCreatePayment_BusinessRejection(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"Fault":{"Error":[{"Message":"Invalid Reference Id"}]}}`))
	})
	cfg := testConfig(srv.URL)
	a, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.CreatePayment(context.Background(), &bookkeeping.Payment{
		SourceID: "p1", Amount: decimal.NewFromInt(10), BankAccountCode: "1000",
	})
	var se *bookkeeping.SyncError
	if !errors.As(err, &se) || se.Kind != bookkeeping.KindBusinessLogic || se.Retryable {
		t.Fatalf("expected non-retryable business error, got %v", err)
	}
}

func TestGetFinancialReport(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/company/123/reports/ProfitAndLoss" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("start_date") != "2026-01-01" || r.URL.Query().Get("end_date") != "2026-01-31" {
			t.Errorf("query = %v", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{
			"Header": {"Currency": "USD"},
			"Rows": {"Row": [
				{"group": "Income", "Summary": {"ColData": [{"value": "Total Income"}, {"value": "5400.00"}]}},
				{"group": "Expenses", "Summary": {"ColData": [{"value": "Total Expenses"}, {"value": "1200.50"}]}},
				{"ColData": [{"value": "Net Income"}, {"value": "4199.50"}]}
			]}
		}`))
	})
	cfg := testConfig(srv.URL)
	a, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	rep, err := a.GetFinancialReport(context.Background(), bookkeeping.ReportProfitAndLoss, from, to)
	if err != nil {
		t.Fatalf("GetFinancialReport: %v", err)
	}
	if rep.Currency != "USD" || len(rep.Rows) != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Rows[2].Label != "Net Income" || !rep.Rows[2].Amount.Equal(decimal.RequireFromString("4199.50")) {
		t.Fatalf("net row = %+v", rep.Rows[2])
	}
}

func TestGetFinancialReport_UnknownKind(t *testing.T) {
	cfg := testConfig("http://localhost")
	a, err := New(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.GetFinancialReport(context.Background(), "cash_flow", time.Time{}, time.Time{})
	var se *bookkeeping.SyncError
	if !errors.As(err, &se) || se.Kind != bookkeeping.KindValidation {
		t.Fatalf("expected validation sync error, got %v", err)
	}
}
