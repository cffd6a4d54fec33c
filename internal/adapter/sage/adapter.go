// Package sage implements an accounting.Adapter for Sage Business Cloud
// Accounting (API v3.1) with HTTP basic credentials.
package sage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/adapter/restapi"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/port/accounting"
)

const (
	providerID     = "sage"
	businessHeader = "X-Business"
	dateLayout     = "2006-01-02"
)

// Adapter talks to one Sage business.
type Adapter struct {
	client *restapi.Client
}

// New validates cfg and builds an adapter. BusinessID is optional; without it
// Sage uses the lead business of the user.
func New(cfg *accounting.Config) (*Adapter, error) {
	if err := cfg.Credentials.Validate(bookkeeping.AuthUsernamePassword); err != nil {
		return nil, err
	}
	creds := cfg.Credentials.Basic
	auth := restapi.Basic(creds.Username, creds.Password)
	if creds.BusinessID != "" {
		basic := auth
		auth = restapi.AuthenticatorFunc(func(ctx context.Context, req *resty.Request) error {
			req.SetHeader(businessHeader, creds.BusinessID)
			return basic.Authorize(ctx, req)
		})
	}
	return &Adapter{client: restapi.New(cfg, auth)}, nil
}

func (a *Adapter) ProviderID() string { return providerID }

type created struct {
	ID string `json:"id"`
}

func (a *Adapter) TestConnection(ctx context.Context) error {
	var out map[string]any
	return a.client.Do(ctx, restapi.Call{Method: http.MethodGet, Path: "/financial_settings", Out: &out})
}

func (a *Adapter) post(ctx context.Context, path string, body any) (bookkeeping.ExternalRef, error) {
	var out created
	if err := a.client.Do(ctx, restapi.Call{Method: http.MethodPost, Path: path, Body: body, Out: &out}); err != nil {
		return bookkeeping.ExternalRef{}, err
	}
	if out.ID == "" {
		return bookkeeping.ExternalRef{}, bookkeeping.NewSyncError(bookkeeping.KindServer, "", "sage "+path+" response carries no id")
	}
	return bookkeeping.ExternalRef{ExternalID: out.ID}, nil
}

type contact struct {
	Name           string   `json:"name"`
	ContactTypeIDs []string `json:"contact_type_ids"`
	Reference      string   `json:"reference,omitempty"`
	Email          string   `json:"email,omitempty"`
	Telephone      string   `json:"telephone,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

func (a *Adapter) CreateCustomer(ctx context.Context, c *bookkeeping.Customer) (bookkeeping.ExternalRef, error) {
	return a.post(ctx, "/contacts", map[string]contact{"contact": {
		Name:           c.Name,
		ContactTypeIDs: []string{"CUSTOMER"},
		Reference:      reference(c.SourceID),
		Email:          c.Email,
		Telephone:      c.Phone,
		Notes:          c.Address,
	}})
}

// reference shortens source ids to the 25 characters Sage accepts.
func reference(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 25 {
		id = id[:25]
	}
	return id
}

type invoiceLine struct {
	Description   string      `json:"description"`
	LedgerAccount string      `json:"ledger_account_id"`
	Quantity      int         `json:"quantity"`
	UnitPrice     json.Number `json:"unit_price"`
}

type salesInvoice struct {
	ContactID    string        `json:"contact_id"`
	Date         string        `json:"date"`
	DueDate      string        `json:"due_date"`
	Reference    string        `json:"reference,omitempty"`
	InvoiceLines []invoiceLine `json:"invoice_lines"`
}

func (a *Adapter) CreateInvoice(ctx context.Context, inv *bookkeeping.Invoice) (bookkeeping.ExternalRef, error) {
	body := salesInvoice{
		ContactID: inv.CustomerExternalID,
		Date:      inv.IssueDate.Format(dateLayout),
		DueDate:   inv.DueDate.Format(dateLayout),
		Reference: inv.Number,
	}
	for _, l := range inv.Lines {
		body.InvoiceLines = append(body.InvoiceLines, invoiceLine{
			Description:   l.Description,
			LedgerAccount: l.AccountCode,
			Quantity:      1,
			UnitPrice:     restapi.Money(l.Amount),
		})
	}
	return a.post(ctx, "/sales_invoices", map[string]salesInvoice{"sales_invoice": body})
}

type allocatedArtefact struct {
	ArtefactID string      `json:"artefact_id"`
	Amount     json.Number `json:"amount"`
}

type contactPayment struct {
	TransactionTypeID  string              `json:"transaction_type_id"`
	ContactID          string              `json:"contact_id"`
	BankAccountID      string              `json:"bank_account_id"`
	Date               string              `json:"date"`
	TotalAmount        json.Number         `json:"total_amount"`
	Reference          string              `json:"reference,omitempty"`
	AllocatedArtefacts []allocatedArtefact `json:"allocated_artefacts,omitempty"`
}

func (a *Adapter) CreatePayment(ctx context.Context, p *bookkeeping.Payment) (bookkeeping.ExternalRef, error) {
	body := contactPayment{
		TransactionTypeID: "CUSTOMER_RECEIPT",
		ContactID:         p.CustomerExternalID,
		BankAccountID:     p.BankAccountCode,
		Date:              p.Date.Format(dateLayout),
		TotalAmount:       restapi.Money(p.Amount),
		Reference:         p.Reference,
	}
	if p.InvoiceExternalID != "" {
		body.AllocatedArtefacts = []allocatedArtefact{{ArtefactID: p.InvoiceExternalID, Amount: restapi.Money(p.Amount)}}
	}
	return a.post(ctx, "/contact_payments", map[string]contactPayment{"contact_payment": body})
}

type journalLine struct {
	LedgerAccountID string      `json:"ledger_account_id"`
	Details         string      `json:"details,omitempty"`
	Debit           json.Number `json:"debit"`
	Credit          json.Number `json:"credit"`
}

type journal struct {
	Date         string        `json:"date"`
	Reference    string        `json:"reference"`
	Description  string        `json:"description,omitempty"`
	JournalLines []journalLine `json:"journal_lines"`
}

func (a *Adapter) CreateJournalEntry(ctx context.Context, j *bookkeeping.JournalEntry) (bookkeeping.ExternalRef, error) {
	ref := j.Reference
	if ref == "" {
		ref = reference(j.SourceID)
	}
	body := journal{Date: j.Date.Format(dateLayout), Reference: ref, Description: j.Memo}
	for _, l := range j.Lines {
		body.JournalLines = append(body.JournalLines, journalLine{
			LedgerAccountID: l.AccountCode,
			Details:         l.Description,
			Debit:           restapi.Money(l.Debit),
			Credit:          restapi.Money(l.Credit),
		})
	}
	return a.post(ctx, "/journals", map[string]journal{"journal": body})
}

type trialBalanceRow struct {
	LedgerAccount struct {
		DisplayedAs       string `json:"displayed_as"`
		LedgerAccountType struct {
			ID string `json:"id"`
		} `json:"ledger_account_type"`
	} `json:"ledger_account"`
	Debit  json.RawMessage `json:"debit"`
	Credit json.RawMessage `json:"credit"`
}

// GetFinancialReport derives the report from the trial balance: profit and
// loss keeps income and expense accounts, the balance sheet keeps the rest.
// Amounts are credit minus debit.
func (a *Adapter) GetFinancialReport(ctx context.Context, kind bookkeeping.ReportKind, from, to time.Time) (*bookkeeping.FinancialReport, error) {
	if kind != bookkeeping.ReportProfitAndLoss && kind != bookkeeping.ReportBalanceSheet {
		return nil, bookkeeping.NewSyncError(bookkeeping.KindValidation, "", fmt.Sprintf("unsupported report %q", kind))
	}

	var out struct {
		Items []trialBalanceRow `json:"$items"`
	}
	if err := a.client.Do(ctx, restapi.Call{
		Method: http.MethodGet,
		Path:   "/trial_balance",
		Query:  map[string]string{"from_date": from.Format(dateLayout), "to_date": to.Format(dateLayout)},
		Out:    &out,
	}); err != nil {
		return nil, err
	}

	fr := &bookkeeping.FinancialReport{Kind: kind, From: from, To: to}
	for _, r := range out.Items {
		if isProfitAndLoss(r.LedgerAccount.LedgerAccountType.ID) != (kind == bookkeeping.ReportProfitAndLoss) {
			continue
		}
		debit, err := restapi.ParseMoney(r.Debit)
		if err != nil {
			return nil, bookkeeping.NewSyncError(bookkeeping.KindServer, "", "sage trial balance: "+err.Error())
		}
		credit, err := restapi.ParseMoney(r.Credit)
		if err != nil {
			return nil, bookkeeping.NewSyncError(bookkeeping.KindServer, "", "sage trial balance: "+err.Error())
		}
		fr.Rows = append(fr.Rows, bookkeeping.ReportRow{Label: r.LedgerAccount.DisplayedAs, Amount: credit.Sub(debit)})
	}
	return fr, nil
}

func isProfitAndLoss(accountType string) bool {
	switch accountType {
	case "SALES", "OTHER_INCOME", "DIRECT_EXPENSES", "OVERHEADS", "DEPRECIATION":
		return true
	}
	return false
}
