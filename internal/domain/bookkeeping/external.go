package bookkeeping

import (
	"time"

	"github.com/shopspring/decimal"
)

// Normalized shapes handed to provider adapters. Each adapter converts them
// to its own JSON documents.

// InvoiceStatus of an external invoice.
type InvoiceStatus string

const (
	InvoiceSent InvoiceStatus = "sent"
	InvoicePaid InvoiceStatus = "paid"
)

// LineItem is one invoice line.
type LineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	AccountCode string          `json:"account_code"`
}

// Customer is the provider-side representation of a tenant.
type Customer struct {
	SourceID   string `json:"source_id"`
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
}

// Invoice is one rent invoice.
type Invoice struct {
	SourceID           string          `json:"source_id"`
	CustomerExternalID string          `json:"customer_external_id,omitempty"`
	Number             string          `json:"number"`
	IssueDate          time.Time       `json:"issue_date"`
	DueDate            time.Time       `json:"due_date"`
	Lines              []LineItem      `json:"lines"`
	Total              decimal.Decimal `json:"total"`
	Status             InvoiceStatus   `json:"status"`
}

// Payment records money received against an invoice.
type Payment struct {
	SourceID           string          `json:"source_id"`
	InvoiceExternalID  string          `json:"invoice_external_id,omitempty"`
	CustomerExternalID string          `json:"customer_external_id,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Date               time.Time       `json:"date"`
	BankAccountCode    string          `json:"bank_account_code"`
	Reference          string          `json:"reference,omitempty"`
}

// JournalLine is one side of a journal entry; exactly one of Debit and Credit is non-zero.
type JournalLine struct {
	AccountCode string          `json:"account_code"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// JournalEntry is a balanced two-line posting for one ledger entry.
type JournalEntry struct {
	SourceID  string        `json:"source_id"`
	Date      time.Time     `json:"date"`
	Memo      string        `json:"memo"`
	Reference string        `json:"reference,omitempty"`
	Lines     []JournalLine `json:"lines"`
}

// Balanced reports whether debits equal credits.
func (j *JournalEntry) Balanced() bool {
	d, c := decimal.Zero, decimal.Zero
	for _, l := range j.Lines {
		d = d.Add(l.Debit)
		c = c.Add(l.Credit)
	}
	return d.Equal(c)
}

// ExternalRef is what a provider returns after creating a record.
type ExternalRef struct {
	ExternalID string `json:"external_id"`
	// Approximated is set when the provider has no native primitive and the
	// adapter stored an equivalent record instead.
	Approximated bool `json:"approximated,omitempty"`
}

// ReportKind names a financial report.
type ReportKind string

const (
	ReportProfitAndLoss ReportKind = "profit_and_loss"
	ReportBalanceSheet  ReportKind = "balance_sheet"
)

// ReportRow is one labelled amount in a report.
type ReportRow struct {
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// FinancialReport is a provider report in normalized form.
type FinancialReport struct {
	Kind     ReportKind  `json:"kind"`
	From     time.Time   `json:"from"`
	To       time.Time   `json:"to"`
	Currency string      `json:"currency,omitempty"`
	Rows     []ReportRow `json:"rows"`
}
