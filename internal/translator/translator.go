// Package translator maps ledger and payment records to the normalized
// bookkeeping shapes using a connection's account mappings. It does no I/O.
//
// Failures are *bookkeeping.SyncError values of kind validation carrying the
// source record id.
package translator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/profile"
)

// DefaultRentIncomeAccount is used when a connection has no rent mapping.
// It is the conventional rental-income code in the default chart of
// accounts of all supported providers; pending product confirmation.
const DefaultRentIncomeAccount = "4000"

// Mappings is a connection's category to account-code table.
type Mappings map[string]string

func (m Mappings) lookup(keys ...string) (string, bool) {
	for _, k := range keys {
		if code := strings.TrimSpace(m[k]); code != "" {
			return code, true
		}
	}
	return "", false
}

func (m Mappings) rentAccount() string {
	if code, ok := m.lookup(bookkeeping.AccountRentIncome); ok {
		return code
	}
	return DefaultRentIncomeAccount
}

func invalid(recordID, format string, args ...any) *bookkeeping.SyncError {
	return bookkeeping.NewSyncError(bookkeeping.KindValidation, recordID, fmt.Sprintf(format, args...))
}

// ToCustomer maps a tenant to a provider customer.
func ToCustomer(t *profile.Tenant) (*bookkeeping.Customer, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, invalid(t.ID, "tenant has no name")
	}
	return &bookkeeping.Customer{
		SourceID: t.ID,
		Name:     t.Name,
		Email:    t.Email,
		Phone:    t.Phone,
		Address:  joinNonEmpty(", ", t.Address, t.Unit),
	}, nil
}

// ToInvoice builds a rent invoice with one line for the rent, one per fee and
// one for the late fee. Fees map by their type, falling back to the generic
// fee account.
func ToInvoice(p *payment.Payment, m Mappings) (*bookkeeping.Invoice, error) {
	if !p.Amount.IsPositive() {
		return nil, invalid(p.ID, "payment amount %s is not positive", p.Amount)
	}

	lines := []bookkeeping.LineItem{{
		Description: "Rent due " + p.DueDate.Format("2006-01-02"),
		Amount:      p.Amount,
		AccountCode: m.rentAccount(),
	}}
	for _, f := range p.Fees {
		if f.Amount.IsNegative() {
			return nil, invalid(p.ID, "fee %q has negative amount %s", f.Type, f.Amount)
		}
		code, ok := m.lookup(f.Type, bookkeeping.AccountFeeIncome)
		if !ok {
			return nil, invalid(p.ID, "no account mapping for fee %q", f.Type)
		}
		desc := f.Description
		if desc == "" {
			desc = f.Type
		}
		lines = append(lines, bookkeeping.LineItem{Description: desc, Amount: f.Amount, AccountCode: code})
	}
	if p.LateFee != nil && p.LateFee.IsPositive() {
		code, ok := m.lookup(bookkeeping.AccountLateFee)
		if !ok {
			return nil, invalid(p.ID, "no account mapping for late_fee")
		}
		lines = append(lines, bookkeeping.LineItem{Description: "Late fee", Amount: *p.LateFee, AccountCode: code})
	}

	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Amount)
	}

	status := bookkeeping.InvoiceSent
	if p.Status == payment.StatusCompleted {
		status = bookkeeping.InvoicePaid
	}
	return &bookkeeping.Invoice{
		SourceID:  p.ID,
		Number:    invoiceNumber(p),
		IssueDate: p.DueDate,
		DueDate:   p.DueDate,
		Lines:     lines,
		Total:     total,
		Status:    status,
	}, nil
}

// ToPayment builds the provider payment settling the invoice of p.
func ToPayment(p *payment.Payment, m Mappings) (*bookkeeping.Payment, error) {
	amount := p.AmountDue()
	if !amount.IsPositive() {
		return nil, invalid(p.ID, "payment amount %s is not positive", amount)
	}
	bank, ok := m.lookup(bookkeeping.AccountBank)
	if !ok {
		return nil, invalid(p.ID, "no account mapping for bank")
	}
	return &bookkeeping.Payment{
		SourceID:        p.ID,
		Amount:          amount,
		Date:            p.SettledOn(),
		BankAccountCode: bank,
		Reference:       p.ID,
	}, nil
}

// ToJournalEntry builds a two-line posting. A positive effect debits the
// category account and credits receivables; a negative effect reverses both.
// The category account is looked up by category, then entry type; rent falls
// back to DefaultRentIncomeAccount and credits or refunds to the bank account.
func ToJournalEntry(e *ledger.Entry, m Mappings) (*bookkeeping.JournalEntry, error) {
	effect := e.SignedEffect()
	if effect.IsZero() {
		return nil, invalid(e.ID, "entry amount is zero")
	}

	keys := []string{e.Category, string(e.Type)}
	if e.Type.Reduces() {
		keys = append(keys, bookkeeping.AccountBank)
	}
	account, ok := m.lookup(keys...)
	if !ok && e.Type == ledger.TypeRent {
		account, ok = m.rentAccount(), true
	}
	if !ok {
		return nil, invalid(e.ID, "no account mapping for category %q", e.Category)
	}
	receivables, ok := m.lookup(bookkeeping.AccountReceivables)
	if !ok {
		return nil, invalid(e.ID, "no account mapping for receivables")
	}

	amount := effect.Abs()
	debitAcct, creditAcct := account, receivables
	if effect.IsNegative() {
		debitAcct, creditAcct = receivables, account
	}
	return &bookkeeping.JournalEntry{
		SourceID:  e.ID,
		Date:      e.Date,
		Memo:      e.Description,
		Reference: e.Reference,
		Lines: []bookkeeping.JournalLine{
			{AccountCode: debitAcct, Description: e.Description, Debit: amount, Credit: decimal.Zero},
			{AccountCode: creditAcct, Description: e.Description, Debit: decimal.Zero, Credit: amount},
		},
	}, nil
}

func invoiceNumber(p *payment.Payment) string {
	id := p.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "RENT-" + p.DueDate.Format("200601") + "-" + strings.ToUpper(id)
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, sep)
}
