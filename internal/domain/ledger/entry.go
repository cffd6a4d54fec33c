// Package ledger defines tenant ledger entries and the running-balance rules.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
)

// EntryType classifies a financial movement on a tenant account.
type EntryType string

const (
	TypeRent       EntryType = "rent"
	TypeDeposit    EntryType = "deposit"
	TypeFee        EntryType = "fee"
	TypeLateFee    EntryType = "late_fee"
	TypeCredit     EntryType = "credit"
	TypeDebit      EntryType = "debit"
	TypeRefund     EntryType = "refund"
	TypeAdjustment EntryType = "adjustment"
)

var validTypes = map[EntryType]bool{
	TypeRent:       true,
	TypeDeposit:    true,
	TypeFee:        true,
	TypeLateFee:    true,
	TypeCredit:     true,
	TypeDebit:      true,
	TypeRefund:     true,
	TypeAdjustment: true,
}

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool { return validTypes[t] }

// Reduces reports whether entries of this type lower the tenant balance.
func (t EntryType) Reduces() bool { return t == TypeCredit || t == TypeRefund }

// Entry is one immutable movement on a tenant ledger. Balance is the running
// balance after the entry was applied.
type Entry struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	PropertyID  string          `json:"property_id"`
	Date        time.Time       `json:"date"`
	Type        EntryType       `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	Category    string          `json:"category"`
	Reference   string          `json:"reference,omitempty"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SignedEffect is the amount the entry adds to the running balance.
func (e *Entry) SignedEffect() decimal.Decimal {
	return SignedEffect(e.Type, e.Amount)
}

// SignedEffect returns -amount for credits and refunds and +amount otherwise.
func SignedEffect(t EntryType, amount decimal.Decimal) decimal.Decimal {
	if t.Reduces() {
		return amount.Neg()
	}
	return amount
}

// NewEntry holds the caller-supplied fields of an entry to append. The store
// assigns ID, Balance and CreatedAt.
type NewEntry struct {
	PropertyID  string          `json:"property_id"`
	Date        time.Time       `json:"date"`
	Type        EntryType       `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Reference   string          `json:"reference,omitempty"`
	CreatedBy   string          `json:"created_by"`
}

// Validate checks the entry before it is appended. Direction is carried by the
// type, so every type except adjustment requires a positive amount.
func (n *NewEntry) Validate() error {
	if !n.Type.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", domain.ErrValidation, n.Type)
	}
	if n.Amount.IsZero() {
		return fmt.Errorf("%w: amount must not be zero", domain.ErrValidation)
	}
	if n.Type != TypeAdjustment && n.Amount.IsNegative() {
		return fmt.Errorf("%w: amount for %s entries must be positive", domain.ErrValidation, n.Type)
	}
	if strings.TrimSpace(n.Description) == "" {
		return fmt.Errorf("%w: description is required", domain.ErrValidation)
	}
	if len(n.Description) > 500 {
		return fmt.Errorf("%w: description too long (max 500 chars)", domain.ErrValidation)
	}
	return nil
}

// DefaultCategory returns the category used when the caller leaves it empty.
func DefaultCategory(t EntryType) string {
	switch t {
	case TypeCredit:
		return "payment"
	case TypeLateFee:
		return "late_fee"
	default:
		return string(t)
	}
}
