// Package payment holds the payment records the ledger consumes from the
// payment-processing subsystem. The ledger never mutates them.
package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the processor-reported state of a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusOverdue   Status = "overdue"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known payment status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusPartial, StatusOverdue, StatusFailed:
		return true
	}
	return false
}

// Fee is an extra charge attached to a payment.
type Fee struct {
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Payment is one expected or settled rent payment.
type Payment struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	PropertyID      string           `json:"property_id"`
	Amount          decimal.Decimal  `json:"amount"`
	DueDate         time.Time        `json:"due_date"`
	PaidDate        *time.Time       `json:"paid_date,omitempty"`
	Status          Status           `json:"status"`
	PaymentMethodID string           `json:"payment_method_id,omitempty"`
	Fees            []Fee            `json:"fees,omitempty"`
	LateFee         *decimal.Decimal `json:"late_fee,omitempty"`
}

// FeesTotal sums the attached fees, excluding the late fee.
func (p *Payment) FeesTotal() decimal.Decimal {
	total := decimal.Zero
	for i := range p.Fees {
		total = total.Add(p.Fees[i].Amount)
	}
	return total
}

// AmountDue is the payment amount plus fees and any late fee.
func (p *Payment) AmountDue() decimal.Decimal {
	due := p.Amount.Add(p.FeesTotal())
	if p.LateFee != nil {
		due = due.Add(*p.LateFee)
	}
	return due
}

// SettledOn returns the paid date, falling back to the due date.
func (p *Payment) SettledOn() time.Time {
	if p.PaidDate != nil {
		return *p.PaidDate
	}
	return p.DueDate
}

// Method is a stored payment instrument of a tenant. Only display data is kept.
type Method struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Kind      string `json:"kind"` // card, ach, ...
	Last4     string `json:"last4,omitempty"`
	IsDefault bool   `json:"is_default"`
}

// StatusChanged is the event the payment subsystem publishes when a payment
// changes state.
type StatusChanged struct {
	Payment    Payment   `json:"payment"`
	Previous   Status    `json:"previous"`
	OccurredAt time.Time `json:"occurred_at"`
}
