package messagequeue

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
)

// PaymentStatusChangedPayload is the schema for payments.status.changed messages.
type PaymentStatusChangedPayload = payment.StatusChanged

// LedgerEntryAppendedPayload is the schema for ledger.entry.appended messages.
type LedgerEntryAppendedPayload struct {
	Entry      ledger.Entry    `json:"entry"`
	NewBalance decimal.Decimal `json:"new_balance"`
	AppendedAt time.Time       `json:"appended_at"`
}
