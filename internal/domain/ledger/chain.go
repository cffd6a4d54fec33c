package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Next builds the entry that follows a ledger whose current balance is prev.
// The caller must hold the tenant's append lock while prev is read and the
// result is written.
func Next(tenantID, id string, prev decimal.Decimal, n *NewEntry, now time.Time) Entry {
	date := n.Date
	if date.IsZero() {
		date = now
	}
	category := n.Category
	if category == "" {
		category = DefaultCategory(n.Type)
	}
	e := Entry{
		ID:          id,
		TenantID:    tenantID,
		PropertyID:  n.PropertyID,
		Date:        date,
		Type:        n.Type,
		Description: n.Description,
		Amount:      n.Amount,
		Category:    category,
		Reference:   n.Reference,
		CreatedBy:   n.CreatedBy,
		CreatedAt:   now,
	}
	e.Balance = prev.Add(e.SignedEffect())
	return e
}

// MustAgree panics when the tenant's cached balance differs from the balance
// of its newest stored entry (head, nil for an empty ledger). Stores call it
// under the append lock before computing the next entry; a mismatch means an
// earlier append was not serialized and the chain is already broken.
func MustAgree(tenantID string, cached decimal.Decimal, head *Entry) {
	want, at := decimal.Zero, "<empty>"
	if head != nil {
		want, at = head.Balance, head.ID
	}
	if !cached.Equal(want) {
		panic(fmt.Sprintf("ledger: balance chain broken for tenant %s: cached balance %s, entry %s has %s",
			tenantID, cached, at, want))
	}
}

// ChainError describes the first entry whose stored balance disagrees with
// the prefix sum of signed effects.
type ChainError struct {
	TenantID string
	EntryID  string
	Index    int
	Stored   decimal.Decimal
	Expected decimal.Decimal
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger chain mismatch for tenant %s at entry %s (#%d): stored %s, expected %s",
		e.TenantID, e.EntryID, e.Index, e.Stored, e.Expected)
}

// VerifyChain checks entries in insertion order (oldest first) and returns
// the final balance, or a *ChainError at the first mismatch.
func VerifyChain(entries []Entry) (decimal.Decimal, error) {
	running := decimal.Zero
	for i := range entries {
		running = running.Add(entries[i].SignedEffect())
		if !entries[i].Balance.Equal(running) {
			return running, &ChainError{
				TenantID: entries[i].TenantID,
				EntryID:  entries[i].ID,
				Index:    i,
				Stored:   entries[i].Balance,
				Expected: running,
			}
		}
	}
	return running, nil
}

// NewestFirst returns a reversed copy of entries kept in insertion order.
func NewestFirst(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i := range entries {
		out[len(entries)-1-i] = entries[i]
	}
	return out
}
