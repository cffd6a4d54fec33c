package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/bookkeeping"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectPaymentStatusChanged:
		var p PaymentStatusChangedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.Payment.ID == "" || p.Payment.TenantID == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("payment id and tenant id are required"))
		}
		if !p.Payment.Status.Valid() {
			return fmt.Errorf("schema validation failed for %s: unknown status %q", subject, p.Payment.Status)
		}
	case SubjectLedgerEntryAppended:
		var p LedgerEntryAppendedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	case SubjectSyncCompleted:
		var p bookkeeping.CompletedEvent
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	}
	return nil
}
