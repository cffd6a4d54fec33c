package bookkeeping

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a sync failure.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindNetwork        ErrorKind = "network"
	KindServer         ErrorKind = "server"
	KindBusinessLogic  ErrorKind = "business_logic"
)

// Retryable reports whether a later attempt may succeed without changes.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimit || k == KindNetwork || k == KindServer
}

// SyncError is a failure attached to one source record.
type SyncError struct {
	Kind      ErrorKind `json:"kind"`
	RecordID  string    `json:"record_id,omitempty"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	// StatusCode is the provider HTTP status, when there was one.
	StatusCode int   `json:"status_code,omitempty"`
	Err        error `json:"-"`
}

// NewSyncError builds a SyncError with Retryable derived from kind.
func NewSyncError(kind ErrorKind, recordID, msg string) *SyncError {
	return &SyncError{Kind: kind, RecordID: recordID, Message: msg, Retryable: kind.Retryable()}
}

func (e *SyncError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("%s error on record %s: %s", e.Kind, e.RecordID, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

// AsSyncError converts err into a SyncError for recordID. Typed errors keep
// their kind; anything else becomes fallback.
func AsSyncError(err error, recordID string, fallback ErrorKind) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		out := *se
		if out.RecordID == "" {
			out.RecordID = recordID
		}
		return &out
	}
	e := NewSyncError(fallback, recordID, err.Error())
	e.Err = err
	return e
}

// SyncResult is the outcome of one sync operation.
type SyncResult struct {
	ConnectionID     string        `json:"connection_id"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsCreated   int           `json:"records_created"`
	RecordsUpdated   int           `json:"records_updated"`
	RecordsSkipped   int           `json:"records_skipped"`
	Errors           []SyncError   `json:"errors"`
	Duration         time.Duration `json:"duration"`
	LastSyncDate     time.Time     `json:"last_sync_date"`
	Cancelled        bool          `json:"cancelled,omitempty"`
}

// NewSyncResult returns an empty result for a connection.
func NewSyncResult(connectionID string) *SyncResult {
	return &SyncResult{ConnectionID: connectionID, Errors: []SyncError{}}
}

// Add folds a per-record result into r. Duration and dates are left to the caller.
func (r *SyncResult) Add(o *SyncResult) {
	r.RecordsProcessed += o.RecordsProcessed
	r.RecordsCreated += o.RecordsCreated
	r.RecordsUpdated += o.RecordsUpdated
	r.RecordsSkipped += o.RecordsSkipped
	r.Errors = append(r.Errors, o.Errors...)
}

// Failed reports whether any record errored.
func (r *SyncResult) Failed() bool { return len(r.Errors) > 0 }

// ConnectionFailed reports whether the outcome points at the connection
// rather than at single records: an authentication error, or every processed
// record failing.
func (r *SyncResult) ConnectionFailed() bool {
	for i := range r.Errors {
		if r.Errors[i].Kind == KindAuthentication {
			return true
		}
	}
	return r.RecordsProcessed > 0 && len(r.Errors) >= r.RecordsProcessed
}

// Summary is the message stored as the connection's last error.
func (r *SyncResult) Summary() string {
	switch len(r.Errors) {
	case 0:
		return ""
	case 1:
		return r.Errors[0].Error()
	default:
		return fmt.Sprintf("%d records failed; first: %s", len(r.Errors), r.Errors[0].Error())
	}
}

// RecordType names the kind of source record tracked in sync records.
type RecordType string

const (
	RecordPayment     RecordType = "payment"
	RecordLedgerEntry RecordType = "ledger_entry"
	RecordCustomer    RecordType = "customer"
)

// RecordState is how far a source record has been pushed to a provider.
type RecordState string

const (
	StateInvoiced RecordState = "invoiced" // invoice exists, payment not yet recorded
	StatePaid     RecordState = "paid"     // invoice and payment exist
	StatePosted   RecordState = "posted"   // journal entry exists
	StateCreated  RecordState = "created"  // customer exists
)

// SyncRecord remembers what a connection already created for a source record.
type SyncRecord struct {
	ConnectionID string      `json:"connection_id"`
	RecordType   RecordType  `json:"record_type"`
	RecordID     string      `json:"record_id"`
	ExternalID   string      `json:"external_id"`
	State        RecordState `json:"state"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// CompletedEvent is published after every sync operation.
type CompletedEvent struct {
	ConnectionID   string     `json:"connection_id"`
	OrganizationID string     `json:"organization_id"`
	ProviderID     string     `json:"provider_id"`
	Operation      string     `json:"operation"`
	Result         SyncResult `json:"result"`
	Status         SyncStatus `json:"status"`
}
