package bookkeeping

import (
	"fmt"
	"time"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain"
)

// SyncStatus is the lifecycle state of a connection.
type SyncStatus string

const (
	StatusActive       SyncStatus = "active"
	StatusPaused       SyncStatus = "paused"
	StatusError        SyncStatus = "error"
	StatusDisconnected SyncStatus = "disconnected"
)

// transitions lists the allowed targets per state. Nothing leaves disconnected.
var transitions = map[SyncStatus][]SyncStatus{
	StatusActive:       {StatusPaused, StatusError, StatusDisconnected},
	StatusPaused:       {StatusActive, StatusDisconnected},
	StatusError:        {StatusActive, StatusDisconnected},
	StatusDisconnected: nil,
}

// CanTransition reports whether a connection may move from one state to another.
// Staying in the same state is always allowed.
func CanTransition(from, to SyncStatus) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SyncFrequency controls how often the scheduler syncs a connection.
type SyncFrequency string

const (
	FrequencyManual   SyncFrequency = "manual"
	FrequencyHourly   SyncFrequency = "hourly"
	FrequencyDaily    SyncFrequency = "daily"
	FrequencyWeekly   SyncFrequency = "weekly"
	FrequencyRealtime SyncFrequency = "realtime"
)

// Interval returns the scheduling period; zero means the scheduler skips it.
func (f SyncFrequency) Interval() time.Duration {
	switch f {
	case FrequencyRealtime:
		return 5 * time.Minute
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// SyncDirection says which way records flow.
type SyncDirection string

const (
	DirectionPush          SyncDirection = "push"
	DirectionPull          SyncDirection = "pull"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// Account mapping keys. Ledger categories map directly by name.
const (
	AccountRentIncome  = "rent"
	AccountLateFee     = "late_fee"
	AccountFeeIncome   = "fee"
	AccountDeposit     = "deposit"
	AccountReceivables = "receivables"
	AccountBank        = "bank"
)

// Configuration is the per-connection sync setup.
type Configuration struct {
	SyncFrequency   SyncFrequency     `json:"sync_frequency"`
	SyncDirection   SyncDirection     `json:"sync_direction"`
	AccountMappings map[string]string `json:"account_mappings"`
	Features        map[Feature]bool  `json:"features"`
}

// Enabled reports whether f is switched on. Features absent from the map are on.
func (c *Configuration) Enabled(f Feature) bool {
	on, ok := c.Features[f]
	return !ok || on
}

// Validate checks enum fields, filling defaults for empty ones.
func (c *Configuration) Validate() error {
	if c.SyncFrequency == "" {
		c.SyncFrequency = FrequencyDaily
	}
	switch c.SyncFrequency {
	case FrequencyManual, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyRealtime:
	default:
		return fmt.Errorf("%w: unknown sync frequency %q", domain.ErrValidation, c.SyncFrequency)
	}
	if c.SyncDirection == "" {
		c.SyncDirection = DirectionPush
	}
	switch c.SyncDirection {
	case DirectionPush, DirectionPull, DirectionBidirectional:
	default:
		return fmt.Errorf("%w: unknown sync direction %q", domain.ErrValidation, c.SyncDirection)
	}
	if c.AccountMappings == nil {
		c.AccountMappings = map[string]string{}
	}
	return nil
}

// Connection links one organization to one provider. Credentials leave the
// service layer redacted; the store keeps only SealedCredentials.
type Connection struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	ProviderID     string        `json:"provider_id"`
	Name           string        `json:"name"`
	Credentials    Credentials   `json:"credentials"`
	Configuration  Configuration `json:"configuration"`
	SyncStatus     SyncStatus    `json:"sync_status"`
	LastSync       *time.Time    `json:"last_sync,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`

	// SealedCredentials is the encrypted form of Credentials as persisted.
	SealedCredentials []byte `json:"-"`
}

// DueForSync reports whether the scheduler should sync the connection at now.
func (c *Connection) DueForSync(now time.Time) bool {
	if c.SyncStatus != StatusActive && c.SyncStatus != StatusError {
		return false
	}
	every := c.Configuration.SyncFrequency.Interval()
	if every == 0 {
		return false
	}
	return c.LastSync == nil || !now.Before(c.LastSync.Add(every))
}

// CreateRequest is the input of ConnectionService.Create.
type CreateRequest struct {
	OrganizationID string        `json:"-"`
	ProviderID     string        `json:"provider_id" validate:"required"`
	Name           string        `json:"name" validate:"max=200"`
	Credentials    Credentials   `json:"credentials" validate:"required"`
	Configuration  Configuration `json:"configuration"`
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Name          *string        `json:"name,omitempty" validate:"omitempty,max=200"`
	Credentials   *Credentials   `json:"credentials,omitempty"`
	Configuration *Configuration `json:"configuration,omitempty"`
	SyncStatus    *SyncStatus    `json:"sync_status,omitempty"`
}

// TestResult is the outcome of a connection test.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
