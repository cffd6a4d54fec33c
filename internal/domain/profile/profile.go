// Package profile defines the aggregate financial view of a tenant.
package profile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/ledger"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/risk"
)

// Tenant is the identity and lease data of a renter, owned by the CRM.
type Tenant struct {
	ID              string          `json:"id"`
	OrganizationID  string          `json:"organization_id"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Phone           string          `json:"phone,omitempty"`
	PropertyID      string          `json:"property_id"`
	Unit            string          `json:"unit,omitempty"`
	Address         string          `json:"address,omitempty"`
	MonthlyRent     decimal.Decimal `json:"monthly_rent"`
	SecurityDeposit decimal.Decimal `json:"security_deposit"`
}

// AutoPay is the tenant's automatic payment setup.
type AutoPay struct {
	Enabled         bool   `json:"enabled"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
	DayOfMonth      int    `json:"day_of_month,omitempty" validate:"omitempty,min=1,max=28"`
}

// NotificationPreferences controls which reminders a tenant receives.
type NotificationPreferences struct {
	Email             bool `json:"email"`
	SMS               bool `json:"sms"`
	PaymentReminders  bool `json:"payment_reminders"`
	LateNotices       bool `json:"late_notices"`
	ReminderDaysAhead int  `json:"reminder_days_ahead" validate:"min=0,max=30"`
}

// DefaultNotificationPreferences applies to tenants without stored settings.
func DefaultNotificationPreferences() NotificationPreferences {
	return NotificationPreferences{Email: true, PaymentReminders: true, LateNotices: true, ReminderDaysAhead: 3}
}

// Settings are the tenant-editable parts of a profile.
type Settings struct {
	TenantID      string                  `json:"tenant_id"`
	AutoPay       AutoPay                 `json:"auto_pay"`
	Notifications NotificationPreferences `json:"notifications"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// Profile is the recomputed financial view of one tenant. It is rebuilt as a
// whole after every mutation.
type Profile struct {
	TenantID                string                  `json:"tenant_id"`
	Name                    string                  `json:"name"`
	Email                   string                  `json:"email"`
	PropertyID              string                  `json:"property_id"`
	Unit                    string                  `json:"unit,omitempty"`
	CurrentBalance          decimal.Decimal         `json:"current_balance"`
	MonthlyRent             decimal.Decimal         `json:"monthly_rent"`
	SecurityDeposit         decimal.Decimal         `json:"security_deposit"`
	PaymentStatus           risk.PaymentStatus      `json:"payment_status"`
	DaysLate                int                     `json:"days_late"`
	TotalPaid               decimal.Decimal         `json:"total_paid"`
	TotalOwed               decimal.Decimal         `json:"total_owed"`
	PaymentHistory          []payment.Payment       `json:"payment_history"`
	PaymentMethods          []payment.Method        `json:"payment_methods"`
	LedgerEntries           []ledger.Entry          `json:"ledger_entries"` // newest first
	AutoPay                 AutoPay                 `json:"auto_pay"`
	NotificationPreferences NotificationPreferences `json:"notification_preferences"`
	RiskAssessment          risk.Assessment         `json:"risk_assessment"`
	UpdatedAt               time.Time               `json:"updated_at"`
}

// Inputs are everything a profile is derived from.
type Inputs struct {
	Tenant   Tenant
	Entries  []ledger.Entry // newest first
	Payments []payment.Payment
	Methods  []payment.Method
	Settings Settings
}

// Build derives a profile from its inputs at now. The balance is taken from
// the newest ledger entry, zero when there is none.
func Build(in *Inputs, now time.Time) *Profile {
	balance := decimal.Zero
	if len(in.Entries) > 0 {
		balance = in.Entries[0].Balance
	}
	standing := risk.DerivePaymentStatus(in.Payments, now)
	paid, owed := risk.Totals(in.Payments)

	p := &Profile{
		TenantID:                in.Tenant.ID,
		Name:                    in.Tenant.Name,
		Email:                   in.Tenant.Email,
		PropertyID:              in.Tenant.PropertyID,
		Unit:                    in.Tenant.Unit,
		CurrentBalance:          balance,
		MonthlyRent:             in.Tenant.MonthlyRent,
		SecurityDeposit:         in.Tenant.SecurityDeposit,
		PaymentStatus:           standing.Status,
		DaysLate:                standing.DaysLate,
		TotalPaid:               paid,
		TotalOwed:               owed,
		PaymentHistory:          nonNil(in.Payments),
		PaymentMethods:          nonNil(in.Methods),
		LedgerEntries:           nonNil(in.Entries),
		AutoPay:                 in.Settings.AutoPay,
		NotificationPreferences: in.Settings.Notifications,
		RiskAssessment:          risk.CalculateRiskScore(in.Payments, now),
		UpdatedAt:               now,
	}
	return p
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Observer receives a freshly built profile after a mutation commits.
type Observer func(*Profile)
