// Package risk derives payment status and a risk assessment from a tenant's
// payment history. Everything here is a pure function of its inputs; results
// are regenerated on every call and never patched.
package risk

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/domain/payment"
)

// PaymentStatus is the derived standing of a tenant for the current period.
type PaymentStatus string

const (
	StatusCurrent PaymentStatus = "current"
	StatusLate    PaymentStatus = "late"
	StatusPartial PaymentStatus = "partial"
	StatusOverdue PaymentStatus = "overdue"
)

// Level buckets a risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Factor weights.
const (
	WeightLowCollection = 40
	WeightChronicLate   = 30
	WeightMissed        = 30
)

var (
	collectionThreshold = decimal.NewFromFloat(0.8)
	lateDaysThreshold   = decimal.NewFromInt(10)
)

// Factor is one weighted contributor to a risk score.
type Factor struct {
	Name        string `json:"name"`
	Weight      int    `json:"weight"`
	Description string `json:"description"`
}

// Assessment is the regenerated risk view of a tenant.
type Assessment struct {
	Score           int       `json:"score"`
	Level           Level     `json:"level"`
	Factors         []Factor  `json:"factors"`
	Recommendations []string  `json:"recommendations"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Standing is the result of DerivePaymentStatus.
type Standing struct {
	Status   PaymentStatus `json:"status"`
	DaysLate int           `json:"days_late"`
}

// DerivePaymentStatus looks at the payment due in now's calendar month.
// Completed on or before the due date is current, completed later is late,
// partial is partial, and overdue or unpaid past the due date is overdue.
// No payment for the month means current.
func DerivePaymentStatus(payments []payment.Payment, now time.Time) Standing {
	p := currentPeriodPayment(payments, now)
	if p == nil {
		return Standing{Status: StatusCurrent}
	}

	switch {
	case p.Status == payment.StatusCompleted:
		if late := daysLate(p); late > 0 {
			return Standing{Status: StatusLate, DaysLate: late}
		}
		return Standing{Status: StatusCurrent}
	case p.Status == payment.StatusPartial:
		return Standing{Status: StatusPartial, DaysLate: max(0, daysBetween(p.DueDate, now))}
	case isMissed(p, now):
		return Standing{Status: StatusOverdue, DaysLate: max(0, daysBetween(p.DueDate, now))}
	default:
		return Standing{Status: StatusCurrent}
	}
}

// CalculateRiskScore scores a payment history from 0 (no risk) to 100.
func CalculateRiskScore(payments []payment.Payment, now time.Time) Assessment {
	var (
		factors []Factor
		score   int
	)

	if rate, ok := collectionRate(payments); ok && rate.LessThan(collectionThreshold) {
		score += WeightLowCollection
		factors = append(factors, Factor{
			Name:        "low_collection_rate",
			Weight:      WeightLowCollection,
			Description: "Collected " + rate.Mul(decimal.NewFromInt(100)).StringFixed(0) + "% of the amount due",
		})
	}

	if avg, ok := averageDaysLate(payments); ok && avg.GreaterThan(lateDaysThreshold) {
		score += WeightChronicLate
		factors = append(factors, Factor{
			Name:        "chronic_late_payments",
			Weight:      WeightChronicLate,
			Description: "Completed payments average " + avg.StringFixed(1) + " days past due",
		})
	}

	if missed := countMissed(payments, now); missed > 0 {
		score += WeightMissed
		factors = append(factors, Factor{
			Name:        "missed_payments",
			Weight:      WeightMissed,
			Description: pluralize(missed, "payment") + " past due and unpaid",
		})
	}

	score = min(max(score, 0), 100)
	if factors == nil {
		factors = []Factor{}
	}
	return Assessment{
		Score:           score,
		Level:           LevelFor(score),
		Factors:         factors,
		Recommendations: Recommendations(score),
		LastUpdated:     now,
	}
}

// LevelFor maps a score to its level: <=25 low, <=50 medium, <=70 high, else critical.
func LevelFor(score int) Level {
	switch {
	case score <= 25:
		return LevelLow
	case score <= 50:
		return LevelMedium
	case score <= 70:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Recommendations returns the advisory actions for a score.
func Recommendations(score int) []string {
	recs := []string{}
	if score > 50 {
		recs = append(recs,
			"Consider requesting an additional security deposit",
			"Enable automatic payment reminders",
			"Schedule a conversation with the tenant about payment timing",
		)
	}
	if score > 70 {
		recs = append(recs,
			"Review the lease terms before renewal",
			"Offer a structured payment plan",
			"Document all payment-related communication",
		)
	}
	return recs
}

// Totals returns what the tenant has paid (completed payments) and what is
// still owed (amount plus fees of every payment not yet completed).
func Totals(payments []payment.Payment) (paid, owed decimal.Decimal) {
	paid, owed = decimal.Zero, decimal.Zero
	for i := range payments {
		p := &payments[i]
		if p.Status == payment.StatusCompleted {
			paid = paid.Add(p.Amount)
			continue
		}
		owed = owed.Add(p.AmountDue())
	}
	return paid, owed
}

func currentPeriodPayment(payments []payment.Payment, now time.Time) *payment.Payment {
	ny, nm, _ := now.UTC().Date()
	var match *payment.Payment
	for i := range payments {
		y, m, _ := payments[i].DueDate.UTC().Date()
		if y != ny || m != nm {
			continue
		}
		if match == nil || payments[i].DueDate.After(match.DueDate) {
			match = &payments[i]
		}
	}
	return match
}

// collectionRate is completed amount over total due. ok is false when nothing
// is due yet.
func collectionRate(payments []payment.Payment) (decimal.Decimal, bool) {
	due, collected := decimal.Zero, decimal.Zero
	for i := range payments {
		p := &payments[i]
		d := p.AmountDue()
		due = due.Add(d)
		if p.Status == payment.StatusCompleted {
			collected = collected.Add(d)
		}
	}
	if !due.IsPositive() {
		return decimal.Zero, false
	}
	return collected.Div(due), true
}

// averageDaysLate averages lateness over every completed payment, with
// on-time payments counting as zero days. ok is false when no late payment
// exists. Turning an on-time payment into a late one never lowers the result.
func averageDaysLate(payments []payment.Payment) (decimal.Decimal, bool) {
	var total, n int64
	for i := range payments {
		if payments[i].Status != payment.StatusCompleted {
			continue
		}
		total += int64(daysLate(&payments[i]))
		n++
	}
	if total == 0 {
		return decimal.Zero, false
	}
	return decimal.NewFromInt(total).Div(decimal.NewFromInt(n)), true
}

func countMissed(payments []payment.Payment, now time.Time) int {
	n := 0
	for i := range payments {
		if isMissed(&payments[i], now) {
			n++
		}
	}
	return n
}

// isMissed: overdue, or still unpaid (pending or failed) after the due date.
func isMissed(p *payment.Payment, now time.Time) bool {
	switch p.Status {
	case payment.StatusOverdue:
		return true
	case payment.StatusPending, payment.StatusFailed:
		return daysBetween(p.DueDate, now) > 0
	}
	return false
}

// daysLate counts calendar days between due date and settlement.
func daysLate(p *payment.Payment) int {
	if p.PaidDate == nil {
		return 0
	}
	return max(0, daysBetween(p.DueDate, *p.PaidDate))
}

// daysBetween counts calendar days from a to b in UTC, ignoring time of day.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func pluralize(n int, noun string) string {
	s := strconv.Itoa(n) + " " + noun
	if n != 1 {
		s += "s"
	}
	return s
}
