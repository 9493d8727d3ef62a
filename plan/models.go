package plan

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Billing periods supported by the catalog.
const (
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
)

// Plan is a subscription tier with default usage limits.
type Plan struct {
	bun.BaseModel `bun:"table:plans"`

	ID            uuid.UUID `bun:",pk,type:uuid" json:"id"`
	Code          string    `bun:"code" json:"code"`
	Name          string    `bun:"name" json:"name"`
	MaxSeats      int       `bun:"max_seats" json:"max_seats"`
	MaxStorageMB  int64     `bun:"max_storage_mb" json:"max_storage_mb"`
	MaxAIRequests int64     `bun:"max_ai_requests" json:"max_ai_requests"`
	TrialDays     int       `bun:"trial_days" json:"trial_days"`
	PriceCents    int64     `bun:"price_cents" json:"price_cents"`
	BillingPeriod string    `bun:"billing_period" json:"billing_period"`
	CreatedAt     time.Time `bun:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at" json:"updated_at"`
}

// PeriodEnd returns the end of a billing period starting at start.
func (p *Plan) PeriodEnd(start time.Time) time.Time {
	if p != nil && p.BillingPeriod == PeriodYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// TrialEnd returns when a trial started at start ends, or nil when the plan
// has no trial.
func (p *Plan) TrialEnd(start time.Time) *time.Time {
	if p == nil || p.TrialDays <= 0 {
		return nil
	}
	end := start.AddDate(0, 0, p.TrialDays)
	return &end
}
