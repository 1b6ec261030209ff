package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies which balance paid for a consumption
type Source string

const (
	SourceOrgPool Source = "org_pool"
	SourceBonus   Source = "bonus"
)

// ConsumptionStatus is the lifecycle state of a consumption record
type ConsumptionStatus string

const (
	ConsumptionPending   ConsumptionStatus = "pending"
	ConsumptionCompleted ConsumptionStatus = "completed"
	ConsumptionFailed    ConsumptionStatus = "failed"
)

// IsTerminal reports whether the status can no longer change
func (s ConsumptionStatus) IsTerminal() bool {
	return s == ConsumptionCompleted || s == ConsumptionFailed
}

// Ledger is the credit balance record of one organization
type Ledger struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	Balance         int64      `json:"balance"`
	BonusCredits    int64      `json:"bonus_credits"`
	MonthlyIncluded int64      `json:"monthly_included"`
	MonthlyUsed     int64      `json:"monthly_used"`
	MonthlyResetAt  *time.Time `json:"monthly_reset_at,omitempty"`
	LifetimeGranted int64      `json:"lifetime_granted"`
	LifetimeUsed    int64      `json:"lifetime_used"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Available returns pool plus bonus credits
func (l *Ledger) Available() int64 {
	return l.Balance + l.BonusCredits
}

// SelectSource picks the source that can cover cost on its own.
// The pool wins whenever it suffices; ok is false when neither does, even if
// the two together would, since a deduction is never split.
func (l *Ledger) SelectSource(cost int64) (source Source, ok bool) {
	switch {
	case l.Balance >= cost:
		return SourceOrgPool, true
	case l.BonusCredits >= cost:
		return SourceBonus, true
	default:
		return "", false
	}
}

// debit removes cost from source. Pool debits count toward the monthly
// usage; both count toward lifetime usage.
func (l *Ledger) debit(source Source, cost int64) {
	switch source {
	case SourceOrgPool:
		l.Balance -= cost
		l.MonthlyUsed += cost
	case SourceBonus:
		l.BonusCredits -= cost
	}
	l.LifetimeUsed += cost
}

// refund reverses a debit. Usage counters are clamped at zero because a
// monthly reset may have zeroed them after the debit.
func (l *Ledger) refund(source Source, credits int64) {
	switch source {
	case SourceOrgPool:
		l.Balance += credits
		l.MonthlyUsed = clampZero(l.MonthlyUsed - credits)
	case SourceBonus:
		l.BonusCredits += credits
	}
	l.LifetimeUsed = clampZero(l.LifetimeUsed - credits)
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// Clone returns a copy of the ledger
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	c := *l
	if l.MonthlyResetAt != nil {
		t := *l.MonthlyResetAt
		c.MonthlyResetAt = &t
	}
	return &c
}

// Snapshot returns the balance fields for audit records
func (l *Ledger) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"balance":          l.Balance,
		"bonus_credits":    l.BonusCredits,
		"monthly_included": l.MonthlyIncluded,
		"monthly_used":     l.MonthlyUsed,
		"lifetime_granted": l.LifetimeGranted,
		"lifetime_used":    l.LifetimeUsed,
	}
}

// Telemetry is the optional outcome data reported when finalizing
type Telemetry struct {
	InputTokens  int64           `json:"input_tokens,omitempty"`
	OutputTokens int64           `json:"output_tokens,omitempty"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
	Model        string          `json:"model,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
}

// Consumption is one deduction attempt and its outcome
type Consumption struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	UserID         string            `json:"user_id"`
	FeatureID      string            `json:"feature_id"`
	CreditsUsed    int64             `json:"credits_used"`
	Source         Source            `json:"source"`
	Status         ConsumptionStatus `json:"status"`
	Telemetry
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy of the consumption
func (c *Consumption) Clone() *Consumption {
	if c == nil {
		return nil
	}
	out := *c
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// DeductResult identifies a successful deduction
type DeductResult struct {
	ConsumptionID   string `json:"consumptionId"`
	CreditsDeducted int64  `json:"creditsDeducted"`
	Source          Source `json:"source"`
}

// CreditCheck is the read-only answer of the credit guard
type CreditCheck struct {
	Source       Source `json:"source"`
	Available    int64  `json:"available"`
	OrgCreditsID string `json:"orgCreditsId"`
}

// GrantResult is returned by GrantBonus
type GrantResult struct {
	NewBonusBalance int64 `json:"newBonusBalance"`
}

// ResetOutcome reports what the monthly reset did for one ledger
type ResetOutcome string

const (
	ResetApplied ResetOutcome = "reset"
	ResetSkipped ResetOutcome = "skipped"
)

// FirstOfNextMonth returns midnight UTC on the first day of the month after t
func FirstOfNextMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
