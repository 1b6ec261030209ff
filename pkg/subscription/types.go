package subscription

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/creditgate/pkg/orgs"
)

// GracePeriod is how long an expired subscription keeps read-only access
const GracePeriod = 7 * 24 * time.Hour

// NotificationDedupWindow suppresses a repeated notification of the same type
const NotificationDedupWindow = 24 * time.Hour

// PeriodStatus is the state of a subscription period
type PeriodStatus string

const (
	PeriodActive    PeriodStatus = "active"
	PeriodExpired   PeriodStatus = "expired"
	PeriodCancelled PeriodStatus = "cancelled"
	PeriodRenewed   PeriodStatus = "renewed"
)

// Period is one purchased or renewed billing period
type Period struct {
	ID                     string            `json:"id"`
	OrganizationID         string            `json:"organization_id"`
	Plan                   orgs.PlanTier     `json:"plan"`
	BillingCycle           orgs.BillingCycle `json:"billing_cycle"`
	StartDate              time.Time         `json:"start_date"`
	EndDate                time.Time         `json:"end_date"`
	Amount                 decimal.Decimal   `json:"amount"`
	PaymentID              string            `json:"payment_id,omitempty"`
	Status                 PeriodStatus      `json:"status"`
	MonthlyCreditAllowance int64             `json:"monthly_credit_allowance"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// Clone returns a copy of the period
func (p *Period) Clone() *Period {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// PaymentStatus is the state of a payment
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentRefunded  PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:   {PaymentConfirmed, PaymentRejected},
	PaymentConfirmed: {PaymentRefunded},
}

// CanTransitionTo reports whether the payment state machine allows s -> next
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment authorizes a subscription period
type Payment struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method"`
	Status         PaymentStatus   `json:"status"`
	PeriodID       string          `json:"period_id,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a copy of the payment
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// AccessResult is the outcome of the Subscription Guard
type AccessResult struct {
	Organization *orgs.Organization `json:"organization"`
	AccessLevel  orgs.AccessLevel   `json:"access_level"`
}

// ActivateRequest starts a paid subscription
type ActivateRequest struct {
	OrgID     string            `json:"-"`
	Plan      orgs.PlanTier     `json:"plan"`
	Cycle     orgs.BillingCycle `json:"billing_cycle"`
	PaymentID string            `json:"payment_id"`
	Amount    decimal.Decimal   `json:"amount"`
}

// ExtendRequest renews a subscription for another cycle
type ExtendRequest struct {
	OrgID     string            `json:"-"`
	Cycle     orgs.BillingCycle `json:"billing_cycle"`
	PaymentID string            `json:"payment_id"`
	Amount    decimal.Decimal   `json:"amount"`
}

// RecordPaymentRequest registers a pending payment
type RecordPaymentRequest struct {
	OrgID     string          `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference,omitempty"`
}

// TransitionOutcome reports whether a sweep step changed anything
type TransitionOutcome string

const (
	OutcomeTransitioned TransitionOutcome = "transitioned"
	OutcomeSkipped      TransitionOutcome = "skipped"
	OutcomeSent         TransitionOutcome = "sent"
	OutcomeDuplicate    TransitionOutcome = "duplicate"
	OutcomeFailed       TransitionOutcome = "failed"
)
