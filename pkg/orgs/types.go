package orgs

import (
	"context"
	"time"
)

// Status represents the subscription status of an organization
type Status string

const (
	StatusActive      Status = "active"
	StatusTrial       Status = "trial"
	StatusGracePeriod Status = "grace_period"
	StatusExpired     Status = "expired"
	StatusSuspended   Status = "suspended"
)

// DefaultStatus is used for organizations created before subscriptions existed.
const DefaultStatus = StatusActive

// NormalizeStatus maps a stored status value onto the closed Status enum.
// Empty and unrecognized values are treated as legacy-active.
func NormalizeStatus(raw string) Status {
	switch s := Status(raw); s {
	case StatusActive, StatusTrial, StatusGracePeriod, StatusExpired, StatusSuspended:
		return s
	default:
		return DefaultStatus
	}
}

// IsValid reports whether s is one of the enum members.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusTrial, StatusGracePeriod, StatusExpired, StatusSuspended:
		return true
	}
	return false
}

// HasFullAccess reports whether the status grants unrestricted platform access.
func (s Status) HasFullAccess() bool {
	return s == StatusActive || s == StatusTrial
}

// AccessLevel is the result of a subscription access check
type AccessLevel string

const (
	AccessFull     AccessLevel = "full"
	AccessReadOnly AccessLevel = "read_only"
)

// PlanTier represents subscription plan tiers
type PlanTier string

const (
	PlanBasic        PlanTier = "basic"
	PlanProfessional PlanTier = "professional"
	PlanEnterprise   PlanTier = "enterprise"
)

// BillingCycle represents the length of a paid subscription period
type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleAnnual    BillingCycle = "annual"
)

// Organization is a tenant with its denormalized subscription summary
type Organization struct {
	ID                     string       `json:"id"`
	Name                   string       `json:"name"`
	Status                 Status       `json:"status"`
	SubscriptionPlan       PlanTier     `json:"subscription_plan,omitempty"`
	BillingCycle           BillingCycle `json:"billing_cycle,omitempty"`
	SubscriptionExpiresAt  *time.Time   `json:"subscription_expires_at,omitempty"`
	GracePeriodEndsAt      *time.Time   `json:"grace_period_ends_at,omitempty"`
	LastNotificationType   string       `json:"last_notification_type,omitempty"`
	LastNotificationSentAt *time.Time   `json:"last_notification_sent_at,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// Clone returns a deep copy of the organization.
func (o *Organization) Clone() *Organization {
	if o == nil {
		return nil
	}
	c := *o
	c.SubscriptionExpiresAt = cloneTime(o.SubscriptionExpiresAt)
	c.GracePeriodEndsAt = cloneTime(o.GracePeriodEndsAt)
	c.LastNotificationSentAt = cloneTime(o.LastNotificationSentAt)
	return &c
}

// Snapshot returns the subscription-summary fields as a map, used for audit before/after records.
func (o *Organization) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"status":                  o.Status,
		"subscription_plan":       o.SubscriptionPlan,
		"billing_cycle":           o.BillingCycle,
		"subscription_expires_at": o.SubscriptionExpiresAt,
		"grace_period_ends_at":    o.GracePeriodEndsAt,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Reader loads organizations outside of a transaction
type Reader interface {
	GetOrganization(ctx context.Context, id string) (*Organization, error)
}

// Lister enumerates organizations for scheduled sweeps
type Lister interface {
	ListOrganizationIDsByStatus(ctx context.Context, statuses ...Status) ([]string, error)
}
