package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/creditgate/pkg/auth"
	"github.com/platinummonkey/creditgate/pkg/observability"
)

// EventType represents the category of audit event
type EventType string

const (
	// Subscription lifecycle events
	EventTypeSubscriptionActivated   EventType = "subscription.activated"
	EventTypeSubscriptionExtended    EventType = "subscription.extended"
	EventTypeSubscriptionSuspended   EventType = "subscription.suspended"
	EventTypeSubscriptionReactivated EventType = "subscription.reactivated"
	EventTypeSubscriptionTrial       EventType = "subscription.trial_started"
	EventTypeSubscriptionGrace       EventType = "subscription.grace_started"
	EventTypeSubscriptionExpired     EventType = "subscription.expired"

	// Payment events
	EventTypePaymentRecorded  EventType = "payment.recorded"
	EventTypePaymentConfirmed EventType = "payment.confirmed"
	EventTypePaymentRejected  EventType = "payment.rejected"
	EventTypePaymentRefunded  EventType = "payment.refunded"

	// Credit events
	EventTypeCreditsBonusGranted   EventType = "credits.bonus_granted"
	EventTypeCreditsMonthlyReset   EventType = "credits.monthly_reset"
	EventTypeConsumptionReconciled EventType = "credits.consumption_reconciled"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypePayment      ResourceType = "payment"
	ResourceTypeLedger       ResourceType = "credit_ledger"
	ResourceTypeConsumption  ResourceType = "consumption"
)

// ChangeDetails captures before and after values
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// Event is one append-only audit entry
type Event struct {
	ID             int64                  `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      EventType              `json:"event_type"`
	Status         EventStatus            `json:"status"`
	ActorID        string                 `json:"actor_id,omitempty"`
	ActorRole      string                 `json:"actor_role,omitempty"`
	OrganizationID string                 `json:"organization_id,omitempty"`
	ResourceType   ResourceType           `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	RequestID      string                 `json:"request_id,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Changes        *ChangeDetails         `json:"changes,omitempty"`
}

// NewEvent builds a successful event for an organization, taking the actor
// and request id from ctx.
func NewEvent(ctx context.Context, eventType EventType, orgID string) *Event {
	actor := auth.ActorFromContext(ctx)
	return &Event{
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		Status:         EventStatusSuccess,
		ActorID:        actor.UserID,
		ActorRole:      string(actor.Role),
		OrganizationID: orgID,
		ResourceType:   ResourceTypeOrganization,
		ResourceID:     orgID,
		RequestID:      observability.GetRequestID(ctx),
		Metadata:       make(map[string]interface{}),
	}
}

// WithResource sets the resource the event refers to
func (e *Event) WithResource(resourceType ResourceType, id string) *Event {
	e.ResourceType = resourceType
	e.ResourceID = id
	return e
}

// WithChanges records before/after snapshots
func (e *Event) WithChanges(before, after map[string]interface{}) *Event {
	e.Changes = &ChangeDetails{Before: before, After: after}
	return e
}

// WithMessage sets a human-readable message
func (e *Event) WithMessage(message string) *Event {
	e.Message = message
	return e
}

// WithMetadata adds a metadata entry
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime      *time.Time
	EndTime        *time.Time
	OrganizationID string
	ActorID        string
	EventTypes     []EventType
	Limit          int
	Offset         int
}
