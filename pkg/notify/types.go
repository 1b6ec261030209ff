package notify

import (
	"context"
	"fmt"
	"time"
)

// Type identifies a notification template
type Type string

const (
	TypeExpiryWarning30 Type = "expiry_warning_30"
	TypeExpiryWarning15 Type = "expiry_warning_15"
	TypeExpiryWarning7  Type = "expiry_warning_7"
	TypeGraceStarted    Type = "grace_started"
	TypeGraceMidpoint   Type = "grace_midpoint"
	TypeGraceFinal      Type = "grace_final"
)

// ExpiryWarning returns the warning type for the given number of days left
func ExpiryWarning(days int) Type {
	return Type(fmt.Sprintf("expiry_warning_%d", days))
}

// Notification is one templated message addressed to an organization
type Notification struct {
	Type           Type                   `json:"type"`
	OrganizationID string                 `json:"organization_id"`
	Args           map[string]interface{} `json:"args,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Dispatcher sends notifications. Send returning nil means the notification
// was handed off; delivery is not retried here.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher
type DispatcherFunc func(ctx context.Context, n Notification) error

// Send calls f
func (f DispatcherFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}
