package orgs

import "github.com/platinummonkey/creditgate/pkg/apperr"

// EvaluateAccess applies the subscription guard rule to an organization.
//
// active and trial get full access. grace_period returns AccessReadOnly
// together with a SUBSCRIPTION_GRACE_PERIOD error so callers that can
// degrade may do so. Every other status is SUBSCRIPTION_INACTIVE.
func EvaluateAccess(org *Organization) (AccessLevel, error) {
	switch org.Status {
	case StatusActive, StatusTrial:
		return AccessFull, nil
	case StatusGracePeriod:
		return AccessReadOnly, apperr.New(apperr.CodeSubscriptionGracePeriod).
			With("accessLevel", AccessReadOnly).
			With("gracePeriodEndsAt", org.GracePeriodEndsAt)
	default:
		return "", apperr.New(apperr.CodeSubscriptionInactive).
			With("status", org.Status)
	}
}
