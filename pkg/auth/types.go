package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/creditgate/pkg/apperr"
)

// Role is the platform-level role of an actor
type Role string

const (
	RolePlatformAdmin Role = "platform_admin" // Manages subscriptions and grants for every tenant
	RoleOrgAdmin      Role = "org_admin"      // Administers a single hospital tenant
	RoleMember        Role = "member"         // Regular tenant user
	RoleSystem        Role = "system"         // Scheduled jobs
)

// ParseRole maps a header value to a Role. Unknown values become RoleMember.
func ParseRole(raw string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RolePlatformAdmin, RoleOrgAdmin, RoleMember, RoleSystem:
		return r
	default:
		return RoleMember
	}
}

// Actor is the identity performing an operation
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// System is the actor used by scheduled jobs
var System = Actor{UserID: "system:scheduler", Role: RoleSystem}

// IsPlatformAdmin reports whether the actor may run admin-only operations
func (a Actor) IsPlatformAdmin() bool {
	return a.Role == RolePlatformAdmin || a.Role == RoleSystem
}

// IsAnonymous reports whether no user id was supplied
func (a Actor) IsAnonymous() bool {
	return a.UserID == ""
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor stores the actor on the context
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the actor stored on the context, or the zero Actor
func ActorFromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey).(Actor); ok {
		return actor
	}
	return Actor{}
}

// RequirePlatformAdmin returns FORBIDDEN unless the context actor is a platform admin
func RequirePlatformAdmin(ctx context.Context) error {
	actor := ActorFromContext(ctx)
	if !actor.IsPlatformAdmin() {
		return apperr.New(apperr.CodeForbidden).
			With("requiredRole", string(RolePlatformAdmin)).
			With("role", string(actor.Role))
	}
	return nil
}

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Middleware reads the gateway identity headers into the request context
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := Actor{
			UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:   ParseRole(r.Header.Get(HeaderUserRole)),
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
