// Package auth carries the calling actor through a request and enforces
// platform-admin authorization for billing mutations.
//
// Authentication happens upstream: the gateway sets X-User-ID and
// X-User-Role, and Middleware turns them into an Actor on the context.
//
//	ctx = auth.WithActor(ctx, auth.Actor{UserID: "u-1", Role: auth.RolePlatformAdmin})
//	if err := auth.RequirePlatformAdmin(ctx); err != nil {
//		return err // apperr FORBIDDEN
//	}
//
// Scheduled jobs run as auth.System.
package auth
