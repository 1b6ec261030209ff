// Package api provides the HTTP REST API for the credit ledger and the
// subscription lifecycle.
//
// # Overview
//
// The API is built on gorilla/mux and split into two handler groups:
//
//   - Credits: feature costs, ledger reads, the credit guard, deductions,
//     consumption finalization and bonus grants
//   - Subscriptions: access checks, activation, extension, suspension,
//     reactivation, trials and payment records
//
// # Routes
//
//	GET  /features
//	GET  /orgs/{org_id}/credits
//	GET  /orgs/{org_id}/credits/check?credits=N
//	POST /orgs/{org_id}/credits/deduct
//	POST /orgs/{org_id}/credits/bonus
//	GET  /consumptions/{consumption_id}
//	POST /consumptions/{consumption_id}/finalize
//	GET  /orgs/{org_id}/access
//	GET  /orgs/{org_id}/subscription/periods
//	POST /orgs/{org_id}/subscription/{activate,extend,suspend,reactivate,trial}
//	POST /orgs/{org_id}/payments
//	GET  /payments/{payment_id}
//	POST /payments/{payment_id}/{confirm,reject,refund}
//
// # Identity
//
// The caller is identified by the X-User-ID and X-User-Role headers set by
// the upstream gateway. Administrative operations require the
// platform_admin role; deductions require a user id. A consumption can be
// finalized by the user who made the deduction or by a platform admin.
//
// # Traffic Controls
//
// WithMiddleware inserts handlers that run once the caller identity is on
// the context, such as the rate limiter and the idempotency cache from
// pkg/middleware.
//
// # Errors
//
// Business errors are rendered as their JSON form with the status chosen by
// StatusFor: validation 400, not found 404, authorization 403,
// INSUFFICIENT_CREDITS 402 and other conflicts 409. A request whose
// Accept-Language ranks Arabic first gets the Arabic text in "message".
// Anything that is not a business error is logged and returned as a bare
// 500.
//
// # Usage
//
//	server := api.NewServer(credits, subs, source,
//		api.WithLogger(logger),
//		api.WithMetrics(metrics),
//		api.WithTracing(true),
//		api.WithMiddleware(a.HTTPMiddleware()...),
//	)
//	mux.Handle("/", server)
package api
