// Package orgs defines the tenant entity and its subscription summary.
//
// # Overview
//
// An Organization carries denormalized subscription fields (status, plan,
// billing cycle, expiry, grace end) plus the notification idempotency cursor.
// Organizations are never deleted; they only move between statuses.
//
// # Status
//
// Status is a closed enum. Stores call NormalizeStatus when reading rows so
// that empty or legacy values become StatusActive in exactly one place:
//
//	org.Status = orgs.NormalizeStatus(rawStatus)
//
// # Related Packages
//
//   - pkg/subscription: lifecycle transitions and the access guard
//   - pkg/ledger: credit balances gated by the access guard
package orgs
