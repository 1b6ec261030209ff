// Package subscription implements the organization subscription lifecycle.
//
// An organization moves through trial, active, grace_period, expired and
// suspended. Paid time is recorded as a history of Periods, each authorized
// by a confirmed Payment. The Service exposes:
//
//   - the Subscription Guard (CheckAccess, AllowReadOnly)
//   - admin lifecycle mutations (Activate, Extend, Suspend, Reactivate, StartTrial)
//   - the payment state machine (RecordPayment, ConfirmPayment, RejectPayment, RefundPayment)
//   - per-organization sweep steps used by the scheduler (ExpireActive,
//     ExpireGrace, SendExpiryNotification)
//
// Every mutation runs in a single Store transaction scoped to one
// organization. Activation also (re)initializes the credit ledger inside the
// same transaction, which is why Tx embeds ledger.Tx.
package subscription
