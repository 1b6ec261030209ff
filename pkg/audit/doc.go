// Package audit records who changed a tenant's subscription or credits and
// what the values were before and after.
//
// Audit writes happen after the business transaction commits. A failed
// write is logged and never fails the operation that produced it; use
// Recorder to get that behavior.
//
//	rec := audit.NewRecorder(audit.NewMultiLogger(dbLogger, audit.NewLogLogger(logger)), logger)
//	rec.Record(ctx, audit.NewEvent(ctx, audit.EventTypeSubscriptionActivated, orgID).
//		WithChanges(before, after))
package audit
