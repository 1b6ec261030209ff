// Package ledger implements the per-organization credit ledger and the
// consumption log that gate metered AI features.
//
// # Deduct before work
//
// Callers charge credits before running the expensive feature and report the
// outcome afterwards:
//
//	res, err := svc.Deduct(ctx, orgID, userID, "equipment_diagnosis")
//	if err != nil {
//		return err
//	}
//	out, workErr := runFeature(ctx)
//	status := ledger.ConsumptionCompleted
//	if workErr != nil {
//		status = ledger.ConsumptionFailed
//	}
//	_, err = svc.FinalizeConsumption(ctx, res.ConsumptionID, status, out.Telemetry)
//
// A failed consumption refunds exactly what was charged to the source it was
// charged from. A consumption can be finalized once.
//
// # Sources
//
// The org pool is spent before bonus credits and a single deduction never
// draws from both.
package ledger
