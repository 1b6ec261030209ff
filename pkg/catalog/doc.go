// Package catalog holds the deployment-wide pricing configuration: the
// feature cost table used by the credit ledger and the plan catalog used by
// the subscription lifecycle.
//
// A Catalog is immutable once built. Services receive a Source and call
// Current for every operation, so a hot reload (see Watcher) never changes
// prices in the middle of a transaction.
//
//	cat, err := catalog.LoadFile("/etc/creditgate/catalog.yaml")
//	feature, err := cat.Features.Lookup("equipment_diagnosis")
package catalog
