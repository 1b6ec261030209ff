// Package memory is an in-process implementation of the ledger and
// subscription stores, used by tests and by `creditgate` when
// CREDITGATE_STORAGE_TYPE=memory.
//
// A transaction holds a store-wide mutex for its whole duration. Its writes
// go to a private overlay that reads see first; the overlay is folded into
// the shared state only when the transaction function returns nil, so a
// transaction copies just the rows it touches. Transactions are fully
// serialized, which is stronger than what the PostgreSQL store provides and
// good enough for a single process.
package memory
