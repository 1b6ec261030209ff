// Package storage holds what the persistence backends share: the storage
// configuration, the ErrNotFound sentinel and the Redis client constructor
// (NewRedisClient) used by the scheduler lock, the notification outbox and
// the distributed rate limiter.
//
// Each domain package (ledger, subscription) declares the Store and Tx
// interfaces it needs. Two backends implement all of them:
//
//   - storage/postgres: database/sql + lib/pq, row locks via SELECT ... FOR UPDATE
//   - storage/memory: a mutex-serialized in-process store for tests and local runs
//
// Every per-organization read-modify-write runs inside RunInTx and a
// transaction never touches two organizations.
package storage
