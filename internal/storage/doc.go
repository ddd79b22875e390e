// Package storage persists push subscriptions.
//
// Every driver implements Store: keyed put/get/delete plus cursor-paged
// listing. Keys are derived from the endpoint (KeyFor), so re-subscribing the
// same endpoint overwrites the previous record. Delete is idempotent.
//
// Drivers:
//   - memory:   process-local map (default, tests)
//   - file:     JSON snapshot + append-only journal
//   - sqlite:   modernc.org/sqlite, embedded schema
//   - postgres: pgx connection pool
//   - redis:    one hash, HSCAN pagination
//   - badger:   embedded LSM store, prefix iteration
package storage
