// Package store provides SQLite-backed durable storage for cached seismic
// event records.
//
// The store is the single source of truth for idempotence:
//   - events: one row per upstream id (PRIMARY KEY on id)
//   - fetched_buckets: optional per-day completion markers
//
// # Write Semantics
//
// UpsertIgnoreDuplicates uses INSERT ... ON CONFLICT(id) DO NOTHING.
// The first write of an id wins; later writes are no-ops, never overwrites.
// Retrying an ingestion is therefore always safe, including from
// independent processes sharing the database file.
//
// # Read Semantics
//
// Range queries are half-open on occurred_at (epoch milliseconds) and use
// idx_events_occurred_at. ReadRange orders by occurred_at ASC, id ASC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Sibling packages mongostore and pgstore implement the same contract on
// MongoDB and PostgreSQL.
package store
