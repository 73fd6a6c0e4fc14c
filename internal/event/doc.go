// Package event defines the records held by the cache and the day buckets
// used to decide which parts of a requested range are already cached.
//
// # Records
//
// A Record is an immutable fact keyed by ID. The ID is the only
// deduplication key; OccurredAt (epoch milliseconds) drives range queries.
// Attributes carry the upstream payload through untouched.
//
// # Buckets
//
// A Bucket is the half-open interval [midnight(d), midnight(d+1)) for a
// calendar day d. All bucketing is done in UTC. Buckets are derived from the
// requested range on every call and never persisted as records.
package event
