// Package backfill keeps a store populated with event records for any
// requested date range.
//
// EnsureRange splits the range into UTC day buckets, asks the store whether
// each bucket is already cached, fetches only the missing buckets from the
// upstream feed, and writes what it fetched through the store's
// insert-or-skip upsert. A failing bucket is logged and skipped; the rest
// of the range is still processed.
//
// Completion modes:
//
//   - ModeCount: a bucket is cached when the store holds at least one record
//     in it. A bucket whose earlier fetch wrote some records and then failed
//     is not re-fetched.
//   - ModeMarker: a bucket is cached only once an explicit completion marker
//     was written after all of its records were stored. Requires a store
//     implementing MarkerStore.
//
// With a single worker, buckets are processed strictly in ascending order.
// With more workers, buckets are processed concurrently; buckets never
// overlap, so no two fetches target the same instants.
package backfill
