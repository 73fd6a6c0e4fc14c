package backfill

import (
	"time"

	"github.com/roach88/quakecache/internal/event"
)

// Summary reports what one EnsureRange call did.
type Summary struct {
	RunID string `json:"run_id"`

	// From and To bound the bucketed range: [From, To).
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Buckets int `json:"buckets"`
	Cached  int `json:"cached"`  // already complete, not fetched
	Fetched int `json:"fetched"` // fetched and written, at least one record
	Empty   int `json:"empty"`   // fetched, upstream had no records
	Pending int `json:"pending"` // not visited because the call was canceled

	// Received counts records returned by the feed that fell inside their
	// bucket. Inserted counts those that were new to the store.
	Received int `json:"received"`
	Inserted int `json:"inserted"`

	Failures []*BucketError `json:"-"`
	Duration time.Duration  `json:"duration_ns"`
}

// Complete reports whether every bucket is now cached.
func (s *Summary) Complete() bool {
	return len(s.Failures) == 0 && s.Pending == 0
}

// Failed returns the buckets that failed, in ascending order.
func (s *Summary) Failed() []event.Bucket {
	out := make([]event.Bucket, len(s.Failures))
	for i, f := range s.Failures {
		out[i] = f.Bucket
	}
	return out
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeCached
	outcomeFetched
	outcomeEmpty
	outcomeFailed
)

// bucketResult is the per-bucket record collected before aggregation.
type bucketResult struct {
	outcome  outcome
	received int
	inserted int
	err      *BucketError
}
