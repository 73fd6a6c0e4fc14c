package event

import (
	"fmt"
	"time"
)

// Record is a single seismic event as held by the cache.
type Record struct {
	// ID is the stable upstream identifier. Unique across the store.
	ID string

	// OccurredAt is the event instant in epoch milliseconds.
	OccurredAt int64

	// Attributes is the opaque upstream payload (magnitude, location,
	// descriptive metadata). The cache never interprets it.
	Attributes map[string]any
}

// Time returns OccurredAt as a UTC time.Time.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.OccurredAt).UTC()
}

// Validate checks the id the cache keys on. OccurredAt may be negative
// for events before 1970.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record: empty id")
	}
	return nil
}

// Bucket is a day-long half-open instant interval [Start, End).
type Bucket struct {
	Start time.Time
	End   time.Time
}

// DayBucket returns the bucket containing t.
func DayBucket(t time.Time) Bucket {
	start := StartOfDay(t)
	return Bucket{Start: start, End: start.AddDate(0, 0, 1)}
}

// StartMillis returns the inclusive lower bound in epoch milliseconds.
func (b Bucket) StartMillis() int64 { return b.Start.UnixMilli() }

// EndMillis returns the exclusive upper bound in epoch milliseconds.
func (b Bucket) EndMillis() int64 { return b.End.UnixMilli() }

// Contains reports whether the epoch-millisecond instant falls in [Start, End).
func (b Bucket) Contains(ms int64) bool {
	return ms >= b.StartMillis() && ms < b.EndMillis()
}

// Next returns the bucket for the following day.
func (b Bucket) Next() Bucket {
	return Bucket{Start: b.End, End: b.End.AddDate(0, 0, 1)}
}

// String renders the bucket's day as YYYY-MM-DD.
func (b Bucket) String() string {
	return b.Start.Format(DayLayout)
}
