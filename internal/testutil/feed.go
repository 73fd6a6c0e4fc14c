package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/quakecache/internal/event"
)

// FeedCall records one Fetch invocation.
type FeedCall struct {
	Start time.Time
	End   time.Time
}

// Day returns the call's start formatted as YYYY-MM-DD.
func (c FeedCall) Day() string {
	return c.Start.UTC().Format(event.DayLayout)
}

// FakeFeed is an in-memory upstream catalog.
//
// Fetch returns every catalog record with start <= occurred_at <= end,
// ordered by time, matching the inclusive endtime of FDSN services. Days
// can be scripted to fail. Every call is recorded.
//
// Thread-safety: safe for concurrent use.
type FakeFeed struct {
	mu       sync.Mutex
	catalog  []event.Record
	failures map[string]error
	calls    []FeedCall

	// OnFetch, when set, runs at the start of every Fetch outside the lock.
	// Returning an error fails that call.
	OnFetch func(ctx context.Context, call FeedCall) error
}

// NewFakeFeed creates a feed serving the given records.
func NewFakeFeed(records ...event.Record) *FakeFeed {
	f := &FakeFeed{failures: make(map[string]error)}
	f.Add(records...)
	return f
}

// Add appends records to the catalog.
func (f *FakeFeed) Add(records ...event.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog = append(f.catalog, records...)
	sort.SliceStable(f.catalog, func(i, j int) bool {
		return f.catalog[i].OccurredAt < f.catalog[j].OccurredAt
	})
}

// FailDay makes fetches starting on day (YYYY-MM-DD) return err.
func (f *FakeFeed) FailDay(day string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[day] = err
}

// HealDay clears a scripted failure.
func (f *FakeFeed) HealDay(day string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, day)
}

// Fetch implements the backfill feed contract.
func (f *FakeFeed) Fetch(ctx context.Context, start, end time.Time) ([]event.Record, error) {
	call := FeedCall{Start: start.UTC(), End: end.UTC()}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.OnFetch
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[call.Day()]; ok {
		return nil, err
	}

	lo, hi := start.UnixMilli(), end.UnixMilli()
	var out []event.Record
	for _, r := range f.catalog {
		if r.OccurredAt >= lo && r.OccurredAt <= hi {
			out = append(out, r)
		}
	}
	return out, nil
}

// Calls returns a copy of all recorded calls in invocation order.
func (f *FakeFeed) Calls() []FeedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FeedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of Fetch calls so far.
func (f *FakeFeed) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// CallsFor returns how many fetches started on day (YYYY-MM-DD).
func (f *FakeFeed) CallsFor(day string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Day() == day {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls. The catalog and failures are kept.
func (f *FakeFeed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// NewRecord builds a record shaped like a USGS GeoJSON feature.
func NewRecord(id string, at time.Time, mag string) event.Record {
	return event.Record{
		ID:         id,
		OccurredAt: at.UnixMilli(),
		Attributes: map[string]any{
			"type": "Feature",
			"id":   id,
			"properties": map[string]any{
				"mag":  json.Number(mag),
				"time": json.Number(strconv.FormatInt(at.UnixMilli(), 10)),
			},
		},
	}
}
