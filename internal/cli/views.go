package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/quakecache/internal/backfill"
	"github.com/roach88/quakecache/internal/event"
)

// summaryView is the printable form of a backfill.Summary.
type summaryView struct {
	RunID      string        `json:"run_id"`
	From       string        `json:"from"`
	To         string        `json:"to"`
	Buckets    int           `json:"buckets"`
	Cached     int           `json:"cached"`
	Fetched    int           `json:"fetched"`
	Empty      int           `json:"empty"`
	Pending    int           `json:"pending"`
	Received   int           `json:"received"`
	Inserted   int           `json:"inserted"`
	Complete   bool          `json:"complete"`
	DurationMS int64         `json:"duration_ms"`
	Failures   []failureView `json:"failures,omitempty"`
}

type failureView struct {
	Bucket string `json:"bucket"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

func newSummaryView(s *backfill.Summary) summaryView {
	v := summaryView{
		RunID:      s.RunID,
		From:       s.From.Format(event.DayLayout),
		To:         s.To.AddDate(0, 0, -1).Format(event.DayLayout),
		Buckets:    s.Buckets,
		Cached:     s.Cached,
		Fetched:    s.Fetched,
		Empty:      s.Empty,
		Pending:    s.Pending,
		Received:   s.Received,
		Inserted:   s.Inserted,
		Complete:   s.Complete(),
		DurationMS: s.Duration.Milliseconds(),
	}
	for _, f := range s.Failures {
		v.Failures = append(v.Failures, failureView{
			Bucket: f.Bucket.String(),
			Stage:  string(f.Stage),
			Error:  f.Err.Error(),
		})
	}
	return v
}

func (v summaryView) String() string {
	var b strings.Builder
	numbers.Fprintf(&b, "Backfill %s..%s: %d buckets (run %s)\n", v.From, v.To, v.Buckets, v.RunID)
	numbers.Fprintf(&b, "  cached:   %d\n", v.Cached)
	numbers.Fprintf(&b, "  fetched:  %d\n", v.Fetched)
	numbers.Fprintf(&b, "  empty:    %d\n", v.Empty)
	numbers.Fprintf(&b, "  failed:   %d\n", len(v.Failures))
	if v.Pending > 0 {
		numbers.Fprintf(&b, "  pending:  %d\n", v.Pending)
	}
	numbers.Fprintf(&b, "  inserted: %d of %d received", v.Inserted, v.Received)
	for _, f := range v.Failures {
		fmt.Fprintf(&b, "\n  ! %s [%s] %s", f.Bucket, f.Stage, f.Error)
	}
	return b.String()
}

// recordView is one stored event as printed by query.
type recordView struct {
	ID         string         `json:"id"`
	Time       string         `json:"time"`
	OccurredAt int64          `json:"occurred_at"`
	Attributes map[string]any `json:"attributes"`
}

func newRecordView(r event.Record) recordView {
	return recordView{
		ID:         r.ID,
		Time:       r.Time().Format("2006-01-02T15:04:05.000Z"),
		OccurredAt: r.OccurredAt,
		Attributes: r.Attributes,
	}
}

// recordsView prints one line per record: time, id, magnitude, place.
type recordsView []recordView

func (v recordsView) String() string {
	if len(v) == 0 {
		return "No events in range."
	}
	var b strings.Builder
	for i, r := range v {
		if i > 0 {
			b.WriteByte('\n')
		}
		mag, place := "-", ""
		if props, ok := r.Attributes["properties"].(map[string]any); ok {
			if m, ok := props["mag"]; ok && m != nil {
				mag = fmt.Sprint(m)
			}
			if p, ok := props["place"].(string); ok {
				place = p
			}
		}
		fmt.Fprintf(&b, "%s  %-14s M%-5s %s", r.Time, r.ID, mag, place)
	}
	numbers.Fprintf(&b, "\n%d events", len(v))
	return b.String()
}

// gapView reports the cache state of one day.
type gapView struct {
	Day    string `json:"day"`
	Count  int64  `json:"count"`
	Marked bool   `json:"marked"`
	Cached bool   `json:"cached"`
}

type gapsView struct {
	Mode    string    `json:"mode"`
	Days    []gapView `json:"days"`
	Missing int       `json:"missing"`
}

func (v gapsView) String() string {
	var b strings.Builder
	for _, d := range v.Days {
		state := "cached"
		if !d.Cached {
			state = "missing"
		}
		marker := ""
		if d.Marked {
			marker = " marked"
		}
		numbers.Fprintf(&b, "%s  %-7s %8d%s\n", d.Day, state, d.Count, marker)
	}
	numbers.Fprintf(&b, "%d of %d days missing (mode %s)", v.Missing, len(v.Days), v.Mode)
	return b.String()
}

// formatDuration renders d with millisecond precision for log-style lines.
func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
