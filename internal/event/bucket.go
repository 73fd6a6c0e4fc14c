package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DayLayout is the calendar-day format used on the command line and in logs.
const DayLayout = "2006-01-02"

// DefaultMaxRangeDays bounds how many buckets a single request may expand to.
const DefaultMaxRangeDays = 3660

var (
	// ErrInvalidRange is returned when the end day precedes the start day.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrRangeTooLarge is returned when a range expands to more buckets than allowed.
	ErrRangeTooLarge = errors.New("range too large")
)

// ParseError reports a date string that matched none of the accepted layouts.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("date %q is not in a supported format (YYYY-MM-DD, YYYY-MM-DDTHH:MM:SS[.ffffff], RFC 3339)", e.Input)
}

// parseLayouts are tried in order. Layouts without a zone are read as UTC.
var parseLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	DayLayout,
}

// ParseDay parses a caller-supplied date or instant and returns it in UTC.
// Sub-day components are kept; bucketing truncates them.
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &ParseError{Input: s}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &ParseError{Input: s}
}

// StartOfDay truncates t to midnight UTC of its calendar day.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayBuckets partitions the days from start through end (inclusive of the
// day containing end) into ascending buckets. maxDays <= 0 means
// DefaultMaxRangeDays.
func DayBuckets(start, end time.Time, maxDays int) ([]Bucket, error) {
	if maxDays <= 0 {
		maxDays = DefaultMaxRangeDays
	}
	first := StartOfDay(start)
	last := StartOfDay(end)
	if last.Before(first) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange, first.Format(DayLayout), last.Format(DayLayout))
	}

	// Day arithmetic in UTC has no DST gaps, so hours/24 is exact.
	days := int(last.Sub(first).Hours()/24) + 1
	if days > maxDays {
		return nil, fmt.Errorf("%w: %d days exceeds limit of %d", ErrRangeTooLarge, days, maxDays)
	}

	buckets := make([]Bucket, 0, days)
	for b := DayBucket(first); !b.Start.After(last); b = b.Next() {
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// Span returns the half-open interval covering every day from start through
// end. It is the read window matching DayBuckets(start, end).
func Span(start, end time.Time) Bucket {
	return Bucket{Start: StartOfDay(start), End: StartOfDay(end).AddDate(0, 0, 1)}
}
