package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError describes one expectation that did not hold.
type AssertionError struct {
	Step     int    // 1-based step, 0 for final counts
	Field    string // e.g. "inserted" or "count[2024-04-01]"
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	if e.Step > 0 {
		fmt.Fprintf(&buf, "step %d: ", e.Step)
	}
	fmt.Fprintf(&buf, "%s: expected %s, got %s", e.Field, e.Expected, e.Actual)
	return buf.String()
}

// checkStep compares a step's trace with its expect clause. feedCalls is
// the number of Fetch calls the step made.
func checkStep(index int, want *StepExpect, got StepTrace, feedCalls int) []string {
	if want == nil {
		return nil
	}

	var errs []string
	fail := func(field string, expected, actual any) {
		errs = append(errs, (&AssertionError{
			Step:     index + 1,
			Field:    field,
			Expected: fmt.Sprint(expected),
			Actual:   fmt.Sprint(actual),
		}).Error())
	}

	intField := func(field string, expected *int, actual int) {
		if expected != nil && *expected != actual {
			fail(field, *expected, actual)
		}
	}

	intField("feed_calls", want.FeedCalls, feedCalls)
	intField("failed", want.Failed, len(got.Failed))

	if want.Error != got.Error {
		fail("error", quoteOrNone(want.Error), quoteOrNone(got.Error))
	}

	s := got.Summary
	if s == nil {
		s = &SummaryTrace{}
	}
	intField("cached", want.Cached, s.Cached)
	intField("fetched", want.Fetched, s.Fetched)
	intField("empty", want.Empty, s.Empty)
	intField("inserted", want.Inserted, s.Inserted)

	return errs
}

// checkCounts compares final per-day counts, in day order.
func checkCounts(want, got map[string]int64) []string {
	days := make([]string, 0, len(want))
	for day := range want {
		days = append(days, day)
	}
	sort.Strings(days)

	var errs []string
	for _, day := range days {
		if got[day] != want[day] {
			errs = append(errs, (&AssertionError{
				Field:    fmt.Sprintf("count[%s]", day),
				Expected: fmt.Sprint(want[day]),
				Actual:   fmt.Sprint(got[day]),
			}).Error())
		}
	}
	return errs
}

func quoteOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return fmt.Sprintf("%q", s)
}
