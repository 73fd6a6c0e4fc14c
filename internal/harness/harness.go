package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/quakecache/internal/backfill"
	"github.com/roach88/quakecache/internal/event"
	"github.com/roach88/quakecache/internal/store"
	"github.com/roach88/quakecache/internal/testutil"
)

// errScripted is what a failing feed day returns.
var errScripted = errors.New("scripted feed failure")

// clockStart is the first instant the harness clock reports.
var clockStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness is the scenario execution engine. Each Harness owns a fresh
// in-memory store.
type Harness struct {
	store *store.Store
	feed  *testutil.FakeFeed
	orch  *backfill.Orchestrator
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
// 1. Seed the fake feed from scenario.Feed
// 2. For each step, heal the listed days and ensure the range
// 3. Check step expectations and final counts
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.store.Close()

	result := NewResult()
	touched := make(map[string]bool)

	for i, step := range scenario.Steps {
		before := h.feed.CallCount()
		trace, err := h.runStep(ctx, i, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.Steps = append(result.Steps, trace)

		if trace.Summary != nil {
			start, _ := event.ParseDay(trace.From)
			end, _ := event.ParseDay(trace.To)
			for d := event.StartOfDay(start); !d.After(event.StartOfDay(end)); d = d.AddDate(0, 0, 1) {
				touched[d.Format(event.DayLayout)] = true
			}
		}

		for _, msg := range checkStep(i, step.Expect, trace, h.feed.CallCount()-before) {
			result.AddError(msg)
		}
	}

	for day := range scenario.ExpectCounts {
		touched[day] = true
	}
	for day := range touched {
		d, err := time.Parse(event.DayLayout, day)
		if err != nil {
			return nil, fmt.Errorf("bad day %q: %w", day, err)
		}
		b := event.DayBucket(d)
		n, err := h.store.CountInRange(ctx, b.Start, b.End)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", day, err)
		}
		result.Counts[day] = n
	}

	for _, msg := range checkCounts(scenario.ExpectCounts, result.Counts) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	clock := testutil.NewStepClock(clockStart, time.Second)
	st.SetClock(clock.Now)

	feed := testutil.NewFakeFeed()
	for day, fd := range scenario.Feed {
		for _, r := range fd.Records {
			at, err := time.Parse(time.RFC3339, r.Time)
			if err != nil {
				st.Close()
				return nil, fmt.Errorf("feed[%q]: %w", day, err)
			}
			mag := r.Mag
			if mag == "" {
				mag = "0"
			}
			feed.Add(testutil.NewRecord(r.ID, at, mag))
		}
		if fd.Fail {
			feed.FailDay(day, errScripted)
		}
	}

	mode := backfill.ModeCount
	if scenario.Completion != "" {
		mode, err = backfill.ParseCompletionMode(scenario.Completion)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	ids := make([]string, len(scenario.Steps))
	for i := range ids {
		ids[i] = fmt.Sprintf("run-%d", i+1)
	}

	opts := []backfill.Option{
		backfill.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		backfill.WithWorkers(max(scenario.Workers, 1)),
		backfill.WithCompletion(mode),
		backfill.WithRunIDs(backfill.NewFixedGenerator(ids...)),
		backfill.WithClock(clock.Now),
	}
	if scenario.MaxRangeDays > 0 {
		opts = append(opts, backfill.WithMaxRangeDays(scenario.MaxRangeDays))
	}
	orch, err := backfill.New(st, feed, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &Harness{store: st, feed: feed, orch: orch}, nil
}

// runStep heals, ensures, and records the step's trace.
func (h *Harness) runStep(ctx context.Context, index int, step Step) (StepTrace, error) {
	trace := StepTrace{
		Step:      index + 1,
		From:      step.Ensure.From,
		To:        step.Ensure.To,
		FeedCalls: []string{},
	}

	for _, day := range step.Heal {
		h.feed.HealDay(day)
		trace.Healed = append(trace.Healed, day)
	}

	start, err := event.ParseDay(step.Ensure.From)
	if err != nil {
		return trace, err
	}
	end, err := event.ParseDay(step.Ensure.To)
	if err != nil {
		return trace, err
	}

	before := len(h.feed.Calls())
	sum, ensureErr := h.orch.EnsureRange(ctx, start, end)
	for _, c := range h.feed.Calls()[before:] {
		trace.FeedCalls = append(trace.FeedCalls, c.Day())
	}
	sort.Strings(trace.FeedCalls)

	if sum != nil {
		trace.Summary = &SummaryTrace{
			RunID:    sum.RunID,
			Buckets:  sum.Buckets,
			Cached:   sum.Cached,
			Fetched:  sum.Fetched,
			Empty:    sum.Empty,
			Pending:  sum.Pending,
			Received: sum.Received,
			Inserted: sum.Inserted,
		}
		for _, b := range sum.Failed() {
			trace.Failed = append(trace.Failed, b.String())
		}
		sort.Strings(trace.Failed)
	}
	trace.Error = errorKind(ensureErr)
	return trace, nil
}

// errorKind maps an EnsureRange error onto the scenario vocabulary.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case backfill.IsNoProgress(err):
		return ErrorNoProgress
	case errors.Is(err, backfill.ErrRangeTooLarge):
		return ErrorRangeTooLarge
	case errors.Is(err, backfill.ErrInvalidRange):
		return ErrorInvalidRange
	default:
		return err.Error()
	}
}
