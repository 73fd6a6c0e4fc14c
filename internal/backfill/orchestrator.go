package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/quakecache/internal/event"
)

// Store is the part of the Store Adapter the orchestrator needs.
type Store interface {
	CountInRange(ctx context.Context, start, end time.Time) (int64, error)
	UpsertIgnoreDuplicates(ctx context.Context, records []event.Record) (int, error)
}

// MarkerStore is a Store that also records per-bucket completion.
type MarkerStore interface {
	Store
	MarkBucket(ctx context.Context, b event.Bucket, recordCount int, fetchedAt time.Time) error
	BucketComplete(ctx context.Context, b event.Bucket) (bool, error)
}

// Feed is the upstream feed client.
type Feed interface {
	Fetch(ctx context.Context, start, end time.Time) ([]event.Record, error)
}

// CompletionMode selects how a bucket is judged already cached.
type CompletionMode string

const (
	ModeCount  CompletionMode = "count"
	ModeMarker CompletionMode = "marker"
)

// ParseCompletionMode accepts "count", "marker", or "" (count).
func ParseCompletionMode(s string) (CompletionMode, error) {
	switch CompletionMode(s) {
	case "", ModeCount:
		return ModeCount, nil
	case ModeMarker:
		return ModeMarker, nil
	}
	return "", fmt.Errorf("unknown completion mode %q (want count or marker)", s)
}

// Orchestrator implements EnsureRange. It holds no per-call state and is
// safe for concurrent use if the store and feed are.
type Orchestrator struct {
	store        Store
	markers      MarkerStore
	feed         Feed
	logger       *slog.Logger
	workers      int
	mode         CompletionMode
	runIDs       RunIDGenerator
	metrics      *Metrics
	now          func() time.Time
	maxRangeDays int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithWorkers sets how many buckets are processed at once. Default 1.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) { o.workers = n }
}

// WithCompletion sets the completion mode. Default ModeCount.
func WithCompletion(m CompletionMode) Option {
	return func(o *Orchestrator) { o.mode = m }
}

// WithRunIDs sets the run ID generator. Default UUIDv7Generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(o *Orchestrator) { o.runIDs = g }
}

// WithMetrics sets the Prometheus collectors. Default none.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock sets the wall clock used for durations and marker stamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMaxRangeDays bounds how many buckets one call may cover.
// Default event.DefaultMaxRangeDays.
func WithMaxRangeDays(n int) Option {
	return func(o *Orchestrator) { o.maxRangeDays = n }
}

// New builds an Orchestrator over an explicitly owned store and feed.
func New(store Store, feed Feed, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("backfill: nil store")
	}
	if feed == nil {
		return nil, errors.New("backfill: nil feed")
	}

	o := &Orchestrator{
		store:        store,
		feed:         feed,
		logger:       slog.Default(),
		workers:      1,
		mode:         ModeCount,
		runIDs:       UUIDv7Generator{},
		now:          time.Now,
		maxRangeDays: event.DefaultMaxRangeDays,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.workers < 1 {
		return nil, fmt.Errorf("backfill: workers must be >= 1, got %d", o.workers)
	}
	if o.maxRangeDays < 1 {
		return nil, fmt.Errorf("backfill: max range days must be >= 1, got %d", o.maxRangeDays)
	}
	switch o.mode {
	case ModeCount:
	case ModeMarker:
		ms, ok := store.(MarkerStore)
		if !ok {
			return nil, fmt.Errorf("backfill: completion mode %q needs a store with bucket markers (%T has none)", o.mode, store)
		}
		o.markers = ms
	default:
		return nil, fmt.Errorf("backfill: unknown completion mode %q", o.mode)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.runIDs == nil {
		o.runIDs = UUIDv7Generator{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Mode returns the configured completion mode.
func (o *Orchestrator) Mode() CompletionMode {
	return o.mode
}

// EnsureRange makes every UTC day from start's day through end's day
// inclusive cached in the store, fetching only buckets that are not.
//
// Invalid ranges fail before any I/O. Feed and store failures are
// confined to their bucket and reported in the summary; the error is nil
// unless every bucket failed (*NoProgressError) or ctx was canceled, in
// which case the partial summary is returned with ctx.Err().
func (o *Orchestrator) EnsureRange(ctx context.Context, start, end time.Time) (*Summary, error) {
	buckets, err := event.DayBuckets(start, end, o.maxRangeDays)
	if err != nil {
		return nil, err
	}

	began := o.now()
	sum := &Summary{
		RunID:   o.runIDs.Generate(),
		From:    buckets[0].Start,
		To:      buckets[len(buckets)-1].End,
		Buckets: len(buckets),
	}
	log := o.logger.With("run_id", sum.RunID)
	log.Info("backfill started",
		"from", sum.From.Format(event.DayLayout),
		"to", buckets[len(buckets)-1].String(),
		"buckets", len(buckets),
		"mode", string(o.mode),
		"workers", o.workers)

	results := make([]bucketResult, len(buckets))
	if o.workers == 1 {
		for i, b := range buckets {
			if ctx.Err() != nil {
				break
			}
			results[i] = o.processBucket(ctx, log, b)
		}
	} else {
		// Plain Group: one bucket's failure must not cancel its siblings.
		var g errgroup.Group
		g.SetLimit(o.workers)
		for i, b := range buckets {
			if ctx.Err() != nil {
				break
			}
			i, b := i, b
			g.Go(func() error {
				results[i] = o.processBucket(ctx, log, b)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, r := range results {
		switch r.outcome {
		case outcomePending:
			sum.Pending++
		case outcomeCached:
			sum.Cached++
		case outcomeFetched:
			sum.Fetched++
		case outcomeEmpty:
			sum.Empty++
		case outcomeFailed:
			sum.Failures = append(sum.Failures, r.err)
		}
		sum.Received += r.received
		sum.Inserted += r.inserted
	}
	sum.Duration = o.now().Sub(began)
	o.metrics.run(sum.Duration.Seconds())

	log.Info("backfill finished",
		"cached", sum.Cached,
		"fetched", sum.Fetched,
		"empty", sum.Empty,
		"failed", len(sum.Failures),
		"pending", sum.Pending,
		"inserted", sum.Inserted,
		"duration", sum.Duration)

	if err := ctx.Err(); err != nil {
		return sum, err
	}
	if len(sum.Failures) == len(buckets) {
		return sum, &NoProgressError{Failures: sum.Failures}
	}
	return sum, nil
}

// processBucket runs check, fetch, write and (in marker mode) mark for a
// single bucket. It never returns an error; failures are recorded in the
// result and the caller moves on.
func (o *Orchestrator) processBucket(ctx context.Context, log *slog.Logger, b event.Bucket) bucketResult {
	log = log.With("bucket", b.String())

	fail := func(stage Stage, err error) bucketResult {
		if ctx.Err() != nil {
			log.Debug("bucket abandoned", "stage", string(stage), "error", err)
			return bucketResult{outcome: outcomePending}
		}
		log.Warn("bucket failed, skipping", "stage", string(stage), "error", err)
		o.metrics.bucket(OutcomeFailed)
		return bucketResult{outcome: outcomeFailed, err: &BucketError{Bucket: b, Stage: stage, Err: err}}
	}

	cached, err := o.isCached(ctx, b)
	if err != nil {
		return fail(StageCount, err)
	}
	if cached {
		log.Debug("bucket cached")
		o.metrics.bucket(OutcomeCached)
		return bucketResult{outcome: outcomeCached}
	}

	fetched, err := o.feed.Fetch(ctx, b.Start, b.End)
	if err != nil {
		return fail(StageFetch, err)
	}

	records := make([]event.Record, 0, len(fetched))
	for _, r := range fetched {
		if b.Contains(r.OccurredAt) {
			records = append(records, r)
		}
	}
	if dropped := len(fetched) - len(records); dropped > 0 {
		log.Debug("dropped records outside bucket", "dropped", dropped)
	}

	inserted := 0
	if len(records) > 0 {
		inserted, err = o.store.UpsertIgnoreDuplicates(ctx, records)
		if err != nil {
			return fail(StageStore, err)
		}
	}

	if o.mode == ModeMarker {
		if err := o.markers.MarkBucket(ctx, b, len(records), o.now()); err != nil {
			return fail(StageMark, err)
		}
	}

	o.metrics.inserted(inserted)
	if len(records) == 0 {
		log.Info("bucket empty upstream")
		o.metrics.bucket(OutcomeEmpty)
		return bucketResult{outcome: outcomeEmpty}
	}

	log.Info("bucket fetched", "count", len(records), "inserted", inserted)
	o.metrics.bucket(OutcomeFetched)
	return bucketResult{outcome: outcomeFetched, received: len(records), inserted: inserted}
}

func (o *Orchestrator) isCached(ctx context.Context, b event.Bucket) (bool, error) {
	if o.mode == ModeMarker {
		return o.markers.BucketComplete(ctx, b)
	}
	n, err := o.store.CountInRange(ctx, b.Start, b.End)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
