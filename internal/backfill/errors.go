package backfill

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/quakecache/internal/event"
)

// Stage names the step of bucket processing that failed.
type Stage string

const (
	StageCount Stage = "count" // cache check against the store
	StageFetch Stage = "fetch" // upstream feed
	StageStore Stage = "store" // upsert of fetched records
	StageMark  Stage = "mark"  // completion marker write
)

// Caller-contract violations. EnsureRange returns these before any I/O.
var (
	ErrInvalidRange  = event.ErrInvalidRange
	ErrRangeTooLarge = event.ErrRangeTooLarge
)

// BucketError records why one bucket could not be completed.
type BucketError struct {
	Bucket event.Bucket
	Stage  Stage
	Err    error
}

func (e *BucketError) Error() string {
	return fmt.Sprintf("bucket %s: %s: %v", e.Bucket, e.Stage, e.Err)
}

func (e *BucketError) Unwrap() error {
	return e.Err
}

// NoProgressError is returned when every bucket in the range failed.
// It unwraps to each bucket's error.
type NoProgressError struct {
	Failures []*BucketError
}

func (e *NoProgressError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backfill made no progress: all %d buckets failed", len(e.Failures))
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, " (first: %v)", e.Failures[0])
	}
	return b.String()
}

func (e *NoProgressError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// IsNoProgress reports whether err is a *NoProgressError.
func IsNoProgress(err error) bool {
	var np *NoProgressError
	return errors.As(err, &np)
}

// IsFeedError reports whether err is a bucket failure in the upstream feed.
func IsFeedError(err error) bool {
	var be *BucketError
	return errors.As(err, &be) && be.Stage == StageFetch
}

// IsStoreError reports whether err is a bucket failure in the store.
func IsStoreError(err error) bool {
	var be *BucketError
	if !errors.As(err, &be) {
		return false
	}
	switch be.Stage {
	case StageCount, StageStore, StageMark:
		return true
	}
	return false
}
