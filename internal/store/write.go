package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/quakecache/internal/event"
)

// UpsertIgnoreDuplicates inserts each record whose ID is not yet stored.
// Uses ON CONFLICT(id) DO NOTHING - existing records are left untouched and
// duplicates (against the store or within the batch) are silently skipped.
// Returns the number of genuinely new records.
//
// The batch is written in one transaction, so a failure other than a
// duplicate leaves the store unchanged.
func (s *Store) UpsertIgnoreDuplicates(ctx context.Context, records []event.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, occurred_at, attributes, ingested_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("upsert events: prepare: %w", err)
	}
	defer stmt.Close()

	ingestedAt := s.now().UnixMilli()
	inserted := 0
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return 0, fmt.Errorf("upsert events: %w", err)
		}

		attrs, err := event.MarshalAttributes(rec.Attributes)
		if err != nil {
			return 0, fmt.Errorf("upsert events: record %s: %w", rec.ID, err)
		}

		result, err := stmt.ExecContext(ctx, rec.ID, rec.OccurredAt, string(attrs), ingestedAt)
		if err != nil {
			return 0, fmt.Errorf("upsert events: insert %s: %w", rec.ID, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("upsert events: rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert events: commit: %w", err)
	}

	return inserted, nil
}

// MarkBucket records that a bucket was fetched and fully written.
// Uses ON CONFLICT DO NOTHING - the first marker for a bucket wins.
func (s *Store) MarkBucket(ctx context.Context, b event.Bucket, recordCount int, fetchedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fetched_buckets (bucket_start, bucket_end, record_count, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bucket_start) DO NOTHING
	`,
		b.StartMillis(),
		b.EndMillis(),
		recordCount,
		fetchedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("mark bucket %s: %w", b, err)
	}
	return nil
}
