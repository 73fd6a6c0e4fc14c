package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/quakecache/internal/event"
)

// CountInRange returns the number of records with occurred_at in [start, end).
func (s *Store) CountInRange(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events
		WHERE occurred_at >= ? AND occurred_at < ?
	`, start.UnixMilli(), end.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count in range: %w", err)
	}
	return count, nil
}

// ReadRange returns all records with occurred_at in [start, end).
// Results are ordered deterministically: ORDER BY occurred_at ASC, id ASC.
//
// Returns an empty slice (not nil) if no records exist in the range.
func (s *Store) ReadRange(ctx context.Context, start, end time.Time) ([]event.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, attributes
		FROM events
		WHERE occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at ASC, id COLLATE BINARY ASC
	`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	records := []event.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate range: %w", err)
	}

	return records, nil
}

// ReadRecord retrieves a single record by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRecord(ctx context.Context, id string) (event.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, occurred_at, attributes
		FROM events
		WHERE id = ?
	`, id)
	return scanRecord(row)
}

// BucketComplete reports whether a completion marker exists for the bucket.
func (s *Store) BucketComplete(ctx context.Context, b event.Bucket) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM fetched_buckets
		WHERE bucket_start = ?
	`, b.StartMillis()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check bucket %s: %w", b, err)
	}
	return count > 0, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (event.Record, error) {
	var rec event.Record
	var attrsJSON string

	if err := row.Scan(&rec.ID, &rec.OccurredAt, &attrsJSON); err != nil {
		if err == sql.ErrNoRows {
			return event.Record{}, err
		}
		return event.Record{}, fmt.Errorf("scan record: %w", err)
	}

	attrs, err := event.UnmarshalAttributes([]byte(attrsJSON))
	if err != nil {
		return event.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Attributes = attrs

	return rec, nil
}
