// Package pgstore implements the event Store Adapter on PostgreSQL via pgx.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/quakecache/internal/event"
)

// initSQL is idempotent and runs on every Open.
const initSQL = `
CREATE TABLE IF NOT EXISTS events (
    id          TEXT        PRIMARY KEY,
    occurred_at BIGINT      NOT NULL,
    attributes  JSONB       NOT NULL,
    ingested_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events (occurred_at);
CREATE TABLE IF NOT EXISTS fetched_buckets (
    bucket_start BIGINT      PRIMARY KEY,
    bucket_end   BIGINT      NOT NULL,
    record_count INTEGER     NOT NULL,
    fetched_at   TIMESTAMPTZ NOT NULL
);
`

const insertSQL = `
INSERT INTO events (id, occurred_at, attributes, ingested_at)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (id) DO NOTHING
`

// Store is the PostgreSQL-backed Store Adapter.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open parses dsn, builds a pool, retries the initial connection, and runs
// the schema. Connection retries are reported on logger; nil means
// slog.Default().
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgxpool config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnIdleTime = 5 * time.Minute
	config.MaxConnLifetime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute
	config.ConnConfig.ConnectTimeout = 10 * time.Second

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 3; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				break
			}
			pool.Close()
		}
		logger.Warn("postgres connect failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres after retries: %w", err)
	}

	if _, err := pool.Exec(ctx, initSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run init sql: %w", err)
	}

	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// SetClock overrides the wall clock used for ingested_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CountInRange returns the number of records with occurred_at in [start, end).
func (s *Store) CountInRange(ctx context.Context, start, end time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM events
		WHERE occurred_at >= $1 AND occurred_at < $2
	`, start.UnixMilli(), end.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count in range: %w", err)
	}
	return n, nil
}

// UpsertIgnoreDuplicates sends one batch of INSERT ... ON CONFLICT (id) DO
// NOTHING statements inside a transaction and sums the affected rows.
func (s *Store) UpsertIgnoreDuplicates(ctx context.Context, records []event.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ingestedAt := s.now().UTC()
	batch := &pgx.Batch{}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return 0, fmt.Errorf("upsert events: %w", err)
		}
		attrs, err := event.MarshalAttributes(rec.Attributes)
		if err != nil {
			return 0, fmt.Errorf("upsert events: record %s: %w", rec.ID, err)
		}
		batch.Queue(insertSQL, rec.ID, rec.OccurredAt, string(attrs), ingestedAt)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("upsert events: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	br := tx.SendBatch(ctx, batch)
	inserted := 0
	for range records {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("upsert events: insert: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("upsert events: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("upsert events: commit: %w", err)
	}
	return inserted, nil
}

// ReadRange returns records with occurred_at in [start, end) ordered by
// occurred_at, then id.
func (s *Store) ReadRange(ctx context.Context, start, end time.Time) ([]event.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, occurred_at, attributes::text
		FROM events
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC, id COLLATE "C" ASC
	`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	records := []event.Record{}
	for rows.Next() {
		var rec event.Record
		var attrsJSON string
		if err := rows.Scan(&rec.ID, &rec.OccurredAt, &attrsJSON); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Attributes, err = event.UnmarshalAttributes([]byte(attrsJSON))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate range: %w", err)
	}
	return records, nil
}

// MarkBucket records that a bucket was fetched and fully written.
// The first marker for a bucket wins.
func (s *Store) MarkBucket(ctx context.Context, b event.Bucket, recordCount int, fetchedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO fetched_buckets (bucket_start, bucket_end, record_count, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bucket_start) DO NOTHING
	`, b.StartMillis(), b.EndMillis(), recordCount, fetchedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark bucket %s: %w", b, err)
	}
	return nil
}

// BucketComplete reports whether a completion marker exists for the bucket.
func (s *Store) BucketComplete(ctx context.Context, b event.Bucket) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM fetched_buckets WHERE bucket_start = $1)
	`, b.StartMillis()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check bucket %s: %w", b, err)
	}
	return exists, nil
}
