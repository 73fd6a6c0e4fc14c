// Package mongostore implements the event Store Adapter on MongoDB.
//
// Layout (database "earthquake_db" by default):
//   - earthquakes: {_id: <upstream id>, occurred_at: <epoch ms>, attributes: {...}, ingested_at}
//   - fetched_buckets: {_id: <bucket start ms>, bucket_end, record_count, fetched_at}
//
// The _id primary key is the uniqueness constraint on the identifier.
// Upserts use $setOnInsert so an existing document is never modified.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roach88/quakecache/internal/event"
)

const (
	DefaultDatabase   = "earthquake_db"
	eventsCollection  = "earthquakes"
	markersCollection = "fetched_buckets"

	duplicateKeyCode = 11000
)

// Store is the MongoDB-backed Store Adapter.
type Store struct {
	client  *mongo.Client
	events  *mongo.Collection
	markers *mongo.Collection
	now     func() time.Time
}

type document struct {
	ID         string    `bson:"_id"`
	OccurredAt int64     `bson:"occurred_at"`
	Attributes bson.M    `bson:"attributes"`
	IngestedAt time.Time `bson:"ingested_at"`
}

// Open connects to uri, pings, and ensures indexes. An empty database name
// selects DefaultDatabase; a nil logger selects slog.Default().
func Open(ctx context.Context, uri, database string, logger *slog.Logger) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("opening mongo store", "database", database)

	clientOpts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:  client,
		events:  db.Collection(eventsCollection),
		markers: db.Collection(markersCollection),
		now:     time.Now,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Debug("mongo store ready", "database", database)
	return s, nil
}

// ensureIndexes creates the occurred_at range index. The identifier
// uniqueness constraint is the collection's _id index.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "occurred_at", Value: 1}},
		Options: options.Index().SetName("idx_occurred_at"),
	})
	if err != nil {
		return fmt.Errorf("mongo create index: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// SetClock overrides the wall clock used for ingested_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func rangeFilter(start, end time.Time) bson.M {
	return bson.M{"occurred_at": bson.M{"$gte": start.UnixMilli(), "$lt": end.UnixMilli()}}
}

// CountInRange returns the number of records with occurred_at in [start, end).
func (s *Store) CountInRange(ctx context.Context, start, end time.Time) (int64, error) {
	n, err := s.events.CountDocuments(ctx, rangeFilter(start, end))
	if err != nil {
		return 0, fmt.Errorf("count in range: %w", err)
	}
	return n, nil
}

// UpsertIgnoreDuplicates inserts records whose _id is absent using
// unordered $setOnInsert upserts. Duplicate-key races between concurrent
// writers are absorbed; any other write error fails the call.
func (s *Store) UpsertIgnoreDuplicates(ctx context.Context, records []event.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	ingestedAt := s.now().UTC()
	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return 0, fmt.Errorf("upsert events: %w", err)
		}
		attrs := rec.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": rec.ID}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{
				"occurred_at": rec.OccurredAt,
				"attributes":  attrs,
				"ingested_at": ingestedAt,
			}}).
			SetUpsert(true))
	}

	res, err := s.events.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil && !onlyDuplicateKeyErrors(err) {
		return 0, fmt.Errorf("upsert events: %w", err)
	}
	if res == nil {
		return 0, nil
	}
	return int(res.UpsertedCount), nil
}

// onlyDuplicateKeyErrors reports whether err is a bulk write failure made up
// entirely of E11000 duplicate key errors.
func onlyDuplicateKeyErrors(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

// ReadRange returns records with occurred_at in [start, end) ordered by
// occurred_at, then _id.
func (s *Store) ReadRange(ctx context.Context, start, end time.Time) ([]event.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.events.Find(ctx, rangeFilter(start, end), opts)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	defer cursor.Close(ctx)

	records := []event.Record{}
	for cursor.Next(ctx) {
		var doc document
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, event.Record{
			ID:         doc.ID,
			OccurredAt: doc.OccurredAt,
			Attributes: normalize(doc.Attributes).(map[string]any),
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate range: %w", err)
	}
	return records, nil
}

// MarkBucket records that a bucket was fetched and fully written.
// The first marker for a bucket wins.
func (s *Store) MarkBucket(ctx context.Context, b event.Bucket, recordCount int, fetchedAt time.Time) error {
	_, err := s.markers.UpdateOne(ctx,
		bson.M{"_id": b.StartMillis()},
		bson.M{"$setOnInsert": bson.M{
			"bucket_end":   b.EndMillis(),
			"record_count": recordCount,
			"fetched_at":   fetchedAt.UTC(),
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mark bucket %s: %w", b, err)
	}
	return nil
}

// BucketComplete reports whether a completion marker exists for the bucket.
func (s *Store) BucketComplete(ctx context.Context, b event.Bucket) (bool, error) {
	n, err := s.markers.CountDocuments(ctx, bson.M{"_id": b.StartMillis()}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check bucket %s: %w", b, err)
	}
	return n > 0, nil
}

// normalize converts driver container types into plain maps and slices so
// callers see the same shapes regardless of backend.
func normalize(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	default:
		return val
	}
}
