// Package mongo hosts the MongoDB client backing the event store.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/storage/event"
)

const (
	defaultCollection = "events"
	defaultOpTimeout  = 5 * time.Second
)

// Client exposes Mongo-backed operations for event records.
type Client interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, rec event.Record) error
	FindByRun(ctx context.Context, runID string, fetchLimit int, cursor string, ascending bool) ([]event.Record, error)
	FindByCorrelation(ctx context.Context, correlationID string, fetchLimit int, cursor string, ascending bool) ([]event.Record, error)
}

// Options configures the Mongo event client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB. It maintains two indices: one
// keyed (run_id, event_id) for Storage.Events' by-run view and one keyed
// (correlation_id, event_id) for its by-correlation view, satisfying the
// dual-indexing requirement with a single collection.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	indices := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "event_id", Value: 1}}},
		{Keys: bson.D{{Key: "correlation_id", Value: 1}, {Key: "event_id", Value: 1}}},
		{Keys: bson.D{{Key: "event_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indices); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Insert(ctx context.Context, rec event.Record) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.InsertOne(ctx, fromRecord(rec))
	if err != nil {
		return errs.Internalf(err, "insert event")
	}
	return nil
}

func (c *client) FindByRun(ctx context.Context, runID string, fetchLimit int, cursor string, ascending bool) ([]event.Record, error) {
	return c.find(ctx, bson.M{"run_id": runID}, fetchLimit, cursor, ascending)
}

func (c *client) FindByCorrelation(ctx context.Context, correlationID string, fetchLimit int, cursor string, ascending bool) ([]event.Record, error) {
	return c.find(ctx, bson.M{"correlation_id": correlationID}, fetchLimit, cursor, ascending)
}

func (c *client) find(ctx context.Context, q bson.M, fetchLimit int, cursor string, ascending bool) ([]event.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	sortDir := 1
	cursorOp := "$gt"
	if !ascending {
		sortDir = -1
		cursorOp = "$lt"
	}
	if cursor != "" {
		q["event_id"] = bson.M{cursorOp: cursor}
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "event_id", Value: sortDir}}).SetLimit(int64(fetchLimit))
	cur, err := c.coll.Find(ctx, q, findOpts)
	if err != nil {
		return nil, errs.Internalf(err, "list events")
	}
	var docs []eventDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.Internalf(err, "decode events")
	}
	out := make([]event.Record, len(docs))
	for i, d := range docs {
		out[i] = d.toRecord()
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type eventDocument struct {
	EventID       string    `bson:"event_id"`
	RunID         string    `bson:"run_id"`
	EventType     string    `bson:"event_type"`
	CorrelationID string    `bson:"correlation_id,omitempty"`
	EventData     any       `bson:"event_data,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}

func fromRecord(rec event.Record) eventDocument {
	return eventDocument{
		EventID: rec.EventID, RunID: rec.RunID, EventType: rec.EventType,
		CorrelationID: rec.CorrelationID, EventData: rec.EventData, CreatedAt: rec.CreatedAt,
	}
}

func (doc eventDocument) toRecord() event.Record {
	return event.Record{
		EventID: doc.EventID, RunID: doc.RunID, EventType: doc.EventType,
		CorrelationID: doc.CorrelationID, EventData: doc.EventData, CreatedAt: doc.CreatedAt,
	}
}
