// Package mongo hosts the MongoDB client backing the hook store.
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
	"github.com/flowkit/world/storage/hook"
)

const (
	defaultCollection = "hooks"
	defaultOpTimeout  = 5 * time.Second
)

// Client exposes Mongo-backed operations for hook records.
type Client interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, rec hook.Record) (hook.Record, error)
	FindByID(ctx context.Context, hookID string) (hook.Record, error)
	FindByToken(ctx context.Context, token string) (hook.Record, error)
	Find(ctx context.Context, runID string, fetchLimit int, cursor string) ([]hook.Record, error)
	Delete(ctx context.Context, hookID string) (hook.Record, error)
	DeleteByRun(ctx context.Context, runID string) error
}

// Options configures the Mongo hook client.
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

// New returns a Client backed by MongoDB, with a unique index on hook_id and
// a unique secondary index on token for O(1) GetByToken.
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
		{Keys: bson.D{{Key: "hook_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "run_id", Value: 1}}},
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

// Upsert inserts the hook if hookID is new, returning the existing record
// unchanged (including its original token) otherwise.
func (c *client) Upsert(ctx context.Context, rec hook.Record) (hook.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if existing, err := c.FindByID(ctx, rec.HookID); err == nil {
		return existing, nil
	} else if !errs.Is(err, errs.NotFound) {
		return hook.Record{}, err
	}
	if _, err := c.coll.InsertOne(ctx, fromRecord(rec)); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return c.FindByID(ctx, rec.HookID)
		}
		return hook.Record{}, errs.Internalf(err, "insert hook")
	}
	return rec, nil
}

func (c *client) FindByID(ctx context.Context, hookID string) (hook.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc hookDocument
	if err := c.coll.FindOne(ctx, bson.M{"hook_id": hookID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return hook.Record{}, errs.NotFoundf("hook %q not found", hookID)
		}
		return hook.Record{}, errs.Internalf(err, "find hook %q", hookID)
	}
	return doc.toRecord(), nil
}

func (c *client) FindByToken(ctx context.Context, token string) (hook.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc hookDocument
	if err := c.coll.FindOne(ctx, bson.M{"token": token}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return hook.Record{}, errs.NotFoundf("hook with token %q not found", token)
		}
		return hook.Record{}, errs.Internalf(err, "find hook by token")
	}
	return doc.toRecord(), nil
}

func (c *client) Find(ctx context.Context, runID string, fetchLimit int, cursor string) ([]hook.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	q := bson.M{"run_id": runID}
	if cursor != "" {
		q["hook_id"] = bson.M{"$lt": cursor}
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "hook_id", Value: -1}}).SetLimit(int64(fetchLimit))
	cur, err := c.coll.Find(ctx, q, findOpts)
	if err != nil {
		return nil, errs.Internalf(err, "list hooks")
	}
	var docs []hookDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.Internalf(err, "decode hooks")
	}
	out := make([]hook.Record, len(docs))
	for i, d := range docs {
		out[i] = d.toRecord()
	}
	return out, nil
}

func (c *client) Delete(ctx context.Context, hookID string) (hook.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc hookDocument
	if err := c.coll.FindOneAndDelete(ctx, bson.M{"hook_id": hookID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return hook.Record{}, errs.NotFoundf("hook %q not found", hookID)
		}
		return hook.Record{}, errs.Internalf(err, "delete hook")
	}
	return doc.toRecord(), nil
}

func (c *client) DeleteByRun(ctx context.Context, runID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.coll.DeleteMany(ctx, bson.M{"run_id": runID}); err != nil {
		return errs.Internalf(err, "delete hooks for run %q", runID)
	}
	return nil
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

type hookDocument struct {
	HookID      string    `bson:"hook_id"`
	Token       string    `bson:"token"`
	RunID       string    `bson:"run_id"`
	OwnerID     string    `bson:"owner_id,omitempty"`
	ProjectID   string    `bson:"project_id,omitempty"`
	Environment string    `bson:"environment,omitempty"`
	Metadata    any       `bson:"metadata,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

func fromRecord(rec hook.Record) hookDocument {
	return hookDocument{
		HookID: rec.HookID, Token: rec.Token, RunID: rec.RunID,
		OwnerID: rec.OwnerID, ProjectID: rec.ProjectID, Environment: rec.Environment,
		Metadata: rec.Metadata, CreatedAt: rec.CreatedAt,
	}
}

func (doc hookDocument) toRecord() hook.Record {
	return hook.Record{
		HookID: doc.HookID, Token: doc.Token, RunID: doc.RunID,
		OwnerID: doc.OwnerID, ProjectID: doc.ProjectID, Environment: doc.Environment,
		Metadata: doc.Metadata, CreatedAt: doc.CreatedAt,
	}
}
