// Package mongo hosts the MongoDB client backing the step store.
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
	"github.com/flowkit/world/storage/run"
	"github.com/flowkit/world/storage/step"
)

const (
	defaultCollection = "steps"
	defaultOpTimeout  = 5 * time.Second
)

// Client exposes Mongo-backed operations for step records.
type Client interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, rec step.Record) (step.Record, bool, error)
	FindByRunAndStep(ctx context.Context, runID, stepID string) (step.Record, error)
	FindByStep(ctx context.Context, stepID string) (step.Record, error)
	ApplyPatch(ctx context.Context, runID, stepID string, patch step.Patch) (step.Record, error)
	Find(ctx context.Context, runID string, fetchLimit int, cursor string) ([]step.Record, error)
}

// Options configures the Mongo step client.
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

// New returns a Client backed by MongoDB.
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
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "step_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, index); err != nil {
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

// Upsert inserts the step if (runId, stepId) is new, returning (existing,
// false, nil) unchanged when it already exists — the idempotent-create
// contract required of step.Store.Create.
func (c *client) Upsert(ctx context.Context, rec step.Record) (step.Record, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	existing, err := c.findDoc(ctx, rec.RunID, rec.StepID)
	if err == nil {
		return existing.toRecord(), false, nil
	}
	if !errs.Is(err, errs.NotFound) {
		return step.Record{}, false, err
	}
	doc := fromRecord(rec)
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			existing, ferr := c.findDoc(ctx, rec.RunID, rec.StepID)
			if ferr != nil {
				return step.Record{}, false, ferr
			}
			return existing.toRecord(), false, nil
		}
		return step.Record{}, false, errs.Internalf(err, "insert step")
	}
	return rec, true, nil
}

func (c *client) FindByRunAndStep(ctx context.Context, runID, stepID string) (step.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	doc, err := c.findDoc(ctx, runID, stepID)
	if err != nil {
		return step.Record{}, err
	}
	return doc.toRecord(), nil
}

func (c *client) FindByStep(ctx context.Context, stepID string) (step.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc stepDocument
	if err := c.coll.FindOne(ctx, bson.M{"step_id": stepID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return step.Record{}, errs.NotFoundf("step %q not found", stepID)
		}
		return step.Record{}, errs.Internalf(err, "find step %q", stepID)
	}
	return doc.toRecord(), nil
}

func (c *client) ApplyPatch(ctx context.Context, runID, stepID string, patch step.Patch) (step.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	setFields := bson.M{"updated_at": now}
	if patch.Status != nil {
		setFields["status"] = *patch.Status
		if *patch.Status == step.StatusRunning {
			setFields["started_at"] = bson.M{"$cond": bson.A{
				bson.M{"$lte": bson.A{"$started_at", time.Time{}}}, now, "$started_at",
			}}
		}
		if (*patch.Status).Terminal() {
			setFields["completed_at"] = bson.M{"$cond": bson.A{
				bson.M{"$lte": bson.A{"$completed_at", time.Time{}}}, now, "$completed_at",
			}}
		}
	}
	if patch.OutputSet {
		setFields["output"] = patch.Output
	}
	if patch.Error != nil {
		setFields["error"] = patch.Error
	}
	if patch.Attempt != nil {
		setFields["attempt"] = *patch.Attempt
	}
	if patch.RetryAfterSet {
		if patch.RetryAfter != nil {
			setFields["retry_after"] = *patch.RetryAfter
		} else {
			setFields["retry_after"] = time.Time{}
		}
	}

	pipeline := bson.A{bson.M{"$set": setFields}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc stepDocument
	filter := bson.M{"run_id": runID, "step_id": stepID}
	err := c.coll.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return step.Record{}, errs.NotFoundf("step %q/%q not found", runID, stepID)
	}
	if err != nil {
		return step.Record{}, errs.Internalf(err, "update step")
	}
	return doc.toRecord(), nil
}

func (c *client) Find(ctx context.Context, runID string, fetchLimit int, cursor string) ([]step.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	q := bson.M{"run_id": runID}
	if cursor != "" {
		q["step_id"] = bson.M{"$lt": cursor}
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "step_id", Value: -1}}).SetLimit(int64(fetchLimit))
	cur, err := c.coll.Find(ctx, q, findOpts)
	if err != nil {
		return nil, errs.Internalf(err, "list steps")
	}
	var docs []stepDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.Internalf(err, "decode steps")
	}
	out := make([]step.Record, len(docs))
	for i, d := range docs {
		out[i] = d.toRecord()
	}
	return out, nil
}

func (c *client) findDoc(ctx context.Context, runID, stepID string) (stepDocument, error) {
	var doc stepDocument
	filter := bson.M{"run_id": runID, "step_id": stepID}
	if err := c.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return stepDocument{}, errs.NotFoundf("step %q/%q not found", runID, stepID)
		}
		return stepDocument{}, errs.Internalf(err, "find step")
	}
	return doc, nil
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

type stepDocument struct {
	RunID       string       `bson:"run_id"`
	StepID      string       `bson:"step_id"`
	StepName    string       `bson:"step_name"`
	Input       []any        `bson:"input,omitempty"`
	Output      []any        `bson:"output,omitempty"`
	Error       *run.Failure `bson:"error,omitempty"`
	Attempt     int          `bson:"attempt"`
	RetryAfter  time.Time    `bson:"retry_after,omitempty"`
	Status      step.Status  `bson:"status"`
	CreatedAt   time.Time    `bson:"created_at"`
	UpdatedAt   time.Time    `bson:"updated_at"`
	StartedAt   time.Time    `bson:"started_at"`
	CompletedAt time.Time    `bson:"completed_at"`
}

func fromRecord(rec step.Record) stepDocument {
	return stepDocument{
		RunID: rec.RunID, StepID: rec.StepID, StepName: rec.StepName,
		Input: rec.Input, Output: rec.Output, Error: rec.Error,
		Attempt: rec.Attempt, RetryAfter: rec.RetryAfter, Status: rec.Status,
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
		StartedAt: rec.StartedAt, CompletedAt: rec.CompletedAt,
	}
}

func (doc stepDocument) toRecord() step.Record {
	return step.Record{
		RunID: doc.RunID, StepID: doc.StepID, StepName: doc.StepName,
		Input: doc.Input, Output: doc.Output, Error: doc.Error,
		Attempt: doc.Attempt, RetryAfter: doc.RetryAfter, Status: doc.Status,
		CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
		StartedAt: doc.StartedAt, CompletedAt: doc.CompletedAt,
	}
}
