// Package mongo hosts the MongoDB client backing the run store.
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
)

const (
	defaultCollection = "runs"
	defaultOpTimeout  = 5 * time.Second
)

// Client exposes Mongo-backed operations for run records.
type Client interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, rec run.Record) error
	FindByID(ctx context.Context, runID string) (run.Record, error)
	ApplyPatch(ctx context.Context, runID string, patch run.Patch) (run.Record, error)
	Find(ctx context.Context, filter Filter, fetchLimit int, cursor string) ([]run.Record, error)
}

// Filter narrows Find to runs matching the given fields, when non-empty.
type Filter struct {
	WorkflowName string
	Status       run.Status
}

// Options configures the Mongo run client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	coll    collection
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
	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	wrapper := mongoCollection{coll: mcoll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, coll: wrapper, timeout: timeout}, nil
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Insert(ctx context.Context, rec run.Record) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	doc := fromRecord(rec)
	_, err := c.coll.InsertOne(ctx, doc)
	if mongodriver.IsDuplicateKeyError(err) {
		return errs.Conflictf("run %q already exists", rec.RunID)
	}
	if err != nil {
		return errs.Internalf(err, "insert run %q", rec.RunID)
	}
	return nil
}

func (c *client) FindByID(ctx context.Context, runID string) (run.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := c.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return run.Record{}, errs.NotFoundf("run %q not found", runID)
		}
		return run.Record{}, errs.Internalf(err, "find run %q", runID)
	}
	return doc.toRecord(), nil
}

// ApplyPatch atomically merges patch over the stored document using a
// pipeline update so the "startedAt/completedAt set only if currently null"
// rule is enforced server-side, without a read-modify-write race.
func (c *client) ApplyPatch(ctx context.Context, runID string, patch run.Patch) (run.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	setFields := bson.M{"updated_at": now}
	if patch.Status != nil {
		setFields["status"] = *patch.Status
		if *patch.Status == run.StatusRunning {
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
	if patch.ExecutionContextSet {
		setFields["execution_context"] = patch.ExecutionContext
	}
	if patch.Error != nil {
		setFields["error"] = patch.Error
	}

	pipeline := bson.A{bson.M{"$set": setFields}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc runDocument
	err := c.coll.FindOneAndUpdate(ctx, bson.M{"run_id": runID}, pipeline, opts).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return run.Record{}, errs.NotFoundf("run %q not found", runID)
	}
	if err != nil {
		return run.Record{}, errs.Internalf(err, "update run %q", runID)
	}
	return doc.toRecord(), nil
}

func (c *client) Find(ctx context.Context, filter Filter, fetchLimit int, cursor string) ([]run.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	q := bson.M{}
	if filter.WorkflowName != "" {
		q["workflow_name"] = filter.WorkflowName
	}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if cursor != "" {
		q["run_id"] = bson.M{"$lt": cursor}
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "run_id", Value: -1}}).SetLimit(int64(fetchLimit))
	cur, err := c.coll.Find(ctx, q, findOpts)
	if err != nil {
		return nil, errs.Internalf(err, "list runs")
	}
	var docs []runDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.Internalf(err, "decode runs")
	}
	out := make([]run.Record, len(docs))
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

type runDocument struct {
	RunID            string         `bson:"run_id"`
	WorkflowName     string         `bson:"workflow_name"`
	DeploymentID     string         `bson:"deployment_id,omitempty"`
	Input            []any          `bson:"input,omitempty"`
	Output           []any          `bson:"output,omitempty"`
	ExecutionContext map[string]any `bson:"execution_context,omitempty"`
	Error            *run.Failure   `bson:"error,omitempty"`
	Status           run.Status     `bson:"status"`
	CreatedAt        time.Time      `bson:"created_at"`
	UpdatedAt        time.Time      `bson:"updated_at"`
	StartedAt        time.Time      `bson:"started_at"`
	CompletedAt      time.Time      `bson:"completed_at"`
}

func fromRecord(rec run.Record) runDocument {
	return runDocument{
		RunID:            rec.RunID,
		WorkflowName:     rec.WorkflowName,
		DeploymentID:     rec.DeploymentID,
		Input:            rec.Input,
		Output:           rec.Output,
		ExecutionContext: rec.ExecutionContext,
		Error:            rec.Error,
		Status:           rec.Status,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
		StartedAt:        rec.StartedAt,
		CompletedAt:      rec.CompletedAt,
	}
}

func (doc runDocument) toRecord() run.Record {
	return run.Record{
		RunID:            doc.RunID,
		WorkflowName:     doc.WorkflowName,
		DeploymentID:     doc.DeploymentID,
		Input:            doc.Input,
		Output:           doc.Output,
		ExecutionContext: doc.ExecutionContext,
		Error:            doc.Error,
		Status:           doc.Status,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		StartedAt:        doc.StartedAt,
		CompletedAt:      doc.CompletedAt,
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "run_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

// collection, indexView, singleResult, and cursor narrow the real driver
// types down to what this client calls, so unit tests can substitute a
// hand-rolled fake instead of a live database.
type collection interface {
	InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	FindOneAndUpdate(ctx context.Context, filter any, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	All(ctx context.Context, results any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc)
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) FindOneAndUpdate(ctx context.Context, filter any, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
