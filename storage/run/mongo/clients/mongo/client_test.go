package mongo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/storage/run"
)

func TestEnsureIndexes(t *testing.T) {
	fc := newFakeCollection()
	err := ensureIndexes(context.Background(), fc)
	require.NoError(t, err)
	require.True(t, fc.indexCreated)
}

func TestInsertAndFindByID(t *testing.T) {
	cl := mustNewTestClient()
	rec := run.Record{
		RunID:        "wrun_1",
		WorkflowName: "w",
		Status:       run.StatusPending,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, cl.Insert(context.Background(), rec))

	got, err := cl.FindByID(context.Background(), "wrun_1")
	require.NoError(t, err)
	require.Equal(t, rec.WorkflowName, got.WorkflowName)

	err = cl.Insert(context.Background(), rec)
	require.True(t, errs.Is(err, errs.Conflict))
}

func TestFindByIDMissingIsNotFound(t *testing.T) {
	cl := mustNewTestClient()
	_, err := cl.FindByID(context.Background(), "missing")
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestApplyPatchSetsStartedAtOnce(t *testing.T) {
	cl := mustNewTestClient()
	rec := run.Record{RunID: "wrun_2", WorkflowName: "w", Status: run.StatusPending, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, cl.Insert(context.Background(), rec))

	running := run.StatusRunning
	updated, err := cl.ApplyPatch(context.Background(), "wrun_2", run.Patch{Status: &running})
	require.NoError(t, err)
	require.False(t, updated.StartedAt.IsZero())

	first := updated.StartedAt
	time.Sleep(time.Millisecond)
	updated, err = cl.ApplyPatch(context.Background(), "wrun_2", run.Patch{Status: &running})
	require.NoError(t, err)
	require.Equal(t, first, updated.StartedAt)
}

func mustNewTestClient() *client {
	fc := newFakeCollection()
	return &client{coll: fc, timeout: time.Second}
}

type fakeCollection struct {
	mu           sync.Mutex
	indexCreated bool
	docs         map[string]runDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]runDocument)}
}

func (c *fakeCollection) InsertOne(ctx context.Context, doc any) (*mongodriver.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := doc.(runDocument)
	if _, exists := c.docs[d.RunID]; exists {
		return nil, mongodriver.WriteException{WriteErrors: mongodriver.WriteErrors{{Code: 11000, Message: "duplicate"}}}
	}
	c.docs[d.RunID] = d
	return &mongodriver.InsertOneResult{}, nil
}

func (c *fakeCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	runID := filter.(bson.M)["run_id"].(string)
	doc, ok := c.docs[runID]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	copyDoc := doc
	return fakeSingleResult{doc: &copyDoc}
}

func (c *fakeCollection) FindOneAndUpdate(ctx context.Context, filter any, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	runID := filter.(bson.M)["run_id"].(string)
	doc, ok := c.docs[runID]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	pipeline := update.(bson.A)
	set := pipeline[0].(bson.M)["$set"].(bson.M)
	for k, v := range set {
		switch k {
		case "started_at", "completed_at":
			cond, ok := v.(bson.M)["$cond"].(bson.A)
			if !ok {
				continue
			}
			current := doc.StartedAt
			if k == "completed_at" {
				current = doc.CompletedAt
			}
			// cond[2] is a "$field" reference the server resolves to the
			// stored value, so an already-set timestamp is kept.
			newVal := any(current)
			if current.IsZero() {
				newVal = cond[1]
			}
			if k == "started_at" {
				doc.StartedAt = newVal.(time.Time)
			} else {
				doc.CompletedAt = newVal.(time.Time)
			}
		case "status":
			doc.Status = v.(run.Status)
		case "updated_at":
			doc.UpdatedAt = v.(time.Time)
		case "output":
			doc.Output = v.([]any)
		case "execution_context":
			doc.ExecutionContext = v.(map[string]any)
		case "error":
			doc.Error = v.(*run.Failure)
		}
	}
	c.docs[runID] = doc
	copyDoc := doc
	return fakeSingleResult{doc: &copyDoc}
}

func (c *fakeCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var docs []runDocument
	for _, d := range c.docs {
		docs = append(docs, d)
	}
	return fakeCursor{docs: docs}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return &fakeIndexView{c: c}
}

type fakeIndexView struct{ c *fakeCollection }

func (v *fakeIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	v.c.indexCreated = true
	return "run_id_1", nil
}

type fakeSingleResult struct {
	doc *runDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	target := val.(*runDocument)
	*target = *r.doc
	return nil
}

type fakeCursor struct{ docs []runDocument }

func (c fakeCursor) All(ctx context.Context, results any) error {
	target := results.(*[]runDocument)
	*target = c.docs
	return nil
}
