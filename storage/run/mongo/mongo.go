// Package mongo implements run.Store over MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/id"
	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/run"
	clientsmongo "github.com/flowkit/world/storage/run/mongo/clients/mongo"
	"github.com/flowkit/world/telemetry"
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client  clientsmongo.Client
	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics
}

// Store implements run.Store by delegating to the Mongo client.
type Store struct {
	client  clientsmongo.Client
	ids     *id.Generator
	log     telemetry.Logger
	tracer  telemetry.Tracer
	metrics telemetry.Metrics
}

var _ run.Store = (*Store)(nil)

// NewStore builds a Store using the provided client. Logger, Tracer, and
// Metrics default to no-ops so callers outside a fully instrumented
// deployment pay nothing for the wiring.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Store{client: opts.Client, ids: id.New(), log: log, tracer: tracer, metrics: metrics}, nil
}

// NewStoreFromMongo instantiates the Store by constructing the underlying
// client.
func NewStoreFromMongo(opts clientsmongo.Options) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client})
}

// Ping reports whether the backing MongoDB connection is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Create(ctx context.Context, req run.CreateRequest) (rec run.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "run.create")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "run.create", err) }()

	if req.WorkflowName == "" {
		err = errs.InvalidArgumentf("workflowName is required")
		return run.Record{}, err
	}
	now := time.Now().UTC()
	rec = run.Record{
		RunID:            s.ids.NewID(id.Run),
		WorkflowName:     req.WorkflowName,
		DeploymentID:     req.DeploymentID,
		Input:            req.Input,
		ExecutionContext: req.ExecutionContext,
		Status:           run.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err = s.client.Insert(ctx, rec); err != nil {
		return run.Record{}, err
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, runID string, opts run.GetOptions) (rec run.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "run.get")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "run.get", err) }()

	rec, err = s.client.FindByID(ctx, runID)
	if err != nil {
		return run.Record{}, err
	}
	if opts.ResolveData == run.ResolveNone {
		rec.Input = nil
		rec.Output = nil
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, runID string, patch run.Patch) (rec run.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "run.update")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "run.update", err) }()

	if patch.IsEmpty() {
		err = errs.InvalidArgumentf("patch has no fields set")
		return run.Record{}, err
	}
	rec, err = s.client.ApplyPatch(ctx, runID, patch)
	return rec, err
}

func (s *Store) Cancel(ctx context.Context, runID string) (rec run.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "run.cancel")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "run.cancel", err) }()

	current, err := s.client.FindByID(ctx, runID)
	if err != nil {
		return run.Record{}, err
	}
	if current.Status.Terminal() {
		err = errs.InvalidStatef("run %q is in terminal state %q", runID, current.Status)
		return run.Record{}, err
	}
	st := run.StatusCancelled
	rec, err = s.client.ApplyPatch(ctx, runID, run.Patch{Status: &st})
	return rec, err
}

func (s *Store) Pause(ctx context.Context, runID string) (rec run.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "run.pause")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "run.pause", err) }()

	current, err := s.client.FindByID(ctx, runID)
	if err != nil {
		return run.Record{}, err
	}
	if current.Status != run.StatusPending && current.Status != run.StatusRunning {
		err = errs.InvalidStatef("run %q cannot be paused from state %q", runID, current.Status)
		return run.Record{}, err
	}
	st := run.StatusPaused
	rec, err = s.client.ApplyPatch(ctx, runID, run.Patch{Status: &st})
	return rec, err
}

func (s *Store) Resume(ctx context.Context, runID string) (rec run.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "run.resume")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "run.resume", err) }()

	current, err := s.client.FindByID(ctx, runID)
	if err != nil {
		return run.Record{}, err
	}
	if current.Status != run.StatusPaused {
		err = errs.InvalidStatef("run %q is not paused", runID)
		return run.Record{}, err
	}
	st := run.StatusRunning
	rec, err = s.client.ApplyPatch(ctx, runID, run.Patch{Status: &st})
	return rec, err
}

func (s *Store) List(ctx context.Context, params run.ListParams) (page pagination.Page[run.Record], err error) {
	ctx, span := s.tracer.Start(ctx, "run.list")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "run.list", err) }()

	norm := params.Pagination.Normalize()
	batch, err := s.client.Find(ctx, clientsmongo.Filter{
		WorkflowName: params.WorkflowName,
		Status:       params.Status,
	}, norm.FetchLimit(), norm.Cursor)
	if err != nil {
		return pagination.Page[run.Record]{}, err
	}
	return pagination.Slice(norm, batch, func(r run.Record) string { return r.RunID }), nil
}
