// Package mongo implements step.Store over MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/step"
	clientsmongo "github.com/flowkit/world/storage/step/mongo/clients/mongo"
	"github.com/flowkit/world/telemetry"
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client  clientsmongo.Client
	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics
}

// Store implements step.Store by delegating to the Mongo client.
type Store struct {
	client  clientsmongo.Client
	log     telemetry.Logger
	tracer  telemetry.Tracer
	metrics telemetry.Metrics
}

var _ step.Store = (*Store)(nil)

// NewStore builds a Store using the provided client. Logger, Tracer, and
// Metrics default to no-ops.
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
	return &Store{client: opts.Client, log: log, tracer: tracer, metrics: metrics}, nil
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

func (s *Store) Create(ctx context.Context, runID string, req step.CreateRequest) (rec step.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "step.create")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "step.create", err) }()

	if runID == "" || req.StepID == "" {
		err = errs.InvalidArgumentf("runID and stepId are required")
		return step.Record{}, err
	}
	now := time.Now().UTC()
	rec = step.Record{
		RunID: runID, StepID: req.StepID, StepName: req.StepName,
		Input: req.Input, Attempt: 1, Status: step.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}
	stored, _, err := s.client.Upsert(ctx, rec)
	return stored, err
}

func (s *Store) Get(ctx context.Context, runID, stepID string) (rec step.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "step.get")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "step.get", err) }()

	if runID == "" {
		rec, err = s.client.FindByStep(ctx, stepID)
		return rec, err
	}
	rec, err = s.client.FindByRunAndStep(ctx, runID, stepID)
	return rec, err
}

func (s *Store) Update(ctx context.Context, runID, stepID string, patch step.Patch) (rec step.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "step.update")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "step.update", err) }()

	if patch.IsEmpty() {
		err = errs.InvalidArgumentf("patch has no fields set")
		return step.Record{}, err
	}
	rec, err = s.client.ApplyPatch(ctx, runID, stepID, patch)
	return rec, err
}

func (s *Store) List(ctx context.Context, params step.ListParams) (page pagination.Page[step.Record], err error) {
	ctx, span := s.tracer.Start(ctx, "step.list")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "step.list", err) }()

	norm := params.Pagination.Normalize()
	batch, err := s.client.Find(ctx, params.RunID, norm.FetchLimit(), norm.Cursor)
	if err != nil {
		return pagination.Page[step.Record]{}, err
	}
	return pagination.Slice(norm, batch, func(r step.Record) string { return r.StepID }), nil
}
