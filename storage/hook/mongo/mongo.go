// Package mongo implements hook.Store over MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/hook"
	clientsmongo "github.com/flowkit/world/storage/hook/mongo/clients/mongo"
	"github.com/flowkit/world/telemetry"
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client  clientsmongo.Client
	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics
}

// Store implements hook.Store by delegating to the Mongo client.
type Store struct {
	client  clientsmongo.Client
	log     telemetry.Logger
	tracer  telemetry.Tracer
	metrics telemetry.Metrics
}

var _ hook.Store = (*Store)(nil)

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

func (s *Store) Create(ctx context.Context, runID string, req hook.CreateRequest) (rec hook.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "hook.create")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "hook.create", err) }()

	if req.HookID == "" || req.Token == "" {
		err = errs.InvalidArgumentf("hookId and token are required")
		return hook.Record{}, err
	}
	rec = hook.Record{
		HookID: req.HookID, Token: req.Token, RunID: runID,
		OwnerID: req.OwnerID, ProjectID: req.ProjectID, Environment: req.Environment,
		Metadata: req.Metadata, CreatedAt: time.Now().UTC(),
	}
	rec, err = s.client.Upsert(ctx, rec)
	return rec, err
}

func (s *Store) GetByToken(ctx context.Context, token string) (rec hook.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "hook.get_by_token")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "hook.get_by_token", err) }()
	rec, err = s.client.FindByToken(ctx, token)
	return rec, err
}

func (s *Store) Get(ctx context.Context, hookID string) (rec hook.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "hook.get")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "hook.get", err) }()
	rec, err = s.client.FindByID(ctx, hookID)
	return rec, err
}

func (s *Store) List(ctx context.Context, params hook.ListParams) (page pagination.Page[hook.Record], err error) {
	ctx, span := s.tracer.Start(ctx, "hook.list")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "hook.list", err) }()

	norm := params.Pagination.Normalize()
	batch, err := s.client.Find(ctx, params.RunID, norm.FetchLimit(), norm.Cursor)
	if err != nil {
		return pagination.Page[hook.Record]{}, err
	}
	return pagination.Slice(norm, batch, func(r hook.Record) string { return r.HookID }), nil
}

func (s *Store) Dispose(ctx context.Context, hookID string) (rec hook.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "hook.dispose")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "hook.dispose", err) }()
	rec, err = s.client.Delete(ctx, hookID)
	return rec, err
}

// DisposeByRun eagerly deletes every hook owned by runID.
func (s *Store) DisposeByRun(ctx context.Context, runID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "hook.dispose_by_run")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "hook.dispose_by_run", err) }()
	err = s.client.DeleteByRun(ctx, runID)
	return err
}
