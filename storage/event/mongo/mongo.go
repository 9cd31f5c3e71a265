// Package mongo implements event.Store over MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/id"
	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/event"
	clientsmongo "github.com/flowkit/world/storage/event/mongo/clients/mongo"
	"github.com/flowkit/world/telemetry"
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client  clientsmongo.Client
	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics
}

// Store implements event.Store by delegating to the Mongo client.
type Store struct {
	client  clientsmongo.Client
	ids     *id.Generator
	log     telemetry.Logger
	tracer  telemetry.Tracer
	metrics telemetry.Metrics
}

var _ event.Store = (*Store)(nil)

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

func (s *Store) Create(ctx context.Context, runID string, req event.CreateRequest) (rec event.Record, err error) {
	ctx, span := s.tracer.Start(ctx, "event.create")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "event.create", err) }()

	if runID == "" || req.EventType == "" {
		err = errs.InvalidArgumentf("runID and eventType are required")
		return event.Record{}, err
	}
	rec = event.Record{
		EventID:       s.ids.NewID(id.Event),
		RunID:         runID,
		EventType:     req.EventType,
		CorrelationID: req.CorrelationID,
		EventData:     req.EventData,
		CreatedAt:     time.Now().UTC(),
	}
	if err = s.client.Insert(ctx, rec); err != nil {
		return event.Record{}, err
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, params event.ListParams) (page pagination.Page[event.Record], err error) {
	ctx, span := s.tracer.Start(ctx, "event.list")
	defer func() { telemetry.FinishSpan(ctx, s.log, s.metrics, span, "event.list", err) }()

	norm := params.Pagination.Normalize()
	ascending := params.SortOrder != event.Descending
	batch, err := s.client.FindByRun(ctx, params.RunID, norm.FetchLimit(), norm.Cursor, ascending)
	if err != nil {
		return pagination.Page[event.Record]{}, err
	}
	return pagination.Slice(norm, batch, func(r event.Record) string { return r.EventID }), nil
}

func (s *Store) ListByCorrelationId(ctx context.Context, params event.ListByCorrelationParams) (page pagination.Page[event.Record], err error) {
	ctx, span := s.tracer.Start(ctx, "event.list_by_correlation_id")
	defer func() {
		telemetry.FinishSpan(ctx, s.log, s.metrics, span, "event.list_by_correlation_id", err)
	}()

	norm := params.Pagination.Normalize()
	ascending := params.SortOrder != event.Descending
	batch, err := s.client.FindByCorrelation(ctx, params.CorrelationID, norm.FetchLimit(), norm.Cursor, ascending)
	if err != nil {
		return pagination.Page[event.Record]{}, err
	}
	return pagination.Slice(norm, batch, func(r event.Record) string { return r.EventID }), nil
}
