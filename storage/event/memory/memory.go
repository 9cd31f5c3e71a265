// Package memory is a process-local, in-memory implementation of
// event.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/id"
	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/event"
)

// Store is an in-memory event.Store. Events are appended to a single slice
// in generation order; by-run and by-correlation views are derived at
// query time rather than maintained as separate indices, since the
// in-memory backend has no secondary-index cost to amortize.
type Store struct {
	mu      sync.Mutex
	records []event.Record
	ids     *id.Generator
}

var _ event.Store = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{ids: id.New()}
}

func (s *Store) Create(ctx context.Context, runID string, req event.CreateRequest) (event.Record, error) {
	if err := ctx.Err(); err != nil {
		return event.Record{}, errs.Internalf(err, "context cancelled")
	}
	if runID == "" || req.EventType == "" {
		return event.Record{}, errs.InvalidArgumentf("runID and eventType are required")
	}
	rec := event.Record{
		EventID:       s.ids.NewID(id.Event),
		RunID:         runID,
		EventType:     req.EventType,
		CorrelationID: req.CorrelationID,
		EventData:     req.EventData,
		CreatedAt:     time.Now().UTC(),
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return rec, nil
}

func (s *Store) List(ctx context.Context, params event.ListParams) (pagination.Page[event.Record], error) {
	if err := ctx.Err(); err != nil {
		return pagination.Page[event.Record]{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.Lock()
	matched := make([]event.Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.RunID == params.RunID {
			matched = append(matched, rec)
		}
	}
	s.mu.Unlock()
	return paginate(matched, params.Pagination, params.SortOrder), nil
}

func (s *Store) ListByCorrelationId(ctx context.Context, params event.ListByCorrelationParams) (pagination.Page[event.Record], error) {
	if err := ctx.Err(); err != nil {
		return pagination.Page[event.Record]{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.Lock()
	matched := make([]event.Record, 0)
	for _, rec := range s.records {
		if rec.CorrelationID == params.CorrelationID {
			matched = append(matched, rec)
		}
	}
	s.mu.Unlock()
	return paginate(matched, params.Pagination, params.SortOrder), nil
}

func paginate(matched []event.Record, params pagination.Params, order event.SortOrder) pagination.Page[event.Record] {
	ascending := order != event.Descending
	sort.Slice(matched, func(i, j int) bool {
		if ascending {
			return matched[i].EventID < matched[j].EventID
		}
		return matched[i].EventID > matched[j].EventID
	})

	start := 0
	if params.Cursor != "" {
		for i, rec := range matched {
			past := rec.EventID > params.Cursor
			if !ascending {
				past = rec.EventID < params.Cursor
			}
			if past {
				start = i
				break
			}
			start = i + 1
		}
	}
	if start > len(matched) {
		start = len(matched)
	}
	remaining := matched[start:]

	fetchLimit := params.FetchLimit()
	if fetchLimit > len(remaining) {
		fetchLimit = len(remaining)
	}
	batch := remaining[:fetchLimit]
	return pagination.Slice(params, batch, func(r event.Record) string { return r.EventID })
}
