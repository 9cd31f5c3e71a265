// Package memory is a process-local, in-memory implementation of run.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/id"
	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/run"
)

// Store is an in-memory run.Store. The zero value is not usable; construct
// with New.
type Store struct {
	mu      sync.RWMutex
	records map[string]run.Record
	ids     *id.Generator
}

var _ run.Store = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		records: make(map[string]run.Record),
		ids:     id.New(),
	}
}

func (s *Store) Create(ctx context.Context, req run.CreateRequest) (run.Record, error) {
	if err := ctx.Err(); err != nil {
		return run.Record{}, errs.Internalf(err, "context cancelled")
	}
	if req.WorkflowName == "" {
		return run.Record{}, errs.InvalidArgumentf("workflowName is required")
	}
	now := time.Now().UTC()
	rec := run.Record{
		RunID:            s.ids.NewID(id.Run),
		WorkflowName:     req.WorkflowName,
		DeploymentID:     req.DeploymentID,
		Input:            cloneSlice(req.Input),
		ExecutionContext: cloneMap(req.ExecutionContext),
		Status:           run.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.RunID]; exists {
		return run.Record{}, errs.Conflictf("run %q already exists", rec.RunID)
	}
	s.records[rec.RunID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) Get(ctx context.Context, runID string, opts run.GetOptions) (run.Record, error) {
	if err := ctx.Err(); err != nil {
		return run.Record{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.RLock()
	rec, ok := s.records[runID]
	s.mu.RUnlock()
	if !ok {
		return run.Record{}, errs.NotFoundf("run %q not found", runID)
	}
	out := cloneRecord(rec)
	if opts.ResolveData == run.ResolveNone {
		out.Input = nil
		out.Output = nil
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, runID string, patch run.Patch) (run.Record, error) {
	if err := ctx.Err(); err != nil {
		return run.Record{}, errs.Internalf(err, "context cancelled")
	}
	if patch.IsEmpty() {
		return run.Record{}, errs.InvalidArgumentf("patch has no fields set")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[runID]
	if !ok {
		return run.Record{}, errs.NotFoundf("run %q not found", runID)
	}
	applyPatch(&rec, patch)
	s.records[runID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) Cancel(ctx context.Context, runID string) (run.Record, error) {
	return s.transition(ctx, runID, func(rec *run.Record) error {
		if rec.Status.Terminal() {
			return errs.InvalidStatef("run %q is in terminal state %q", runID, rec.Status)
		}
		st := run.StatusCancelled
		applyPatch(rec, run.Patch{Status: &st})
		return nil
	})
}

func (s *Store) Pause(ctx context.Context, runID string) (run.Record, error) {
	return s.transition(ctx, runID, func(rec *run.Record) error {
		if rec.Status != run.StatusPending && rec.Status != run.StatusRunning {
			return errs.InvalidStatef("run %q cannot be paused from state %q", runID, rec.Status)
		}
		st := run.StatusPaused
		applyPatch(rec, run.Patch{Status: &st})
		return nil
	})
}

func (s *Store) Resume(ctx context.Context, runID string) (run.Record, error) {
	return s.transition(ctx, runID, func(rec *run.Record) error {
		if rec.Status != run.StatusPaused {
			return errs.InvalidStatef("run %q is not paused", runID)
		}
		st := run.StatusRunning
		applyPatch(rec, run.Patch{Status: &st})
		return nil
	})
}

func (s *Store) transition(ctx context.Context, runID string, fn func(*run.Record) error) (run.Record, error) {
	if err := ctx.Err(); err != nil {
		return run.Record{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[runID]
	if !ok {
		return run.Record{}, errs.NotFoundf("run %q not found", runID)
	}
	if err := fn(&rec); err != nil {
		return run.Record{}, err
	}
	s.records[runID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) List(ctx context.Context, params run.ListParams) (pagination.Page[run.Record], error) {
	if err := ctx.Err(); err != nil {
		return pagination.Page[run.Record]{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]run.Record, 0, len(s.records))
	for _, rec := range s.records {
		if params.WorkflowName != "" && rec.WorkflowName != params.WorkflowName {
			continue
		}
		if params.Status != "" && rec.Status != params.Status {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].RunID > matched[j].RunID })

	start := 0
	if params.Pagination.Cursor != "" {
		for i, rec := range matched {
			if rec.RunID < params.Pagination.Cursor {
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

	fetchLimit := params.Pagination.FetchLimit()
	if fetchLimit > len(remaining) {
		fetchLimit = len(remaining)
	}
	batch := make([]run.Record, fetchLimit)
	for i := range batch {
		batch[i] = cloneRecord(remaining[i])
	}
	page := pagination.Slice(params.Pagination, batch, func(r run.Record) string { return r.RunID })
	return page, nil
}

func applyPatch(rec *run.Record, patch run.Patch) {
	now := time.Now().UTC()
	if patch.Status != nil {
		rec.Status = *patch.Status
		if rec.Status == run.StatusRunning && rec.StartedAt.IsZero() {
			rec.StartedAt = now
		}
		if rec.Status.Terminal() && rec.CompletedAt.IsZero() {
			rec.CompletedAt = now
		}
	}
	if patch.OutputSet {
		rec.Output = cloneSlice(patch.Output)
	}
	if patch.ExecutionContextSet {
		rec.ExecutionContext = cloneMap(patch.ExecutionContext)
	}
	if patch.Error != nil {
		rec.Error = patch.Error
	}
	rec.UpdatedAt = now
}

func cloneRecord(rec run.Record) run.Record {
	out := rec
	out.Input = cloneSlice(rec.Input)
	out.Output = cloneSlice(rec.Output)
	out.ExecutionContext = cloneMap(rec.ExecutionContext)
	return out
}

func cloneSlice(src []any) []any {
	if len(src) == 0 {
		return nil
	}
	dst := make([]any, len(src))
	copy(dst, src)
	return dst
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
