// Package memory is a process-local, in-memory implementation of step.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/step"
)

type key struct {
	runID, stepID string
}

// Store is an in-memory step.Store.
type Store struct {
	mu      sync.RWMutex
	records map[key]step.Record
}

var _ step.Store = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{records: make(map[key]step.Record)}
}

func (s *Store) Create(ctx context.Context, runID string, req step.CreateRequest) (step.Record, error) {
	if err := ctx.Err(); err != nil {
		return step.Record{}, errs.Internalf(err, "context cancelled")
	}
	if runID == "" || req.StepID == "" {
		return step.Record{}, errs.InvalidArgumentf("runID and stepId are required")
	}
	k := key{runID, req.StepID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[k]; ok {
		return cloneRecord(existing), nil
	}
	now := time.Now().UTC()
	rec := step.Record{
		RunID:     runID,
		StepID:    req.StepID,
		StepName:  req.StepName,
		Input:     cloneSlice(req.Input),
		Attempt:   1,
		Status:    step.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[k] = rec
	return cloneRecord(rec), nil
}

func (s *Store) Get(ctx context.Context, runID, stepID string) (step.Record, error) {
	if err := ctx.Err(); err != nil {
		return step.Record{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if runID != "" {
		rec, ok := s.records[key{runID, stepID}]
		if !ok {
			return step.Record{}, errs.NotFoundf("step %q/%q not found", runID, stepID)
		}
		return cloneRecord(rec), nil
	}
	for k, rec := range s.records {
		if k.stepID == stepID {
			return cloneRecord(rec), nil
		}
	}
	return step.Record{}, errs.NotFoundf("step %q not found", stepID)
}

func (s *Store) Update(ctx context.Context, runID, stepID string, patch step.Patch) (step.Record, error) {
	if err := ctx.Err(); err != nil {
		return step.Record{}, errs.Internalf(err, "context cancelled")
	}
	if patch.IsEmpty() {
		return step.Record{}, errs.InvalidArgumentf("patch has no fields set")
	}
	k := key{runID, stepID}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[k]
	if !ok {
		return step.Record{}, errs.NotFoundf("step %q/%q not found", runID, stepID)
	}
	now := time.Now().UTC()
	if patch.Status != nil {
		rec.Status = *patch.Status
		if rec.Status == step.StatusRunning && rec.StartedAt.IsZero() {
			rec.StartedAt = now
		}
		if rec.Status.Terminal() && rec.CompletedAt.IsZero() {
			rec.CompletedAt = now
		}
	}
	if patch.OutputSet {
		rec.Output = cloneSlice(patch.Output)
	}
	if patch.Error != nil {
		rec.Error = patch.Error
	}
	if patch.Attempt != nil {
		rec.Attempt = *patch.Attempt
	}
	if patch.RetryAfterSet {
		if patch.RetryAfter != nil {
			rec.RetryAfter = *patch.RetryAfter
		} else {
			rec.RetryAfter = time.Time{}
		}
	}
	rec.UpdatedAt = now
	s.records[k] = rec
	return cloneRecord(rec), nil
}

func (s *Store) List(ctx context.Context, params step.ListParams) (pagination.Page[step.Record], error) {
	if err := ctx.Err(); err != nil {
		return pagination.Page[step.Record]{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]step.Record, 0, len(s.records))
	for k, rec := range s.records {
		if k.runID != params.RunID {
			continue
		}
		matched = append(matched, rec)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StepID > matched[j].StepID })

	start := 0
	if params.Pagination.Cursor != "" {
		for i, rec := range matched {
			if rec.StepID < params.Pagination.Cursor {
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
	batch := make([]step.Record, fetchLimit)
	for i := range batch {
		batch[i] = cloneRecord(remaining[i])
	}
	return pagination.Slice(params.Pagination, batch, func(r step.Record) string { return r.StepID }), nil
}

func cloneRecord(rec step.Record) step.Record {
	out := rec
	out.Input = cloneSlice(rec.Input)
	out.Output = cloneSlice(rec.Output)
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
