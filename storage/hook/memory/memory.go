// Package memory is a process-local, in-memory implementation of
// hook.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/hook"
)

// Store is an in-memory hook.Store. byToken is a secondary index so
// GetByToken stays O(1), as the contract requires.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]hook.Record
	byToken map[string]string
}

var _ hook.Store = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		byID:    make(map[string]hook.Record),
		byToken: make(map[string]string),
	}
}

func (s *Store) Create(ctx context.Context, runID string, req hook.CreateRequest) (hook.Record, error) {
	if err := ctx.Err(); err != nil {
		return hook.Record{}, errs.Internalf(err, "context cancelled")
	}
	if req.HookID == "" || req.Token == "" {
		return hook.Record{}, errs.InvalidArgumentf("hookId and token are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[req.HookID]; ok {
		return existing, nil
	}
	rec := hook.Record{
		HookID: req.HookID, Token: req.Token, RunID: runID,
		OwnerID: req.OwnerID, ProjectID: req.ProjectID, Environment: req.Environment,
		Metadata: req.Metadata, CreatedAt: time.Now().UTC(),
	}
	s.byID[req.HookID] = rec
	s.byToken[req.Token] = req.HookID
	return rec, nil
}

func (s *Store) GetByToken(ctx context.Context, token string) (hook.Record, error) {
	if err := ctx.Err(); err != nil {
		return hook.Record{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hookID, ok := s.byToken[token]
	if !ok {
		return hook.Record{}, errs.NotFoundf("hook with token %q not found", token)
	}
	return s.byID[hookID], nil
}

func (s *Store) Get(ctx context.Context, hookID string) (hook.Record, error) {
	if err := ctx.Err(); err != nil {
		return hook.Record{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[hookID]
	if !ok {
		return hook.Record{}, errs.NotFoundf("hook %q not found", hookID)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, params hook.ListParams) (pagination.Page[hook.Record], error) {
	if err := ctx.Err(); err != nil {
		return pagination.Page[hook.Record]{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.RLock()
	matched := make([]hook.Record, 0, len(s.byID))
	for _, rec := range s.byID {
		if rec.RunID == params.RunID {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].HookID > matched[j].HookID })
	start := 0
	if params.Pagination.Cursor != "" {
		for i, rec := range matched {
			if rec.HookID < params.Pagination.Cursor {
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
	batch := remaining[:fetchLimit]
	return pagination.Slice(params.Pagination, batch, func(r hook.Record) string { return r.HookID }), nil
}

func (s *Store) Dispose(ctx context.Context, hookID string) (hook.Record, error) {
	if err := ctx.Err(); err != nil {
		return hook.Record{}, errs.Internalf(err, "context cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[hookID]
	if !ok {
		return hook.Record{}, errs.NotFoundf("hook %q not found", hookID)
	}
	delete(s.byID, hookID)
	delete(s.byToken, rec.Token)
	return rec, nil
}

// DisposeByRun eagerly deletes every hook owned by runID, the optional
// eager-disposal-on-run-termination behavior the contract permits.
func (s *Store) DisposeByRun(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return errs.Internalf(err, "context cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.byID {
		if rec.RunID == runID {
			delete(s.byID, id)
			delete(s.byToken, rec.Token)
		}
	}
	return nil
}
