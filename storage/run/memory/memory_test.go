package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/run"
	"github.com/flowkit/world/storage/run/memory"
)

func TestCreateThenGet(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	created, err := s.Create(ctx, run.CreateRequest{WorkflowName: "w", Input: []any{"a", "b"}})
	require.NoError(t, err)
	require.Equal(t, run.StatusPending, created.Status)
	require.True(t, created.StartedAt.IsZero())
	require.True(t, created.CompletedAt.IsZero())

	got, err := s.Get(ctx, created.RunID, run.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, created.WorkflowName, got.WorkflowName)
	require.Equal(t, []any{"a", "b"}, got.Input)
}

func TestLifecycleS1(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	rec, err := s.Create(ctx, run.CreateRequest{WorkflowName: "w", Input: []any{"a", "b"}})
	require.NoError(t, err)

	running := run.StatusRunning
	rec, err = s.Update(ctx, rec.RunID, run.Patch{Status: &running})
	require.NoError(t, err)
	require.False(t, rec.StartedAt.IsZero())
	require.True(t, rec.CompletedAt.IsZero())

	completed := run.StatusCompleted
	rec, err = s.Update(ctx, rec.RunID, run.Patch{
		Status:    &completed,
		Output:    []any{map[string]any{"r": 42}},
		OutputSet: true,
	})
	require.NoError(t, err)
	require.False(t, rec.CompletedAt.IsZero())
	require.Equal(t, []any{map[string]any{"r": 42}}, rec.Output)

	none, err := s.Get(ctx, rec.RunID, run.GetOptions{ResolveData: run.ResolveNone})
	require.NoError(t, err)
	require.Nil(t, none.Input)
	require.Nil(t, none.Output)
	require.Equal(t, run.StatusCompleted, none.Status)
}

func TestCancelTerminalFails(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec, err := s.Create(ctx, run.CreateRequest{WorkflowName: "w"})
	require.NoError(t, err)

	cancelled := run.StatusCancelled
	_, err = s.Update(ctx, rec.RunID, run.Patch{Status: &cancelled})
	require.NoError(t, err)

	_, err = s.Cancel(ctx, rec.RunID)
	require.True(t, errs.Is(err, errs.InvalidState))
}

func TestPauseOnCompletedFails(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec, err := s.Create(ctx, run.CreateRequest{WorkflowName: "w"})
	require.NoError(t, err)
	completed := run.StatusCompleted
	_, err = s.Update(ctx, rec.RunID, run.Patch{Status: &completed})
	require.NoError(t, err)

	_, err = s.Pause(ctx, rec.RunID)
	require.True(t, errs.Is(err, errs.InvalidState))
}

func TestResumeOnNonPausedFails(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec, err := s.Create(ctx, run.CreateRequest{WorkflowName: "w"})
	require.NoError(t, err)

	_, err = s.Resume(ctx, rec.RunID)
	require.True(t, errs.Is(err, errs.InvalidState))
}

func TestResumeSetsStartedAt(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	rec, err := s.Create(ctx, run.CreateRequest{WorkflowName: "w"})
	require.NoError(t, err)

	_, err = s.Pause(ctx, rec.RunID)
	require.NoError(t, err)

	resumed, err := s.Resume(ctx, rec.RunID)
	require.NoError(t, err)
	require.False(t, resumed.StartedAt.IsZero())
	require.Equal(t, run.StatusRunning, resumed.Status)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := memory.New()
	_, err := s.Get(context.Background(), "missing", run.GetOptions{})
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for range 25 {
		_, err := s.Create(ctx, run.CreateRequest{WorkflowName: "w"})
		require.NoError(t, err)
	}

	page, err := s.List(ctx, run.ListParams{Pagination: pagination.Params{Limit: 10}})
	require.NoError(t, err)
	require.Len(t, page.Data, 10)
	require.True(t, page.HasMore)

	page2, err := s.List(ctx, run.ListParams{Pagination: pagination.Params{Limit: 10, Cursor: page.Cursor}})
	require.NoError(t, err)
	require.Len(t, page2.Data, 10)
	require.True(t, page2.HasMore)

	page3, err := s.List(ctx, run.ListParams{Pagination: pagination.Params{Limit: 10, Cursor: page2.Cursor}})
	require.NoError(t, err)
	require.Len(t, page3.Data, 5)
	require.False(t, page3.HasMore)
}
