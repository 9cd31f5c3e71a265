package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/storage/run"
	"github.com/flowkit/world/storage/step"
	"github.com/flowkit/world/storage/step/memory"
)

func TestCreateIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	first, err := s.Create(ctx, "R", step.CreateRequest{StepID: "s1", StepName: "first"})
	require.NoError(t, err)
	require.Equal(t, 1, first.Attempt)
	require.Equal(t, step.StatusPending, first.Status)

	second, err := s.Create(ctx, "R", step.CreateRequest{StepID: "s1", StepName: "first"})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLifecycleS2(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.Create(ctx, "R", step.CreateRequest{StepID: "s1", StepName: "first"})
	require.NoError(t, err)

	running := step.StatusRunning
	rec, err := s.Update(ctx, "R", "s1", step.Patch{Status: &running})
	require.NoError(t, err)
	require.False(t, rec.StartedAt.IsZero())

	failed := step.StatusFailed
	rec, err = s.Update(ctx, "R", "s1", step.Patch{
		Status: &failed,
		Error:  &run.Failure{Message: "boom", Code: "E1"},
	})
	require.NoError(t, err)
	require.False(t, rec.CompletedAt.IsZero())
	require.Equal(t, "E1", rec.Error.Code)
}

func TestGetAcrossRunsSlowPath(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.Create(ctx, "R1", step.CreateRequest{StepID: "only-here"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "", "only-here")
	require.NoError(t, err)
	require.Equal(t, "R1", got.RunID)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := memory.New()
	_, err := s.Get(context.Background(), "R", "missing")
	require.True(t, errs.Is(err, errs.NotFound))
}
