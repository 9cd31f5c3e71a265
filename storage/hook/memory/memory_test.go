package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/storage/hook"
	"github.com/flowkit/world/storage/hook/memory"
)

func TestHookLookupS4(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	created, err := s.Create(ctx, "R", hook.CreateRequest{HookID: "h", Token: "t"})
	require.NoError(t, err)

	byToken, err := s.GetByToken(ctx, "t")
	require.NoError(t, err)
	require.Equal(t, created, byToken)

	page, err := s.List(ctx, hook.ListParams{RunID: "R"})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)

	_, err = s.Dispose(ctx, "h")
	require.NoError(t, err)

	_, err = s.GetByToken(ctx, "t")
	require.True(t, errs.Is(err, errs.NotFound))
	_, err = s.Get(ctx, "h")
	require.True(t, errs.Is(err, errs.NotFound))
}

func TestCreateIdempotentKeepsOriginalToken(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	first, err := s.Create(ctx, "R", hook.CreateRequest{HookID: "h", Token: "t1"})
	require.NoError(t, err)

	second, err := s.Create(ctx, "R", hook.CreateRequest{HookID: "h", Token: "t2"})
	require.NoError(t, err)
	require.Equal(t, first.Token, second.Token)
	require.Equal(t, "t1", second.Token)
}

func TestGetByTokenAndByIDReturnSameEntity(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_, err := s.Create(ctx, "R", hook.CreateRequest{HookID: "h", Token: "t"})
	require.NoError(t, err)

	byToken, err := s.GetByToken(ctx, "t")
	require.NoError(t, err)
	byID, err := s.Get(ctx, "h")
	require.NoError(t, err)
	require.Equal(t, byToken, byID)
}
