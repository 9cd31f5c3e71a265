package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/world/storage/event"
	"github.com/flowkit/world/storage/event/memory"
)

func TestEventCorrelationS3(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.Create(ctx, "R", event.CreateRequest{EventType: "step_started", CorrelationID: "s1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "R", event.CreateRequest{EventType: "step_completed", CorrelationID: "s1", EventData: map[string]any{"r": "ok"}})
	require.NoError(t, err)
	_, err = s.Create(ctx, "R", event.CreateRequest{EventType: "workflow_completed"})
	require.NoError(t, err)

	byCorr, err := s.ListByCorrelationId(ctx, event.ListByCorrelationParams{CorrelationID: "s1"})
	require.NoError(t, err)
	require.Len(t, byCorr.Data, 2)
	require.Equal(t, "step_started", byCorr.Data[0].EventType)
	require.Equal(t, "step_completed", byCorr.Data[1].EventType)

	byRun, err := s.List(ctx, event.ListParams{RunID: "R"})
	require.NoError(t, err)
	require.Len(t, byRun.Data, 3)
	require.Equal(t, "step_started", byRun.Data[0].EventType)
	require.Equal(t, "workflow_completed", byRun.Data[2].EventType)

	byRunDesc, err := s.List(ctx, event.ListParams{RunID: "R", SortOrder: event.Descending})
	require.NoError(t, err)
	require.Equal(t, "workflow_completed", byRunDesc.Data[0].EventType)
	require.Equal(t, "step_started", byRunDesc.Data[2].EventType)
}

func TestEventOrderingEqualsInsertion(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for i := range 5 {
		_, err := s.Create(ctx, "R", event.CreateRequest{EventType: "t", EventData: i})
		require.NoError(t, err)
	}
	page, err := s.List(ctx, event.ListParams{RunID: "R"})
	require.NoError(t, err)
	for i, rec := range page.Data {
		require.Equal(t, i, rec.EventData)
	}
}
