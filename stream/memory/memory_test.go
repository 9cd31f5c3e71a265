package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/world/stream"
	"github.com/flowkit/world/stream/memory"
)

func drain(t *testing.T, r stream.Reader) []byte {
	t.Helper()
	ctx := context.Background()
	var out []byte
	for {
		payload, ok, err := r.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, payload...)
	}
	return out
}

func TestStreamEndToEndS5(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	runID := stream.StaticRunID("R")

	_, err := s.WriteToStream(ctx, "s", runID, []byte("Chunk 1\n"))
	require.NoError(t, err)
	_, err = s.WriteToStream(ctx, "s", runID, []byte("Chunk 2\n"))
	require.NoError(t, err)
	_, err = s.WriteToStream(ctx, "s", runID, []byte("Chunk 3\n"))
	require.NoError(t, err)
	_, err = s.CloseStream(ctx, "s", runID)
	require.NoError(t, err)

	r1, err := s.ReadFromStream(ctx, "s", 0)
	require.NoError(t, err)
	require.Equal(t, "Chunk 1\nChunk 2\nChunk 3\n", string(drain(t, r1)))
	require.NoError(t, r1.Close())

	r2, err := s.ReadFromStream(ctx, "s", 0)
	require.NoError(t, err)
	require.Equal(t, "Chunk 1\nChunk 2\nChunk 3\n", string(drain(t, r2)))
	require.NoError(t, r2.Close())
}

func TestReadFromStreamHonorsStartIndex(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	runID := stream.StaticRunID("R")

	_, err := s.WriteToStream(ctx, "s", runID, []byte("a"))
	require.NoError(t, err)
	_, err = s.WriteToStream(ctx, "s", runID, []byte("b"))
	require.NoError(t, err)
	_, err = s.CloseStream(ctx, "s", runID)
	require.NoError(t, err)

	r, err := s.ReadFromStream(ctx, "s", 1)
	require.NoError(t, err)
	require.Equal(t, "b", string(drain(t, r)))
}

func TestWriteAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	runID := stream.StaticRunID("R")
	_, err := s.CloseStream(ctx, "s", runID)
	require.NoError(t, err)
	_, err = s.WriteToStream(ctx, "s", runID, []byte("x"))
	require.Error(t, err)
}

func TestConcurrentReaderSeesLiveAppends(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := memory.New()
	runID := stream.StaticRunID("R")

	r, err := s.ReadFromStream(ctx, "s", 0)
	require.NoError(t, err)

	results := make(chan []byte, 1)
	go func() {
		results <- drain(t, r)
	}()

	_, err = s.WriteToStream(ctx, "s", runID, []byte("live"))
	require.NoError(t, err)
	_, err = s.CloseStream(ctx, "s", runID)
	require.NoError(t, err)

	require.Equal(t, "live", string(<-results))
}
