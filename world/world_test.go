package world_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/world/queue"
	"github.com/flowkit/world/storage/run"
	"github.com/flowkit/world/stream"
	"github.com/flowkit/world/telemetry"
	"github.com/flowkit/world/world"
)

func TestNewDefaultsEveryComponentToMemory(t *testing.T) {
	w := world.New(world.Options{})
	require.NotNil(t, w.Runs)
	require.NotNil(t, w.Steps)
	require.NotNil(t, w.Events)
	require.NotNil(t, w.Hooks)
	require.NotNil(t, w.Streamer)
	require.NotNil(t, w.Queue)
}

// TestNewDefaultsLoggerToClue asserts New defaults Logger to the Clue-backed
// logger and keeps a caller-supplied logger as World.Logger.
func TestNewDefaultsLoggerToClue(t *testing.T) {
	w := world.New(world.Options{})
	require.IsType(t, telemetry.NewClueLogger(), w.Logger)

	var custom customLogger
	w = world.New(world.Options{Logger: &custom})
	require.NoError(t, w.Start(context.Background()))
	w.Logger.Info(context.Background(), "wired")
	require.Equal(t, 1, custom.calls)
}

type customLogger struct{ calls int }

func (l *customLogger) Debug(context.Context, string, ...any) {}
func (l *customLogger) Info(context.Context, string, ...any)  { l.calls++ }
func (l *customLogger) Warn(context.Context, string, ...any)  {}
func (l *customLogger) Error(context.Context, string, ...any) {}

// TestRunAndStreamWiring exercises the run-creation-then-stream-write path
// end to end through the World surface, the way an upstream runtime would:
// a run is created, its id resolved lazily as the stream's runId, and the
// stream is read back after close.
func TestRunAndStreamWiring(t *testing.T) {
	w := world.New(world.Options{})
	ctx := context.Background()

	rec, err := w.Runs.Create(ctx, run.CreateRequest{WorkflowName: "wf", Input: []any{"a"}})
	require.NoError(t, err)
	require.Equal(t, run.StatusPending, rec.Status)

	runID := stream.StaticRunID(rec.RunID)
	_, err = w.WriteToStream(ctx, "out", runID, []byte("Chunk 1\n"))
	require.NoError(t, err)
	_, err = w.WriteToStream(ctx, "out", runID, []byte("Chunk 2\n"))
	require.NoError(t, err)
	_, err = w.CloseStream(ctx, "out", runID)
	require.NoError(t, err)

	r, err := w.ReadFromStream(ctx, "out", 0)
	require.NoError(t, err)
	defer r.Close()

	var got []byte
	for {
		chunk, ok, err := r.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, chunk...)
	}
	require.Equal(t, "Chunk 1\nChunk 2\n", string(got))
}

// TestQueueWiring exercises registering a handler, starting delivery, and
// enqueuing through the aggregate surface rather than the queue package
// directly.
func TestQueueWiring(t *testing.T) {
	w := world.New(world.Options{})
	ctx := context.Background()

	done := make(chan queue.Delivery, 1)
	require.NoError(t, w.CreateQueueHandler(queue.StepPrefix, func(ctx context.Context, payload []byte, d queue.Delivery) error {
		done <- d
		return nil
	}))
	require.NoError(t, w.Start(ctx))

	id, err := w.Enqueue(ctx, "__wkf_step_X", []byte("P"), queue.EnqueueOptions{})
	require.NoError(t, err)

	d := <-done
	require.Equal(t, id, d.MessageID)
	require.Equal(t, "__wkf_step_X", d.QueueName)
}

func TestGetDeploymentIdProxiesToQueue(t *testing.T) {
	w := world.New(world.Options{})
	require.Equal(t, w.Queue.DeploymentID(), w.GetDeploymentId())
}
