package memory_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowkit/world/queue"
	"github.com/flowkit/world/queue/memory"
)

func TestQueueDeliveryS6(t *testing.T) {
	q := memory.New(memory.Options{DeploymentID: "d1"})

	var calls int32
	var lastDelivery queue.Delivery
	var lastPayload []byte
	done := make(chan struct{}, 1)
	require.NoError(t, q.RegisterHandler(queue.StepPrefix, func(ctx context.Context, payload []byte, d queue.Delivery) error {
		atomic.AddInt32(&calls, 1)
		lastDelivery = d
		lastPayload = payload
		done <- struct{}{}
		return nil
	}))
	require.NoError(t, q.Start(context.Background()))

	id1, err := q.Enqueue(context.Background(), "__wkf_step_X", []byte("P"), queue.EnqueueOptions{IdempotencyKey: "k1"})
	require.NoError(t, err)
	<-done

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Equal(t, "P", string(lastPayload))
	require.Equal(t, 1, lastDelivery.Attempt)
	require.Equal(t, "__wkf_step_X", lastDelivery.QueueName)
	require.Equal(t, id1, lastDelivery.MessageID)

	id2, err := q.Enqueue(context.Background(), "__wkf_step_X", []byte("P"), queue.EnqueueOptions{IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	q.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueueRejectsUnrecognizedPrefix(t *testing.T) {
	q := memory.New(memory.Options{})
	_, err := q.Enqueue(context.Background(), "not_a_queue", nil, queue.EnqueueOptions{})
	require.Error(t, err)
}

func TestQueueRetriesOnHandlerError(t *testing.T) {
	q := memory.New(memory.Options{Retry: memory.RetryConfig{
		MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond,
		BackoffMultiplier: 2, DedupWindow: time.Minute,
	}})
	var attempts int32
	require.NoError(t, q.RegisterHandler(queue.WorkflowPrefix, func(ctx context.Context, payload []byte, d queue.Delivery) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errBoom
		}
		return nil
	}))
	_, err := q.Enqueue(context.Background(), "__wkf_workflow_X", nil, queue.EnqueueOptions{})
	require.NoError(t, err)
	q.Wait()
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

var errBoom = errorString("boom")

type errorString string

func (e errorString) Error() string { return string(e) }
