package pulse_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/flowkit/world/queue"
	wpulse "github.com/flowkit/world/queue/pulse"
	clientspulse "github.com/flowkit/world/queue/pulse/clients/pulse"
)

type fakeClient struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
}

func newFakeClient() *fakeClient { return &fakeClient{streams: make(map[string]*fakeStream)} }

func (c *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{ch: make(chan *streaming.Event, 64)}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(ctx context.Context) error { return nil }
func (c *fakeClient) Ping(ctx context.Context) error  { return nil }

type fakeStream struct {
	mu  sync.Mutex
	seq int
	ch  chan *streaming.Event
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	s.seq++
	id := string(rune('a' + s.seq))
	s.mu.Unlock()
	s.ch <- &streaming.Event{ID: id, EventName: event, Payload: payload}
	return id, nil
}

func (s *fakeStream) NewSink(ctx context.Context, name string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
	return &fakeSink{ch: s.ch}, nil
}

type fakeSink struct{ ch chan *streaming.Event }

func (s *fakeSink) Subscribe() <-chan *streaming.Event                 { return s.ch }
func (s *fakeSink) Ack(ctx context.Context, evt *streaming.Event) error { return nil }
func (s *fakeSink) Close(ctx context.Context)                          {}

func TestPulseQueueDeliversAndDedups(t *testing.T) {
	cl := newFakeClient()
	q, err := wpulse.New(wpulse.Options{Client: cl, Retry: wpulse.RetryConfig{
		MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond,
		BackoffMultiplier: 2, DedupWindow: time.Minute,
	}})
	require.NoError(t, err)

	var calls int32
	done := make(chan queue.Delivery, 4)
	require.NoError(t, q.RegisterHandler(queue.StepPrefix, func(ctx context.Context, payload []byte, d queue.Delivery) error {
		atomic.AddInt32(&calls, 1)
		done <- d
		return nil
	}))
	require.NoError(t, q.Start(context.Background()))
	defer q.Close()

	id1, err := q.Enqueue(context.Background(), "__wkf_step_X", []byte("P"), queue.EnqueueOptions{IdempotencyKey: "k1"})
	require.NoError(t, err)

	d := <-done
	require.Equal(t, id1, d.MessageID)
	require.Equal(t, 1, d.Attempt)
	require.Equal(t, "__wkf_step_X", d.QueueName)

	id2, err := q.Enqueue(context.Background(), "__wkf_step_X", []byte("P"), queue.EnqueueOptions{IdempotencyKey: "k1"})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPulseQueueRetriesThenSucceeds(t *testing.T) {
	cl := newFakeClient()
	q, err := wpulse.New(wpulse.Options{Client: cl, Retry: wpulse.RetryConfig{
		MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond,
		BackoffMultiplier: 2, DedupWindow: time.Minute,
	}})
	require.NoError(t, err)

	var attempts int32
	done := make(chan struct{}, 1)
	require.NoError(t, q.RegisterHandler(queue.WorkflowPrefix, func(ctx context.Context, payload []byte, d queue.Delivery) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errBoom
		}
		done <- struct{}{}
		return nil
	}))
	require.NoError(t, q.Start(context.Background()))
	defer q.Close()

	_, err = q.Enqueue(context.Background(), "__wkf_workflow_Y", nil, queue.EnqueueOptions{})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never succeeded")
	}
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

type boomError string

func (e boomError) Error() string { return string(e) }

var errBoom = boomError("boom")
