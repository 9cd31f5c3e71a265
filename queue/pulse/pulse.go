// Package pulse implements queue.Queue over goa.design/pulse streams backed
// by Redis. Each registered prefix gets its own Pulse stream and consumer
// group; retries are driven by the queue itself (re-appending the message
// with an incremented attempt count) rather than relying on the consumer
// group's own pending-entry redelivery, so the attempt count stays exact and
// observable to handlers.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/id"
	"github.com/flowkit/world/queue"
	clientspulse "github.com/flowkit/world/queue/pulse/clients/pulse"
	"github.com/flowkit/world/telemetry"
)

const defaultSinkName = "world_queue_reader"

// envelope is the wire format appended to a prefix's Pulse stream.
type envelope struct {
	MessageID      string `json:"message_id"`
	QueueName      string `json:"queue_name"`
	Attempt        int    `json:"attempt"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Payload        []byte `json:"payload,omitempty"`
}

// RetryConfig configures redelivery backoff and the dedup window.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Jitter            float64
	DedupWindow       time.Duration
}

// DefaultRetryConfig returns the contract-minimum retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		DedupWindow:       5 * time.Minute,
	}
}

// Options configures the Pulse-backed Queue.
type Options struct {
	// Client is the Pulse client used to publish and consume messages. Required.
	Client clientspulse.Client
	// DeploymentID identifies this process/binding.
	DeploymentID string
	// SinkName identifies the Pulse consumer group shared by all prefixes.
	// Defaults to "world_queue_reader".
	SinkName string
	Retry    RetryConfig
	Logger   telemetry.Logger
}

type dedupEntry struct {
	messageID string
	expiresAt time.Time
}

// Queue implements queue.Queue over Pulse streams, one per registered prefix.
type Queue struct {
	client       clientspulse.Client
	sinkName     string
	deploymentID string
	retry        RetryConfig
	log          telemetry.Logger

	mu       sync.Mutex
	handlers map[string]queue.Handler
	dedup    map[string]dedupEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ queue.Queue = (*Queue)(nil)

// New constructs a Pulse-backed Queue.
func New(opts Options) (*Queue, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = defaultSinkName
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Queue{
		client:       opts.Client,
		sinkName:     sinkName,
		deploymentID: opts.DeploymentID,
		retry:        retry,
		log:          log,
		handlers:     make(map[string]queue.Handler),
		dedup:        make(map[string]dedupEntry),
	}, nil
}

func (q *Queue) DeploymentID() string { return q.deploymentID }

// Ping reports whether the backing Redis connection is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx)
}

func (q *Queue) RegisterHandler(prefix string, handler queue.Handler) error {
	if prefix == "" || handler == nil {
		return errs.InvalidArgumentf("prefix and handler are required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[prefix]; exists {
		return errs.Conflictf("a handler is already registered for prefix %q", prefix)
	}
	q.handlers[prefix] = handler
	return nil
}

// streamNameForPrefix derives the Pulse stream backing all messages for a
// prefix: one stream per logical queue type, not per individual message.
func streamNameForPrefix(prefix string) string {
	return "world_queue_" + prefix
}

// Start opens one consumer group per registered prefix and begins delivery.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	handlers := make(map[string]queue.Handler, len(q.handlers))
	for k, v := range q.handlers {
		handlers[k] = v
	}
	q.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for prefix, handler := range handlers {
		str, err := q.client.Stream(streamNameForPrefix(prefix))
		if err != nil {
			cancel()
			return errs.Internalf(err, "open queue stream for prefix %q", prefix)
		}
		sink, err := str.NewSink(runCtx, q.sinkName)
		if err != nil {
			cancel()
			return errs.Internalf(err, "create sink for prefix %q", prefix)
		}
		q.wg.Add(1)
		go q.consume(runCtx, prefix, sink, handler)
	}
	return nil
}

func (q *Queue) consume(ctx context.Context, prefix string, sink clientspulse.Sink, handler queue.Handler) {
	defer q.wg.Done()
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal(evt.Payload, &env); err != nil {
				q.log.Error(ctx, "decode queue message failed", "prefix", prefix, "error", err)
				_ = sink.Ack(ctx, evt)
				continue
			}
			err := handler(ctx, env.Payload, queue.Delivery{
				Attempt:   env.Attempt,
				QueueName: env.QueueName,
				MessageID: env.MessageID,
			})
			if err == nil {
				_ = sink.Ack(ctx, evt)
				continue
			}
			q.log.Error(ctx, "queue handler failed", "prefix", prefix, "queue", env.QueueName, "message_id", env.MessageID, "attempt", env.Attempt, "error", err)
			if env.Attempt >= q.retry.MaxAttempts {
				_ = sink.Ack(ctx, evt)
				continue
			}
			if err := sink.Ack(ctx, evt); err != nil {
				q.log.Error(ctx, "ack before requeue failed", "prefix", prefix, "error", err)
			}
			q.scheduleRequeue(ctx, prefix, env)
		}
	}
}

func (q *Queue) scheduleRequeue(ctx context.Context, prefix string, env envelope) {
	next := env
	next.Attempt++
	delay := q.backoff(env.Attempt)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		raw, err := json.Marshal(next)
		if err != nil {
			q.log.Error(ctx, "marshal requeue envelope failed", "prefix", prefix, "error", err)
			return
		}
		str, err := q.client.Stream(streamNameForPrefix(prefix))
		if err != nil {
			q.log.Error(ctx, "open stream for requeue failed", "prefix", prefix, "error", err)
			return
		}
		if _, err := str.Add(ctx, "msg", raw); err != nil {
			q.log.Error(ctx, "requeue message failed", "prefix", prefix, "error", err)
		}
	}()
}

func (q *Queue) backoff(attempt int) time.Duration {
	b := float64(q.retry.InitialBackoff) * math.Pow(q.retry.BackoffMultiplier, float64(attempt-1))
	if b > float64(q.retry.MaxBackoff) {
		b = float64(q.retry.MaxBackoff)
	}
	if q.retry.Jitter > 0 {
		b += b * q.retry.Jitter * (rand.Float64()*2 - 1)
	}
	if b < 0 {
		b = 0
	}
	return time.Duration(b)
}

// Enqueue appends payload to the Pulse stream backing queueName's prefix.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.EnqueueOptions) (string, error) {
	if err := queue.ValidateQueueName(queueName); err != nil {
		return "", err
	}
	q.mu.Lock()
	if opts.IdempotencyKey != "" {
		if existing, ok := q.dedup[opts.IdempotencyKey]; ok && time.Now().Before(existing.expiresAt) {
			q.mu.Unlock()
			return existing.messageID, nil
		}
	}
	q.mu.Unlock()

	prefix := queue.PrefixOf(queueName)
	messageID := id.NewID(id.Message)
	env := envelope{MessageID: messageID, QueueName: queueName, Attempt: 1, IdempotencyKey: opts.IdempotencyKey, Payload: payload}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", errs.Internalf(err, "marshal queue envelope")
	}
	str, err := q.client.Stream(streamNameForPrefix(prefix))
	if err != nil {
		return "", errs.Internalf(err, "open queue stream %q", prefix)
	}
	if _, err := str.Add(ctx, "msg", raw); err != nil {
		return "", errs.Internalf(err, "enqueue to %q", queueName)
	}

	q.mu.Lock()
	if opts.IdempotencyKey != "" {
		q.dedup[opts.IdempotencyKey] = dedupEntry{messageID: messageID, expiresAt: time.Now().Add(q.retry.DedupWindow)}
	}
	q.mu.Unlock()
	return messageID, nil
}

// Close stops delivery and waits for in-flight work to finish.
func (q *Queue) Close() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}
