// Package memory is a process-local, in-memory implementation of
// queue.Queue. It also serves as the backend behind the test-mode bypass:
// callers route Enqueue directly into this in-process delivery loop instead
// of standing up external infrastructure, with identical observable
// semantics.
package memory

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/id"
	"github.com/flowkit/world/queue"
	"github.com/flowkit/world/telemetry"
)

// RetryConfig configures redelivery backoff, grounded on the same
// exponential-backoff-with-jitter shape used elsewhere for retryable
// operations.
type RetryConfig struct {
	// MaxAttempts is the maximum number of delivery attempts, including the
	// first. The contract requires at least 3. Defaults to 3.
	MaxAttempts int
	// InitialBackoff is the delay before the first redelivery.
	InitialBackoff time.Duration
	// MaxBackoff caps the computed backoff.
	MaxBackoff time.Duration
	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64
	// Jitter adds +/- this fraction of randomness to each computed backoff.
	Jitter float64
	// DedupWindow bounds how long an idempotency key suppresses duplicate
	// enqueues after the first successful enqueue.
	DedupWindow time.Duration
}

// DefaultRetryConfig returns the contract-minimum retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        2 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		DedupWindow:       5 * time.Minute,
	}
}

// Options configures Queue.
type Options struct {
	DeploymentID string
	Retry        RetryConfig
	Logger       telemetry.Logger
}

type dedupEntry struct {
	messageID string
	expiresAt time.Time
}

// Queue is an in-memory, in-process queue.Queue.
type Queue struct {
	mu           sync.Mutex
	handlers     map[string]queue.Handler
	dedup        map[string]dedupEntry
	deploymentID string
	retry        RetryConfig
	log          telemetry.Logger
	started      bool
	wg           sync.WaitGroup
}

var _ queue.Queue = (*Queue)(nil)

// New returns a ready Queue.
func New(opts Options) *Queue {
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Queue{
		handlers:     make(map[string]queue.Handler),
		dedup:        make(map[string]dedupEntry),
		deploymentID: opts.DeploymentID,
		retry:        retry,
		log:          log,
	}
}

func (q *Queue) DeploymentID() string { return q.deploymentID }

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

func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()
	return nil
}

// Enqueue dispatches payload to the handler registered for queueName's
// prefix on a background goroutine, applying the redelivery policy on
// handler error. It returns as soon as the message id is assigned; delivery
// happens asynchronously, matching the at-least-once, no-ordering contract.
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
	prefix := queue.PrefixOf(queueName)
	handler, hasHandler := q.handlers[prefix]
	messageID := id.NewID(id.Message)
	if opts.IdempotencyKey != "" {
		q.dedup[opts.IdempotencyKey] = dedupEntry{messageID: messageID, expiresAt: time.Now().Add(q.retry.DedupWindow)}
	}
	q.mu.Unlock()

	if !hasHandler {
		return messageID, nil
	}
	q.wg.Add(1)
	go q.deliver(handler, payload, queue.Delivery{QueueName: queueName, MessageID: messageID})
	return messageID, nil
}

func (q *Queue) deliver(handler queue.Handler, payload []byte, delivery queue.Delivery) {
	defer q.wg.Done()
	ctx := context.Background()
	for attempt := 1; attempt <= q.retry.MaxAttempts; attempt++ {
		delivery.Attempt = attempt
		err := handler(ctx, payload, delivery)
		if err == nil {
			return
		}
		q.log.Error(ctx, "queue handler failed", "queue", delivery.QueueName, "message_id", delivery.MessageID, "attempt", attempt, "error", err)
		if attempt >= q.retry.MaxAttempts {
			return
		}
		time.Sleep(q.backoff(attempt))
	}
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

// Wait blocks until all in-flight deliveries started by Enqueue have
// finished all their retry attempts. Intended for tests.
func (q *Queue) Wait() { q.wg.Wait() }
