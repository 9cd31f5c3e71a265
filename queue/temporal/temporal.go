// Package temporal implements queue.Queue over go.temporal.io/sdk: each
// Enqueue starts a short-lived dispatch workflow whose single activity
// invokes the registered handler. Temporal's own retry policy drives
// redelivery (attempt count, backoff) and the workflow id doubles as the
// idempotency key, so a duplicate Enqueue with the same key is rejected by
// the server rather than re-implemented locally.
package temporal

import (
	"context"
	"errors"
	"sync"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/id"
	"github.com/flowkit/world/queue"
	"github.com/flowkit/world/telemetry"
)

const dispatchWorkflowName = "world_queue_dispatch"

// RetryPolicy configures the activity retry policy backing redelivery.
type RetryPolicy struct {
	// MaximumAttempts caps delivery attempts, including the first. The
	// contract requires at least 3. Defaults to 3.
	MaximumAttempts int32
	InitialInterval time.Duration
	MaximumInterval time.Duration
	BackoffCoefficient float64
	// ActivityTimeout bounds a single handler invocation.
	ActivityTimeout time.Duration
}

// DefaultRetryPolicy returns the contract-minimum retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaximumAttempts:    3,
		InitialInterval:    time.Second,
		MaximumInterval:    30 * time.Second,
		BackoffCoefficient: 2.0,
		ActivityTimeout:    time.Minute,
	}
}

// Options configures the Temporal-backed Queue.
type Options struct {
	// Client is a pre-configured Temporal client. Required.
	Client client.Client
	// TaskQueue is the Temporal task queue backing every prefix. Required.
	TaskQueue string
	// DeploymentID identifies this process/binding.
	DeploymentID string
	Retry        RetryPolicy
	Logger       telemetry.Logger
	WorkerOptions worker.Options
}

type dispatchRequest struct {
	Prefix    string
	QueueName string
	MessageID string
	Payload   []byte
}

// Queue implements queue.Queue over Temporal workflows and activities.
type Queue struct {
	client       client.Client
	taskQueue    string
	deploymentID string
	retry        RetryPolicy
	log          telemetry.Logger
	workerOpts   worker.Options

	mu       sync.Mutex
	handlers map[string]queue.Handler
	w        worker.Worker
}

var _ queue.Queue = (*Queue)(nil)

// New constructs a Temporal-backed Queue.
func New(opts Options) (*Queue, error) {
	if opts.Client == nil {
		return nil, errors.New("temporal client is required")
	}
	if opts.TaskQueue == "" {
		return nil, errors.New("task queue is required")
	}
	retry := opts.Retry
	if retry.MaximumAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Queue{
		client:       opts.Client,
		taskQueue:    opts.TaskQueue,
		deploymentID: opts.DeploymentID,
		retry:        retry,
		log:          log,
		workerOpts:   opts.WorkerOptions,
		handlers:     make(map[string]queue.Handler),
	}, nil
}

func (q *Queue) DeploymentID() string { return q.deploymentID }

// Ping reports whether the backing Temporal frontend is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	_, err := q.client.CheckHealth(ctx, &client.CheckHealthRequest{})
	return err
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

func activityNameForPrefix(prefix string) string { return "world_queue_activity_" + prefix }

// Start creates the worker, registers the shared dispatch workflow plus one
// activity per registered prefix, and begins polling.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	w := worker.New(q.client, q.taskQueue, q.workerOpts)
	w.RegisterWorkflowWithOptions(q.dispatchWorkflow, workflow.RegisterOptions{Name: dispatchWorkflowName})
	for prefix, handler := range q.handlers {
		w.RegisterActivityWithOptions(q.activityFor(handler), activity.RegisterOptions{Name: activityNameForPrefix(prefix)})
	}
	if err := w.Start(); err != nil {
		return errs.Internalf(err, "start temporal worker on queue %q", q.taskQueue)
	}
	q.w = w
	return nil
}

// Close stops the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	w := q.w
	q.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

func (q *Queue) activityFor(handler queue.Handler) func(ctx context.Context, req dispatchRequest) error {
	return func(ctx context.Context, req dispatchRequest) error {
		info := activity.GetInfo(ctx)
		return handler(ctx, req.Payload, queue.Delivery{
			Attempt:   int(info.Attempt),
			QueueName: req.QueueName,
			MessageID: req.MessageID,
		})
	}
}

func (q *Queue) dispatchWorkflow(ctx workflow.Context, req dispatchRequest) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: q.retry.ActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    q.retry.InitialInterval,
			BackoffCoefficient: q.retry.BackoffCoefficient,
			MaximumInterval:    q.retry.MaximumInterval,
			MaximumAttempts:    q.retry.MaximumAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	return workflow.ExecuteActivity(ctx, activityNameForPrefix(req.Prefix), req).Get(ctx, nil)
}

// Enqueue starts a dispatch workflow whose id is opts.IdempotencyKey when
// supplied (Temporal rejects a duplicate start for the same id, realizing
// the dedup contract) or a fresh message id otherwise.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.EnqueueOptions) (string, error) {
	if err := queue.ValidateQueueName(queueName); err != nil {
		return "", err
	}
	prefix := queue.PrefixOf(queueName)
	messageID := opts.IdempotencyKey
	if messageID == "" {
		messageID = id.NewID(id.Message)
	}
	req := dispatchRequest{Prefix: prefix, QueueName: queueName, MessageID: messageID, Payload: payload}
	_, err := q.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    messageID,
		TaskQueue:             q.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, dispatchWorkflowName, req)
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			return messageID, nil
		}
		return "", errs.Internalf(err, "start dispatch workflow for %q", queueName)
	}
	return messageID, nil
}
