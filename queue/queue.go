// Package queue defines the prefix-typed, at-least-once message delivery
// contract consumed by the upstream workflow runtime to drive step and
// workflow execution.
//
// Available implementations:
//   - memory: process-local, for tests and single-process deployments, also
//     used as the test-mode bypass for backends that support one.
//   - pulse: goa.design/pulse-backed, consumer-group delivery over Redis.
//   - temporal: go.temporal.io/sdk-backed, task-queue delivery.
package queue

import (
	"context"
	"strings"

	"github.com/flowkit/world/errs"
)

const (
	// WorkflowPrefix names queues carrying workflow-level messages.
	WorkflowPrefix = "__wkf_workflow_"
	// StepPrefix names queues carrying step-level messages.
	StepPrefix = "__wkf_step_"
)

// ValidQueueName reports whether name begins with a recognized prefix.
func ValidQueueName(name string) bool {
	return strings.HasPrefix(name, WorkflowPrefix) || strings.HasPrefix(name, StepPrefix)
}

// PrefixOf returns the recognized prefix name belongs to, or "" if none.
func PrefixOf(name string) string {
	switch {
	case strings.HasPrefix(name, WorkflowPrefix):
		return WorkflowPrefix
	case strings.HasPrefix(name, StepPrefix):
		return StepPrefix
	default:
		return ""
	}
}

// EnqueueOptions carries the optional idempotency key for Enqueue.
type EnqueueOptions struct {
	IdempotencyKey string
}

// Delivery carries the attempt and routing metadata passed to a handler
// alongside the message payload.
type Delivery struct {
	Attempt   int
	QueueName string
	MessageID string
}

// Handler processes a single message delivery. Returning nil acknowledges
// the message; returning an error triggers redelivery per the backend's
// retry policy. Handlers MUST be idempotent on MessageID (or IdempotencyKey
// when the caller supplied one).
type Handler func(ctx context.Context, payload []byte, delivery Delivery) error

// Queue is the contract every queue backend implements identically.
type Queue interface {
	// Enqueue submits payload to queueName, returning the assigned message
	// id. A duplicate Enqueue within the dedup window for the same
	// IdempotencyKey is a no-op that returns the original message id.
	Enqueue(ctx context.Context, queueName string, payload []byte, opts EnqueueOptions) (messageID string, err error)

	// RegisterHandler installs handler for every message whose queue name
	// begins with prefix. Exactly one handler may be registered per prefix.
	RegisterHandler(prefix string, handler Handler) error

	// Start begins delivery. It returns once the delivery subsystem is
	// ready to accept and dispatch messages.
	Start(ctx context.Context) error

	// DeploymentID identifies the process/binding for logging and routing.
	DeploymentID() string
}

// ValidateQueueName returns an InvalidArgument error if name does not carry
// a recognized prefix.
func ValidateQueueName(name string) error {
	if !ValidQueueName(name) {
		return errs.InvalidArgumentf("queue name %q does not carry a recognized prefix", name)
	}
	return nil
}
