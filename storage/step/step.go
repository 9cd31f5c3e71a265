// Package step defines the workflow step entity and the Store contract
// every backend implements identically.
//
// Available implementations:
//   - memory: process-local, for tests and single-process deployments.
//   - mongo: MongoDB-backed, for durable multi-process deployments.
package step

import (
	"context"
	"time"

	"github.com/flowkit/world/pagination"
	"github.com/flowkit/world/storage/run"
)

// Status is the step lifecycle state. Terminal states are Completed and
// Failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a state from which no further transition is
// legal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is a single step within a run.
type Record struct {
	RunID       string
	StepID      string
	StepName    string
	Input       []any
	Output      []any
	Error       *run.Failure
	Attempt     int
	RetryAfter  time.Time
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// CreateRequest is the caller-supplied half of Create.
type CreateRequest struct {
	StepID   string
	StepName string
	Input    []any
}

// Patch carries the fields Update may change.
type Patch struct {
	Status        *Status
	Output        []any
	OutputSet     bool
	Error         *run.Failure
	Attempt       *int
	RetryAfter    *time.Time
	RetryAfterSet bool
}

// IsEmpty reports whether the patch would not change any field.
func (p Patch) IsEmpty() bool {
	return p.Status == nil && !p.OutputSet && p.Error == nil && p.Attempt == nil && !p.RetryAfterSet
}

// ListParams filters and paginates List.
type ListParams struct {
	RunID      string
	Pagination pagination.Params
}

// Store is the contract every step backend implements.
type Store interface {
	Create(ctx context.Context, runID string, req CreateRequest) (Record, error)
	// Get looks up a step. If runID is empty, backends search across all
	// runs; callers should treat this as a slow path.
	Get(ctx context.Context, runID, stepID string) (Record, error)
	Update(ctx context.Context, runID, stepID string, patch Patch) (Record, error)
	List(ctx context.Context, params ListParams) (pagination.Page[Record], error)
}
