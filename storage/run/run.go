// Package run defines the workflow run entity and the Store contract
// every backend (memory, mongo, ...) implements identically.
//
// Available implementations:
//   - memory: process-local, for tests and single-process deployments.
//   - mongo: MongoDB-backed, for durable multi-process deployments.
package run

import (
	"context"
	"time"

	"github.com/flowkit/world/pagination"
)

// Status is the run lifecycle state. Terminal states are Completed, Failed,
// and Cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a state from which no further transition is
// legal.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Failure is the structured error attached to a run or step in a failure
// state. A backend that historically stored a bare string MUST lift it to
// Failure{Message: s} on read.
type Failure struct {
	Message string `bson:"message" json:"message"`
	Stack   string `bson:"stack,omitempty" json:"stack,omitempty"`
	Code    string `bson:"code,omitempty" json:"code,omitempty"`
}

// Record is a single workflow run.
type Record struct {
	RunID            string
	WorkflowName     string
	DeploymentID     string
	Input            []any
	Output           []any
	ExecutionContext map[string]any
	Error            *Failure
	Status           Status
	CreatedAt        time.Time
	UpdatedAt        time.Time
	StartedAt        time.Time
	CompletedAt      time.Time
}

// CreateRequest is the caller-supplied half of Create; RunID, Status, and
// every timestamp are derived by the store.
type CreateRequest struct {
	WorkflowName     string
	DeploymentID     string
	Input            []any
	ExecutionContext map[string]any
}

// ResolveData controls whether Get elides the (potentially large) Input and
// Output fields.
type ResolveData string

const (
	// ResolveAll returns every field, including Input/Output.
	ResolveAll ResolveData = ""
	// ResolveNone elides Input and Output.
	ResolveNone ResolveData = "none"
)

// GetOptions configures Get.
type GetOptions struct {
	ResolveData ResolveData
}

// Patch carries the fields Update may change. Nil pointers/slices leave the
// corresponding field untouched; Update rejects a Patch with no fields set.
type Patch struct {
	Status           *Status
	Output           []any
	ExecutionContext map[string]any
	Error            *Failure
	// OutputSet/ExecutionContextSet distinguish "field present in patch, set
	// to empty" from "field absent from patch", since Output and
	// ExecutionContext use nil-able Go types that can't otherwise express
	// that distinction.
	OutputSet           bool
	ExecutionContextSet bool
}

// IsEmpty reports whether the patch would not change any field.
func (p Patch) IsEmpty() bool {
	return p.Status == nil && !p.OutputSet && !p.ExecutionContextSet && p.Error == nil
}

// ListParams filters and paginates List.
type ListParams struct {
	WorkflowName string
	Status       Status
	Pagination   pagination.Params
}

// Store is the contract every run backend implements.
type Store interface {
	Create(ctx context.Context, req CreateRequest) (Record, error)
	Get(ctx context.Context, runID string, opts GetOptions) (Record, error)
	Update(ctx context.Context, runID string, patch Patch) (Record, error)
	Cancel(ctx context.Context, runID string) (Record, error)
	Pause(ctx context.Context, runID string) (Record, error)
	Resume(ctx context.Context, runID string) (Record, error)
	List(ctx context.Context, params ListParams) (pagination.Page[Record], error)
}
