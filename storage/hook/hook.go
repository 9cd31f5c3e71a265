// Package hook defines the external-callback handle entity and the Store
// contract every backend implements identically.
//
// Available implementations:
//   - memory: process-local, for tests and single-process deployments.
//   - mongo: MongoDB-backed, for durable multi-process deployments.
package hook

import (
	"context"
	"time"

	"github.com/flowkit/world/pagination"
)

// Record is a single hook registered against a run.
type Record struct {
	HookID      string
	Token       string
	RunID       string
	OwnerID     string
	ProjectID   string
	Environment string
	Metadata    any
	CreatedAt   time.Time
}

// CreateRequest is the caller-supplied half of Create.
type CreateRequest struct {
	HookID      string
	Token       string
	OwnerID     string
	ProjectID   string
	Environment string
	Metadata    any
}

// ListParams paginates List.
type ListParams struct {
	RunID      string
	Pagination pagination.Params
}

// Store is the contract every hook backend implements.
type Store interface {
	Create(ctx context.Context, runID string, req CreateRequest) (Record, error)
	GetByToken(ctx context.Context, token string) (Record, error)
	// Get looks up a hook by id. Backends that cannot support this
	// efficiently MAY return a NotImplemented error.
	Get(ctx context.Context, hookID string) (Record, error)
	List(ctx context.Context, params ListParams) (pagination.Page[Record], error)
	Dispose(ctx context.Context, hookID string) (Record, error)
}
