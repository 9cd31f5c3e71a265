// Package event defines the append-only workflow event entity and the Store
// contract every backend implements identically.
//
// Available implementations:
//   - memory: process-local, for tests and single-process deployments.
//   - mongo: MongoDB-backed, for durable multi-process deployments.
package event

import (
	"context"
	"time"

	"github.com/flowkit/world/pagination"
)

// SortOrder controls List/ListByCorrelationId ordering.
type SortOrder string

const (
	// Ascending is chronological order; the default for every list.
	Ascending SortOrder = "asc"
	Descending SortOrder = "desc"
)

// Record is a single immutable event appended to a run.
type Record struct {
	EventID       string
	RunID         string
	EventType     string
	CorrelationID string
	EventData     any
	CreatedAt     time.Time
}

// CreateRequest is the caller-supplied half of Create.
type CreateRequest struct {
	EventType     string
	CorrelationID string
	EventData     any
}

// ListParams paginates List.
type ListParams struct {
	RunID      string
	Pagination pagination.Params
	SortOrder  SortOrder
}

// ListByCorrelationParams paginates ListByCorrelationId.
type ListByCorrelationParams struct {
	CorrelationID string
	Pagination    pagination.Params
	SortOrder     SortOrder
}

// Store is the contract every event backend implements.
type Store interface {
	Create(ctx context.Context, runID string, req CreateRequest) (Record, error)
	List(ctx context.Context, params ListParams) (pagination.Page[Record], error)
	ListByCorrelationId(ctx context.Context, params ListByCorrelationParams) (pagination.Page[Record], error)
}
