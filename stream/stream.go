// Package stream defines the chunked byte transport contract: a writer
// appends ordered chunks plus a terminal EOF marker, a reader yields a lazy
// restartable sequence of the payloads in order.
//
// Available implementations:
//   - memory: process-local, for tests and single-process deployments.
//   - pulse: goa.design/pulse-backed, for durable multi-process delivery.
package stream

import (
	"context"
	"time"
)

// Chunk is a single append unit of a stream. The last chunk observable to a
// reader carries EOF true and an empty Payload.
type Chunk struct {
	ChunkID   string
	StreamID  string
	RunID     string
	Payload   []byte
	EOF       bool
	CreatedAt time.Time
}

// RunIDResolver supplies a runId that may not yet be known at the time
// WriteToStream is called. Implementations backed by a plain string value
// satisfy this with a resolver that returns immediately.
type RunIDResolver interface {
	// Resolve blocks until the run id is known or ctx is canceled.
	Resolve(ctx context.Context) (string, error)
}

// StaticRunID is a RunIDResolver over an already-known run id.
type StaticRunID string

// Resolve implements RunIDResolver.
func (s StaticRunID) Resolve(ctx context.Context) (string, error) {
	return string(s), nil
}

// Streamer is the contract every stream backend implements identically.
//
// WriteToStream awaits resolution of runId before appending, guaranteeing the
// stream's first chunk cannot precede the run's creation. CloseStream appends
// a terminal empty-payload chunk with EOF set; at most one such chunk exists
// per stream, and no chunk is observable after it.
type Streamer interface {
	// WriteToStream appends chunk to the named stream once runID resolves.
	// Payload MUST be UTF-8 bytes when the caller's chunk originated as a
	// string; callers performing byte-buffer writes pass the buffer as-is.
	WriteToStream(ctx context.Context, name string, runID RunIDResolver, payload []byte) (Chunk, error)

	// CloseStream appends the terminal EOF chunk. Idempotent: closing an
	// already-closed stream is a no-op and returns the existing EOF chunk.
	CloseStream(ctx context.Context, name string, runID RunIDResolver) (Chunk, error)

	// ReadFromStream returns a reader that yields chunks in chunkId order
	// starting at startIndex (0 for the full history). The reader observes
	// historical chunks and then live appends, closing after EOF.
	ReadFromStream(ctx context.Context, name string, startIndex int) (Reader, error)
}

// Reader is a cancellable, lazy, finite-or-unbounded-until-EOF sequence of
// chunk payloads. Next blocks until a chunk is available, EOF is reached, or
// ctx is canceled. After Next returns ok=false, subsequent calls also return
// ok=false; callers MUST call Close to release subscriptions and reference
// counts even after EOF.
type Reader interface {
	Next(ctx context.Context) (payload []byte, ok bool, err error)
	Close() error
}
