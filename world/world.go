// Package world aggregates the storage, streaming, and queuing contracts
// into the single surface an upstream workflow runtime consumes. It wires
// caller-supplied backends together, defaulting anything unset to the
// process-local in-memory implementation so a World is always usable
// without external infrastructure.
package world

import (
	"context"

	runmem "github.com/flowkit/world/storage/run/memory"
	stepmem "github.com/flowkit/world/storage/step/memory"

	eventmem "github.com/flowkit/world/storage/event/memory"
	hookmem "github.com/flowkit/world/storage/hook/memory"

	"github.com/flowkit/world/queue"
	queuemem "github.com/flowkit/world/queue/memory"

	"github.com/flowkit/world/stream"
	streammem "github.com/flowkit/world/stream/memory"

	"github.com/flowkit/world/storage/event"
	"github.com/flowkit/world/storage/hook"
	"github.com/flowkit/world/storage/run"
	"github.com/flowkit/world/storage/step"
	"github.com/flowkit/world/telemetry"
)

// Options supplies the concrete backend for each component. Any field left
// nil is defaulted to the in-memory implementation.
type Options struct {
	Runs   run.Store
	Steps  step.Store
	Events event.Store
	Hooks  hook.Store

	Streamer stream.Streamer

	Queue queue.Queue

	// Logger is handed to every default in-memory component that accepts
	// one. It defaults to a Clue-backed logger, not a no-op, so a World
	// built with zero options still logs through the same pipeline a fully
	// configured deployment uses.
	Logger telemetry.Logger
}

// World is the aggregate surface consumed by the upstream workflow runtime.
// All fields are the component interfaces, not concrete types, so callers
// may swap backends (or substitute fakes in tests) without touching this
// package.
type World struct {
	Runs   run.Store
	Steps  step.Store
	Events event.Store
	Hooks  hook.Store

	Streamer stream.Streamer

	Queue queue.Queue

	Logger telemetry.Logger
}

// New assembles a World from opts, filling unset components with in-memory
// defaults. The returned World is ready to use; callers that supply a
// queue.Queue still need to call Start once every handler is registered.
func New(opts Options) *World {
	w := &World{
		Runs:     opts.Runs,
		Steps:    opts.Steps,
		Events:   opts.Events,
		Hooks:    opts.Hooks,
		Streamer: opts.Streamer,
		Queue:    opts.Queue,
		Logger:   opts.Logger,
	}
	if w.Logger == nil {
		w.Logger = telemetry.NewClueLogger()
	}
	if w.Runs == nil {
		w.Runs = runmem.New()
	}
	if w.Steps == nil {
		w.Steps = stepmem.New()
	}
	if w.Events == nil {
		w.Events = eventmem.New()
	}
	if w.Hooks == nil {
		w.Hooks = hookmem.New()
	}
	if w.Streamer == nil {
		w.Streamer = streammem.New()
	}
	if w.Queue == nil {
		w.Queue = queuemem.New(queuemem.Options{Logger: w.Logger})
	}
	return w
}

// WriteToStream proxies to the configured Streamer.
func (w *World) WriteToStream(ctx context.Context, name string, runID stream.RunIDResolver, payload []byte) (stream.Chunk, error) {
	return w.Streamer.WriteToStream(ctx, name, runID, payload)
}

// CloseStream proxies to the configured Streamer.
func (w *World) CloseStream(ctx context.Context, name string, runID stream.RunIDResolver) (stream.Chunk, error) {
	return w.Streamer.CloseStream(ctx, name, runID)
}

// ReadFromStream proxies to the configured Streamer.
func (w *World) ReadFromStream(ctx context.Context, name string, startIndex int) (stream.Reader, error) {
	return w.Streamer.ReadFromStream(ctx, name, startIndex)
}

// Enqueue proxies to the configured Queue.
func (w *World) Enqueue(ctx context.Context, queueName string, payload []byte, opts queue.EnqueueOptions) (string, error) {
	return w.Queue.Enqueue(ctx, queueName, payload, opts)
}

// CreateQueueHandler registers handler for every queue name beginning with
// prefix. Exactly one handler may be registered per prefix.
func (w *World) CreateQueueHandler(prefix string, handler queue.Handler) error {
	return w.Queue.RegisterHandler(prefix, handler)
}

// Start begins queue delivery. Call once all handlers are registered.
func (w *World) Start(ctx context.Context) error {
	return w.Queue.Start(ctx)
}

// GetDeploymentId identifies the process/binding backing the configured
// Queue, for logging and routing.
func (w *World) GetDeploymentId() string {
	return w.Queue.DeploymentID()
}
