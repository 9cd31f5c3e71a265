// Package pulse implements stream.Streamer over goa.design/pulse streams
// backed by Redis. Chunk ordering is assigned locally (a monotonic chunk id)
// so the contract is identical across backends; Redis entry ids are used only
// to drive the consumer group.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/pulse/streaming"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/id"
	"github.com/flowkit/world/stream"
	"github.com/flowkit/world/stream/chunkorder"
	clientspulse "github.com/flowkit/world/stream/pulse/clients/pulse"
	"github.com/flowkit/world/telemetry"
)

const sinkNamePrefix = "world_stream_reader_"

// Envelope is the wire format appended to the Pulse stream for each chunk.
type Envelope struct {
	ChunkID   string    `json:"chunk_id"`
	RunID     string    `json:"run_id"`
	EOF       bool      `json:"eof,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Options configures the Pulse-backed Streamer.
type Options struct {
	// Client is the Pulse client used to publish and consume chunks. Required.
	Client clientspulse.Client
	// SinkNamePrefix names the Pulse consumer group family readers are
	// created under. Every ReadFromStream call gets its own group, suffixed
	// with a fresh identifier, so concurrent readers - including ones that
	// start after the stream has closed - each observe the full history
	// instead of load-balancing entries with one another. Defaults to
	// "world_stream_reader_".
	SinkNamePrefix string
	Logger         telemetry.Logger
}

// Streamer implements stream.Streamer over Pulse streams.
type Streamer struct {
	client     clientspulse.Client
	sinkPrefix string
	log        telemetry.Logger
	regs       *chunkorder.Registry
}

var _ stream.Streamer = (*Streamer)(nil)

// New constructs a Pulse-backed Streamer.
func New(opts Options) (*Streamer, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	prefix := opts.SinkNamePrefix
	if prefix == "" {
		prefix = sinkNamePrefix
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Streamer{client: opts.Client, sinkPrefix: prefix, log: log, regs: chunkorder.NewRegistry()}, nil
}

func (s *Streamer) append(ctx context.Context, name string, runID stream.RunIDResolver, payload []byte, eof bool) (stream.Chunk, error) {
	resolved, err := runID.Resolve(ctx)
	if err != nil {
		s.log.Error(ctx, "resolve run id failed", "stream", name, "err", err)
		return stream.Chunk{}, errs.Internalf(err, "resolve run id")
	}
	str, err := s.client.Stream(name)
	if err != nil {
		s.log.Error(ctx, "open pulse stream failed", "stream", name, "err", err)
		return stream.Chunk{}, errs.Internalf(err, "open pulse stream %q", name)
	}
	env := Envelope{
		ChunkID:   id.NewID(id.Chunk),
		RunID:     resolved,
		EOF:       eof,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		s.log.Error(ctx, "marshal chunk envelope failed", "stream", name, "err", err)
		return stream.Chunk{}, errs.Internalf(err, "marshal chunk envelope")
	}
	event := "chunk"
	if eof {
		event = "eof"
	}
	if _, err := str.Add(ctx, event, raw); err != nil {
		s.log.Error(ctx, "append chunk failed", "stream", name, "err", err)
		return stream.Chunk{}, errs.Internalf(err, "append chunk to stream %q", name)
	}
	return stream.Chunk{
		ChunkID:   env.ChunkID,
		StreamID:  name,
		RunID:     resolved,
		Payload:   payload,
		EOF:       eof,
		CreatedAt: env.CreatedAt,
	}, nil
}

// Ping reports whether the backing Redis connection is reachable.
func (s *Streamer) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// WriteToStream appends a data chunk.
func (s *Streamer) WriteToStream(ctx context.Context, name string, runID stream.RunIDResolver, payload []byte) (stream.Chunk, error) {
	return s.append(ctx, name, runID, payload, false)
}

// CloseStream appends the terminal EOF chunk. The Streamer keeps no record
// of closed streams: each call appends another EOF chunk with a fresh chunk
// id instead of returning the existing one. Readers stop at the first EOF.
func (s *Streamer) CloseStream(ctx context.Context, name string, runID stream.RunIDResolver) (stream.Chunk, error) {
	return s.append(ctx, name, runID, nil, true)
}

// ReadFromStream opens a fresh, uniquely named Pulse consumer group on name
// and returns a reader that decodes envelopes, applies the already-delivered
// guard, honors startIndex, and closes the sequence on the EOF chunk. Each
// call gets its own group so independent readers - including ones that
// start after the stream has already closed - all observe the complete,
// ordered history instead of load-balancing entries across a shared group.
func (s *Streamer) ReadFromStream(ctx context.Context, name string, startIndex int) (stream.Reader, error) {
	str, err := s.client.Stream(name)
	if err != nil {
		s.log.Error(ctx, "open pulse stream failed", "stream", name, "err", err)
		return nil, errs.Internalf(err, "open pulse stream %q", name)
	}
	sink, err := str.NewSink(ctx, s.sinkPrefix+id.NewID(id.Reader))
	if err != nil {
		s.log.Error(ctx, "create pulse sink failed", "stream", name, "err", err)
		return nil, errs.Internalf(err, "create pulse sink on %q", name)
	}
	return &reader{
		sink:   sink,
		ch:     sink.Subscribe(),
		handle: s.regs.Acquire(name),
		log:    s.log,
		stream: name,
		skip:   startIndex,
		seen:   "",
	}, nil
}

type reader struct {
	sink   clientspulse.Sink
	ch     <-chan *streaming.Event
	handle *chunkorder.Handle
	log    telemetry.Logger
	stream string
	skip   int
	seen   string
	closed bool
}

func (r *reader) Next(ctx context.Context) ([]byte, bool, error) {
	for {
		if r.closed {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case evt, ok := <-r.ch:
			if !ok {
				r.closed = true
				return nil, false, nil
			}
			r.handle.Lock()
			var env Envelope
			if err := json.Unmarshal(evt.Payload, &env); err != nil {
				r.handle.Unlock()
				r.log.Error(ctx, "decode chunk envelope failed", "stream", r.stream, "err", err)
				return nil, false, fmt.Errorf("decode chunk envelope: %w", err)
			}
			if !chunkorder.Deliverable(r.seen, env.ChunkID) {
				r.handle.Unlock()
				if ackErr := r.sink.Ack(ctx, evt); ackErr != nil {
					r.log.Error(ctx, "ack duplicate chunk failed", "stream", r.stream, "err", ackErr)
					return nil, false, fmt.Errorf("ack duplicate chunk: %w", ackErr)
				}
				continue
			}
			r.seen = env.ChunkID
			r.handle.Unlock()
			if ackErr := r.sink.Ack(ctx, evt); ackErr != nil {
				r.log.Error(ctx, "ack chunk failed", "stream", r.stream, "err", ackErr)
				return nil, false, fmt.Errorf("ack chunk: %w", ackErr)
			}
			if env.EOF {
				r.closed = true
				return nil, false, nil
			}
			if r.skip > 0 {
				r.skip--
				continue
			}
			return env.Payload, true, nil
		}
	}
}

func (r *reader) Close() error {
	r.handle.Release()
	r.sink.Close(context.Background())
	return nil
}
