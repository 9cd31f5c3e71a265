// Package memory is a process-local, in-memory implementation of
// stream.Streamer. Append and notification are a single atomic step under
// one mutex per stream, so no separate notify-then-read guard is needed; the
// cond variable wakes blocked readers directly with the new chunk already in
// the slice.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/flowkit/world/errs"
	"github.com/flowkit/world/id"
	"github.com/flowkit/world/stream"
)

type streamState struct {
	mu     sync.Mutex
	cond   *sync.Cond
	chunks []stream.Chunk
	closed bool
}

func newStreamState() *streamState {
	s := &streamState{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Store is an in-memory stream.Streamer. Closed streams retain their chunk
// history so readers started after close still observe it.
type Store struct {
	mu      sync.Mutex
	streams map[string]*streamState
}

var _ stream.Streamer = (*Store)(nil)

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{streams: make(map[string]*streamState)}
}

func (s *Store) stateFor(name string) *streamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[name]
	if !ok {
		st = newStreamState()
		s.streams[name] = st
	}
	return st
}

func (s *Store) WriteToStream(ctx context.Context, name string, runID stream.RunIDResolver, payload []byte) (stream.Chunk, error) {
	resolved, err := runID.Resolve(ctx)
	if err != nil {
		return stream.Chunk{}, errs.Internalf(err, "resolve run id")
	}
	st := s.stateFor(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return stream.Chunk{}, errs.InvalidStatef("stream %q is closed", name)
	}
	c := stream.Chunk{
		ChunkID:   id.NewID(id.Chunk),
		StreamID:  name,
		RunID:     resolved,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	st.chunks = append(st.chunks, c)
	st.cond.Broadcast()
	return c, nil
}

func (s *Store) CloseStream(ctx context.Context, name string, runID stream.RunIDResolver) (stream.Chunk, error) {
	resolved, err := runID.Resolve(ctx)
	if err != nil {
		return stream.Chunk{}, errs.Internalf(err, "resolve run id")
	}
	st := s.stateFor(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return st.chunks[len(st.chunks)-1], nil
	}
	c := stream.Chunk{
		ChunkID:   id.NewID(id.Chunk),
		StreamID:  name,
		RunID:     resolved,
		EOF:       true,
		CreatedAt: time.Now().UTC(),
	}
	st.chunks = append(st.chunks, c)
	st.closed = true
	st.cond.Broadcast()
	return c, nil
}

func (s *Store) ReadFromStream(ctx context.Context, name string, startIndex int) (stream.Reader, error) {
	st := s.stateFor(name)
	return &reader{st: st, pos: startIndex}, nil
}

type reader struct {
	st  *streamState
	pos int
}

func (r *reader) Next(ctx context.Context) ([]byte, bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	for r.pos >= len(r.st.chunks) && !r.st.closed {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		stop := context.AfterFunc(ctx, func() {
			r.st.mu.Lock()
			r.st.cond.Broadcast()
			r.st.mu.Unlock()
		})
		r.st.cond.Wait()
		stop()
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
	if r.pos >= len(r.st.chunks) {
		return nil, false, nil
	}
	c := r.st.chunks[r.pos]
	r.pos++
	if c.EOF {
		return nil, false, nil
	}
	return c.Payload, true, nil
}

func (r *reader) Close() error { return nil }
