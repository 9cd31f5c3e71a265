package pulse_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/flowkit/world/stream"
	wpulse "github.com/flowkit/world/stream/pulse"
	clientspulse "github.com/flowkit/world/stream/pulse/clients/pulse"
)

type fakeClient struct{ streams map[string]*fakeStream }

func newFakeClient() *fakeClient { return &fakeClient{streams: make(map[string]*fakeStream)} }

func (c *fakeClient) Stream(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(ctx context.Context) error { return nil }
func (c *fakeClient) Ping(ctx context.Context) error  { return nil }

type fakeStream struct {
	entries []*streaming.Event
	seq     int
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	s.seq++
	id := string(rune('0' + s.seq))
	s.entries = append(s.entries, &streaming.Event{ID: id, EventName: event, Payload: payload})
	return id, nil
}

func (s *fakeStream) NewSink(ctx context.Context, name string, _ ...streamopts.Sink) (clientspulse.Sink, error) {
	ch := make(chan *streaming.Event, len(s.entries)+1)
	for _, e := range s.entries {
		ch <- e
	}
	close(ch)
	return &fakeSink{ch: ch}, nil
}

func (s *fakeStream) Destroy(ctx context.Context) error { return nil }

type fakeSink struct{ ch chan *streaming.Event }

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }
func (s *fakeSink) Ack(ctx context.Context, evt *streaming.Event) error { return nil }
func (s *fakeSink) Close(ctx context.Context)                          {}

func TestPulseStreamerWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	cl := newFakeClient()
	s, err := wpulse.New(wpulse.Options{Client: cl})
	require.NoError(t, err)

	runID := stream.StaticRunID("R")
	_, err = s.WriteToStream(ctx, "s", runID, []byte("a"))
	require.NoError(t, err)
	_, err = s.WriteToStream(ctx, "s", runID, []byte("b"))
	require.NoError(t, err)
	_, err = s.CloseStream(ctx, "s", runID)
	require.NoError(t, err)

	r, err := s.ReadFromStream(ctx, "s", 0)
	require.NoError(t, err)
	var out []byte
	for {
		payload, ok, err := r.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, payload...)
	}
	require.NoError(t, r.Close())
	require.Equal(t, "ab", string(out))
}

func TestPulseStreamerIndependentReadersAfterClose(t *testing.T) {
	ctx := context.Background()
	cl := newFakeClient()
	s, err := wpulse.New(wpulse.Options{Client: cl})
	require.NoError(t, err)

	runID := stream.StaticRunID("R")
	_, err = s.WriteToStream(ctx, "s", runID, []byte("a"))
	require.NoError(t, err)
	_, err = s.WriteToStream(ctx, "s", runID, []byte("b"))
	require.NoError(t, err)
	_, err = s.CloseStream(ctx, "s", runID)
	require.NoError(t, err)

	drain := func() string {
		r, err := s.ReadFromStream(ctx, "s", 0)
		require.NoError(t, err)
		var out []byte
		for {
			payload, ok, err := r.Next(ctx)
			require.NoError(t, err)
			if !ok {
				break
			}
			out = append(out, payload...)
		}
		require.NoError(t, r.Close())
		return string(out)
	}

	// Two readers opened after the stream has already closed each get their
	// own consumer group and both see the full history, rather than one
	// reader starving because it shares a group with the other.
	require.Equal(t, "ab", drain())
	require.Equal(t, "ab", drain())
}

func TestPulseEnvelopeRoundTrip(t *testing.T) {
	env := wpulse.Envelope{ChunkID: "chnk_x", RunID: "R", Payload: []byte("hi")}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded wpulse.Envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, env.ChunkID, decoded.ChunkID)
	require.Equal(t, "hi", string(decoded.Payload))
}
