package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type blockingSink struct {
	mu      sync.Mutex
	release chan struct{}
	events  []Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func TestDispatcherDeliversAndCloses(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	d.Emit(context.Background(), Event{EventType: "otp_sent", Success: true})
	d.Emit(context.Background(), Event{EventType: "otp_verified", Success: true})
	d.Close()

	require.Len(t, sink.Events(), 2)
	assert.Equal(t, "otp_sent", (<-sink.Events()).EventType)
	assert.Equal(t, uint64(2), d.Delivered())

	d.Close()
	d.Emit(context.Background(), Event{EventType: "after_close"})
	assert.Len(t, sink.Events(), 1)
}

func TestDispatcherDropIfFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "burst"})
	}

	require.Eventually(t, func() bool { return d.Dropped() > 0 }, time.Second, 5*time.Millisecond)
	close(sink.release)
	d.Close()

	assert.Equal(t, uint64(10), d.Dropped()+d.Delivered())
}

func TestDispatcherBlockingRespectsContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// one event in the sink, one buffered, the third must give up with ctx
	for _, name := range []string{"a", "b", "c"} {
		d.Emit(ctx, Event{EventType: name})
	}
	assert.Error(t, ctx.Err())

	close(sink.release)
	d.Close()
	assert.LessOrEqual(t, d.Delivered(), uint64(2))
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	assert.Nil(t, d)
	d.Emit(context.Background(), Event{})
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{EventType: "signin", EmailHash: "abc", Success: true})

	line := strings.TrimSpace(buf.String())
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	assert.Equal(t, "signin", got["event_type"])
	assert.Equal(t, "abc", got["email_hash"])
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewZapSink(zap.New(core))

	s.Emit(context.Background(), Event{EventType: "otp_sent", Success: true, Metadata: map[string]string{"purpose": "send-otp"}})
	s.Emit(context.Background(), Event{EventType: "otp_failed", Error: "rate_limited"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "send-otp", entries[0].ContextMap()["meta.purpose"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}
