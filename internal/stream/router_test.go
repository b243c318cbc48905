package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) (*Router, *Manager, *EventLog) {
	t.Helper()
	lg := zap.NewNop()
	streams := NewManager(lg)
	events := NewEventLog(lg)
	return NewRouter(lg, streams, events), streams, events
}

func TestRouter_SendAndNext(t *testing.T) {
	r, streams, _ := newTestRouter(t)

	require.NoError(t, streams.Register("st1", "sess1", "sse"))
	r.Bind("st1")

	eventID := r.Send("st1", []byte("hello"))
	assert.NotEmpty(t, eventID)

	ev, ok := r.Next(context.Background(), "st1", time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), ev.Message)
	assert.Equal(t, eventID, ev.ID)
}

func TestRouter_StreamIsolation(t *testing.T) {
	r, streams, _ := newTestRouter(t)

	require.NoError(t, streams.Register("st1", "sess1", "sse"))
	require.NoError(t, streams.Register("st2", "sess1", "sse"))
	r.Bind("st1")
	r.Bind("st2")

	r.Send("st1", []byte("for-st1-only"))

	// Only the targeted stream's queue sees the message; a sibling stream of
	// the same session must not.
	ev, ok := r.Next(context.Background(), "st1", time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("for-st1-only"), ev.Message)

	_, ok = r.Next(context.Background(), "st2", 50*time.Millisecond)
	assert.False(t, ok)
}

func TestRouter_SendToUnregisteredStreamStillLogs(t *testing.T) {
	r, _, events := newTestRouter(t)

	// Not registered: delivery is dropped but the event is logged for replay.
	eventID := r.Send("ghost", []byte("payload"))
	assert.NotEmpty(t, eventID)
	assert.Equal(t, 1, events.Size("ghost"))

	_, ok := r.Next(context.Background(), "ghost", 50*time.Millisecond)
	assert.False(t, ok)
}

func TestRouter_NextTimeout(t *testing.T) {
	r, streams, _ := newTestRouter(t)
	require.NoError(t, streams.Register("st1", "sess1", "sse"))
	r.Bind("st1")

	start := time.Now()
	_, ok := r.Next(context.Background(), "st1", 50*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestRouter_NextCancelledContext(t *testing.T) {
	r, streams, _ := newTestRouter(t)
	require.NoError(t, streams.Register("st1", "sess1", "sse"))
	r.Bind("st1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := r.Next(ctx, "st1", time.Second)
	assert.False(t, ok)
}

func TestRouter_ReleaseDropsQueue(t *testing.T) {
	r, streams, _ := newTestRouter(t)
	require.NoError(t, streams.Register("st1", "sess1", "sse"))
	r.Bind("st1")
	r.Release("st1")

	_, ok := r.Next(context.Background(), "st1", 10*time.Millisecond)
	assert.False(t, ok)
}
