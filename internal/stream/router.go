package stream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultQueueSize = 100

// Router queues and routes messages to a specific stream. Every message is
// recorded in the event log first, so a client that misses the live delivery
// can still recover it via Last-Event-ID replay.
type Router struct {
	logger  *zap.Logger
	events  *EventLog
	streams *Manager

	mu     sync.RWMutex
	queues map[string]chan Event
}

// NewRouter creates a message router backed by the given manager and log.
func NewRouter(logger *zap.Logger, streams *Manager, events *EventLog) *Router {
	return &Router{
		logger:  logger.Named("stream.router"),
		events:  events,
		streams: streams,
		queues:  make(map[string]chan Event),
	}
}

// Bind allocates the stream's delivery queue. Called when the SSE connection
// opens, after the stream is registered.
func (r *Router) Bind(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.queues[streamID]; !ok {
		r.queues[streamID] = make(chan Event, defaultQueueSize)
	}
}

// Release frees the stream's queue. Pending messages are dropped; they remain
// in the event log for replay.
func (r *Router) Release(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, streamID)
}

// Send stores the message in the event log and enqueues it to the stream's
// queue if the stream is currently registered. Messages for unregistered
// streams are silently dropped; the client recovers via resumability, not
// via at-least-once delivery. Returns the event id.
func (r *Router) Send(streamID string, message []byte) string {
	eventID := r.events.Append(streamID, message)

	if !r.streams.IsRegistered(streamID) {
		r.logger.Debug("dropping message for unregistered stream",
			zap.String("stream_id", streamID))
		return eventID
	}

	r.mu.RLock()
	q, ok := r.queues[streamID]
	r.mu.RUnlock()
	if !ok {
		return eventID
	}

	select {
	case q <- Event{ID: eventID, Message: message}:
		r.streams.Touch(streamID)
	default:
		// Full queue: the emission loop is not draining; drop and rely on
		// replay rather than blocking the sender.
		r.logger.Warn("stream queue full, dropping message",
			zap.String("stream_id", streamID))
	}
	return eventID
}

// Next dequeues the next message for the stream, waiting up to timeout. The
// second return is false when the timeout elapsed or the stream has no queue;
// the SSE emission loop uses that window to emit keepalives.
func (r *Router) Next(ctx context.Context, streamID string, timeout time.Duration) (Event, bool) {
	r.mu.RLock()
	q, ok := r.queues[streamID]
	r.mu.RUnlock()
	if !ok {
		return Event{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-q:
		return ev, true
	case <-timer.C:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}
