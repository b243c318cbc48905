package stream

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxPerStream = 1000
	defaultTrimTo       = 500
	defaultReplayWindow = 50
)

// Event is an immutable entry in a stream's append-only log, kept solely for
// replay after a Last-Event-ID reconnect.
type Event struct {
	ID        string
	Timestamp time.Time
	Message   []byte
}

// EventLog is the per-stream append-only event store. Event ids embed a
// single monotonically increasing counter, so ids are unique across streams.
// Each stream's log is capped; once it exceeds maxPerStream it is trimmed to
// the newest trimTo entries. Lossy but available: replay after a trimmed id
// falls back to a bounded recent window instead of failing the reconnect.
type EventLog struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	logs    map[string][]Event
	counter atomic.Uint64

	maxPerStream int
	trimTo       int
	replayWindow int
}

// NewEventLog creates an event log with the default caps.
func NewEventLog(logger *zap.Logger) *EventLog {
	return &EventLog{
		logger:       logger.Named("stream.events"),
		logs:         make(map[string][]Event),
		maxPerStream: defaultMaxPerStream,
		trimTo:       defaultTrimTo,
		replayWindow: defaultReplayWindow,
	}
}

// Append stores a message in the stream's log and returns the new event id.
func (l *EventLog) Append(streamID string, message []byte) string {
	n := l.counter.Add(1)
	id := fmt.Sprintf("%s-%d", streamID, n)

	l.mu.Lock()
	defer l.mu.Unlock()

	log := append(l.logs[streamID], Event{
		ID:        id,
		Timestamp: time.Now(),
		Message:   message,
	})
	if len(log) > l.maxPerStream {
		trimmed := make([]Event, l.trimTo)
		copy(trimmed, log[len(log)-l.trimTo:])
		log = trimmed
		l.logger.Debug("event log trimmed",
			zap.String("stream_id", streamID),
			zap.Int("kept", l.trimTo))
	}
	l.logs[streamID] = log

	return id
}

// ReplayAfter returns, in append order, every event strictly after
// lastEventID. If the id is unknown (trimmed away, or from another life of
// the stream), the most recent bounded window is returned instead so the
// reconnect still succeeds.
func (l *EventLog) ReplayAfter(streamID, lastEventID string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	log := l.logs[streamID]
	if len(log) == 0 {
		return nil
	}

	for i, ev := range log {
		if ev.ID == lastEventID {
			out := make([]Event, len(log)-i-1)
			copy(out, log[i+1:])
			return out
		}
	}

	// Unknown id: bounded recent window rather than an error.
	start := len(log) - l.replayWindow
	if start < 0 {
		start = 0
	}
	out := make([]Event, len(log)-start)
	copy(out, log[start:])
	return out
}

// Purge drops the stream's entire log.
func (l *EventLog) Purge(streamID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.logs, streamID)
}

// Size returns the number of stored events for a stream.
func (l *EventLog) Size(streamID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.logs[streamID])
}

// ParseEventID splits an event id into its stream id and counter. Returns
// false for ids this gateway did not mint.
func ParseEventID(id string) (streamID string, counter uint64, ok bool) {
	i := strings.LastIndex(id, "-")
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.ParseUint(id[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return id[:i], n, true
}
