package stream

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Info holds the metadata of one open SSE connection.
type Info struct {
	ID           string
	SessionID    string
	Type         string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Manager tracks active SSE connections. A message enqueued for a stream is
// delivered to that stream only, never fanned out to other streams of the
// same session. Ownership records outlive the connection: a disconnected
// stream still belongs to the session that opened it, until that session is
// terminated.
type Manager struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	streams map[string]*Info
	owners  map[string]string
}

// NewManager creates a new stream manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger.Named("stream.manager"),
		streams: make(map[string]*Info),
		owners:  make(map[string]string),
	}
}

// Register adds a stream owned by the given session. A stream id owned by a
// different session is rejected, whether or not that stream is connected.
func (m *Manager) Register(streamID, sessionID, streamType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[streamID]; exists {
		return fmt.Errorf("stream already exists: %s", streamID)
	}
	if owner, ok := m.owners[streamID]; ok && owner != sessionID {
		return fmt.Errorf("stream %s belongs to another session", streamID)
	}
	m.owners[streamID] = sessionID

	now := time.Now()
	m.streams[streamID] = &Info{
		ID:           streamID,
		SessionID:    sessionID,
		Type:         streamType,
		CreatedAt:    now,
		LastActivity: now,
	}
	m.logger.Debug("stream registered",
		zap.String("stream_id", streamID),
		zap.String("session_id", sessionID))
	return nil
}

// Unregister removes a stream. Unregistering an unknown stream is a no-op.
func (m *Manager) Unregister(streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[streamID]; !ok {
		return
	}
	delete(m.streams, streamID)
	m.logger.Debug("stream unregistered", zap.String("stream_id", streamID))
}

// Get returns the stream info, if registered.
func (m *Manager) Get(streamID string) (*Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info, ok := m.streams[streamID]
	if !ok {
		return nil, false
	}
	cp := *info
	return &cp, true
}

// IsRegistered reports whether the stream is currently registered.
func (m *Manager) IsRegistered(streamID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.streams[streamID]
	return ok
}

// Owner returns the session that owns the stream, connected or not.
func (m *Manager) Owner(streamID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[streamID]
	return owner, ok
}

// OwnedBy returns every stream id the session has opened and not yet had
// torn down, including disconnected ones.
func (m *Manager) OwnedBy(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, owner := range m.owners {
		if owner == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}

// DropOwnership forgets the session's stream ownership records. Called by
// session termination once the streams themselves are torn down.
func (m *Manager) DropOwnership(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, owner := range m.owners {
		if owner == sessionID {
			delete(m.owners, id)
		}
	}
}

// ForSession returns the ids of all connected streams owned by a session.
func (m *Manager) ForSession(sessionID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, info := range m.streams {
		if info.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Touch updates the stream's last-activity timestamp.
func (m *Manager) Touch(streamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.streams[streamID]; ok {
		info.LastActivity = time.Now()
	}
}

// Count returns the number of open streams.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams)
}

// All returns the ids of every registered stream.
func (m *Manager) All() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	return ids
}
