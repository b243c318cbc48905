package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore implements Store using in-memory storage
type MemoryStore struct {
	logger *zap.Logger
	mu     sync.RWMutex
	metas  map[string]*Meta
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory session store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger.Named("session.store.memory"),
		metas:  make(map[string]*Meta),
	}
}

// Register implements Store.Register
func (s *MemoryStore) Register(_ context.Context, meta *Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.metas[meta.ID]; exists {
		return ErrSessionExists
	}
	cp := *meta
	s.metas[meta.ID] = &cp
	return nil
}

// Get implements Store.Get
func (s *MemoryStore) Get(_ context.Context, id string) (*Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metas[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *meta
	return &cp, nil
}

// Update implements Store.Update
func (s *MemoryStore) Update(_ context.Context, meta *Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metas[meta.ID]; !ok {
		return ErrSessionNotFound
	}
	cp := *meta
	s.metas[meta.ID] = &cp
	return nil
}

// Unregister implements Store.Unregister
func (s *MemoryStore) Unregister(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metas[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.metas, id)
	return nil
}

// List implements Store.List
func (s *MemoryStore) List(_ context.Context) ([]*Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metas := make([]*Meta, 0, len(s.metas))
	for _, meta := range s.metas {
		cp := *meta
		metas = append(metas, &cp)
	}
	return metas, nil
}
