package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore implements Store using in-memory storage
type MemoryStore struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	servers map[string]Server
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory server store, optionally seeded.
func NewMemoryStore(logger *zap.Logger, seed []Server) *MemoryStore {
	servers := make(map[string]Server, len(seed))
	for _, srv := range seed {
		servers[srv.URL] = srv
	}
	return &MemoryStore{
		logger:  logger.Named("registry.store.memory"),
		servers: servers,
	}
}

// List implements Store.List
func (s *MemoryStore) List(_ context.Context) ([]Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv)
	}
	return out, nil
}

// Get implements Store.Get
func (s *MemoryStore) Get(_ context.Context, url string) (Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	srv, ok := s.servers[url]
	if !ok {
		return Server{}, ErrServerNotFound
	}
	return srv, nil
}

// Register implements Store.Register
func (s *MemoryStore) Register(_ context.Context, srv Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.servers[srv.URL]; exists {
		return ErrServerExists
	}
	s.servers[srv.URL] = srv
	return nil
}

// Unregister implements Store.Unregister
func (s *MemoryStore) Unregister(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[url]; !ok {
		return ErrServerNotFound
	}
	delete(s.servers, url)
	return nil
}
