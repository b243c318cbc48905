package registry

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DiskStore implements Store over a yaml file, so the registered server set
// survives a restart. Registration rewrites the whole file; the set is small.
type DiskStore struct {
	logger *zap.Logger
	path   string

	mu      sync.RWMutex
	servers map[string]Server
}

var _ Store = (*DiskStore)(nil)

type diskFile struct {
	Servers []Server `yaml:"servers"`
}

// NewDiskStore loads (or creates) the yaml file at path.
func NewDiskStore(logger *zap.Logger, path string) (*DiskStore, error) {
	s := &DiskStore{
		logger:  logger.Named("registry.store.disk"),
		path:    path,
		servers: make(map[string]Server),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read server registry: %w", err)
		}
		return s, nil
	}

	var f diskFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse server registry: %w", err)
	}
	for _, srv := range f.Servers {
		s.servers[srv.URL] = srv
	}
	return s, nil
}

func (s *DiskStore) flushLocked() error {
	f := diskFile{Servers: make([]Server, 0, len(s.servers))}
	for _, srv := range s.servers {
		f.Servers = append(f.Servers, srv)
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("failed to marshal server registry: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write server registry: %w", err)
	}
	return nil
}

// List implements Store.List
func (s *DiskStore) List(_ context.Context) ([]Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, srv)
	}
	return out, nil
}

// Get implements Store.Get
func (s *DiskStore) Get(_ context.Context, url string) (Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	srv, ok := s.servers[url]
	if !ok {
		return Server{}, ErrServerNotFound
	}
	return srv, nil
}

// Register implements Store.Register
func (s *DiskStore) Register(_ context.Context, srv Server) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.servers[srv.URL]; exists {
		return ErrServerExists
	}
	s.servers[srv.URL] = srv
	return s.flushLocked()
}

// Unregister implements Store.Unregister
func (s *DiskStore) Unregister(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[url]; !ok {
		return ErrServerNotFound
	}
	delete(s.servers, url)
	return s.flushLocked()
}
