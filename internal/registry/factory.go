package registry

import (
	"context"
	"fmt"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"

	"go.uber.org/zap"
)

// NewStore creates a server store based on the configuration. Servers listed
// in the config are seeded into the store.
func NewStore(logger *zap.Logger, cfg *config.RegistryConfig) (Store, error) {
	seed := make([]Server, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		transport := cnst.BackendTransport(sc.Transport)
		switch transport {
		case cnst.BackendTransportHTTP, cnst.BackendTransportSSE:
		case "":
			transport = cnst.BackendTransportHTTP
		default:
			return nil, fmt.Errorf("unknown backend transport: %s", sc.Transport)
		}
		seed = append(seed, Server{URL: sc.URL, Transport: transport})
	}

	switch cfg.Type {
	case cnst.RegistryStoreDisk:
		store, err := NewDiskStore(logger, cfg.Path)
		if err != nil {
			return nil, err
		}
		for _, srv := range seed {
			if err := store.Register(context.Background(), srv); err != nil && err != ErrServerExists {
				return nil, err
			}
		}
		return store, nil
	case cnst.RegistryStoreMemory, "":
		return NewMemoryStore(logger, seed), nil
	default:
		return nil, fmt.Errorf("unknown registry store type: %s", cfg.Type)
	}
}
