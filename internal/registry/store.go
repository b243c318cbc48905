// Package registry supplies the list of backend tool servers the discovery
// service polls. Persistence of server records is an external concern; the
// gateway only needs a narrow read/registration interface over it.
package registry

import (
	"context"
	"errors"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
)

// ErrServerNotFound is returned when a backend URL is not registered
var ErrServerNotFound = errors.New("server not found")

// ErrServerExists is returned when registering a duplicate backend URL
var ErrServerExists = errors.New("server already registered")

// Server is one registered backend tool server.
type Server struct {
	URL       string                `yaml:"url" json:"url"`
	Transport cnst.BackendTransport `yaml:"transport" json:"transport"`
}

// Store manages registered backend servers.
type Store interface {
	// List returns all currently registered servers.
	List(ctx context.Context) ([]Server, error)

	// Get returns the server registered under the given URL.
	Get(ctx context.Context, url string) (Server, error)

	// Register adds a server.
	Register(ctx context.Context, srv Server) error

	// Unregister removes a server by URL.
	Unregister(ctx context.Context, url string) error
}
