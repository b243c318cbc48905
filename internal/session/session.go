package session

import (
	"context"
	"errors"
	"time"

	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
)

// ErrSessionNotFound is returned when a session is not found
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when registering a duplicate session id
var ErrSessionExists = errors.New("session already exists")

// Meta holds the metadata of a client session.
type Meta struct {
	ID              string                   `json:"id"`
	CreatedAt       time.Time                `json:"created_at"`
	ProtocolVersion string                   `json:"protocol_version"`
	ClientInfo      mcp.ImplementationSchema `json:"client_info"`
	Initialized     bool                     `json:"initialized"`
}

// Store persists session metadata. Streams and queues are always
// instance-local; only the meta record is store-backed, which lets a redis
// store share session validity across gateway instances.
type Store interface {
	// Register persists a new session record.
	Register(ctx context.Context, meta *Meta) error

	// Get retrieves a session record by ID.
	Get(ctx context.Context, id string) (*Meta, error)

	// Update overwrites an existing session record.
	Update(ctx context.Context, meta *Meta) error

	// Unregister removes a session record by ID.
	Unregister(ctx context.Context, id string) error

	// List returns all active session records.
	List(ctx context.Context) ([]*Meta, error)
}
