package session

import (
	"context"
	"time"

	"github.com/KumarDeepankar/mcp-gateway/internal/stream"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry owns session lifecycle. Termination cascades over the session's
// streams: each is unregistered from the stream manager, its event log is
// purged and its router queue released, so a terminated session leaves no
// state behind.
type Registry struct {
	logger  *zap.Logger
	store   Store
	streams *stream.Manager
	router  *stream.Router
	events  *stream.EventLog
}

// NewRegistry creates a session registry over the given store and stream
// components.
func NewRegistry(logger *zap.Logger, store Store, streams *stream.Manager, router *stream.Router, events *stream.EventLog) *Registry {
	return &Registry{
		logger:  logger.Named("session.registry"),
		store:   store,
		streams: streams,
		router:  router,
		events:  events,
	}
}

// Create registers a new session and returns its metadata. Session ids are
// uuid v4, satisfying the protocol's visible-ASCII requirement.
func (r *Registry) Create(ctx context.Context, clientInfo mcp.ImplementationSchema, protocolVersion string) (*Meta, error) {
	meta := &Meta{
		ID:              uuid.New().String(),
		CreatedAt:       time.Now(),
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo,
	}
	if err := r.store.Register(ctx, meta); err != nil {
		return nil, err
	}
	r.logger.Info("session created",
		zap.String("session_id", meta.ID),
		zap.String("client", clientInfo.Name),
		zap.String("protocol_version", protocolVersion))
	return meta, nil
}

// Get returns the session's metadata.
func (r *Registry) Get(ctx context.Context, id string) (*Meta, error) {
	return r.store.Get(ctx, id)
}

// Validate reports whether the session id refers to a live session.
func (r *Registry) Validate(ctx context.Context, id string) bool {
	_, err := r.store.Get(ctx, id)
	return err == nil
}

// MarkInitialized records that the client completed the initialized
// notification handshake.
func (r *Registry) MarkInitialized(ctx context.Context, id string) error {
	meta, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	meta.Initialized = true
	return r.store.Update(ctx, meta)
}

// Terminate destroys the session and cascades over everything it owns.
// Terminating an already-terminated session returns ErrSessionNotFound;
// concurrent calls are safe.
func (r *Registry) Terminate(ctx context.Context, id string) error {
	if err := r.store.Unregister(ctx, id); err != nil {
		return err
	}

	// OwnedBy covers disconnected streams as well, so their event logs do
	// not outlive the session.
	for _, streamID := range r.streams.OwnedBy(id) {
		r.streams.Unregister(streamID)
		r.router.Release(streamID)
		r.events.Purge(streamID)
	}
	r.streams.DropOwnership(id)

	r.logger.Info("session terminated", zap.String("session_id", id))
	return nil
}

// List returns all live sessions.
func (r *Registry) List(ctx context.Context) ([]*Meta, error) {
	return r.store.List(ctx)
}
