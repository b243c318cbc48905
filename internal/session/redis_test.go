package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), zap.NewNop(), config.SessionRedisConfig{
		Addr:   mr.Addr(),
		Prefix: "test:session",
		TTL:    time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_RegisterAndGet(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	meta := &Meta{
		ID:              "sess-1",
		CreatedAt:       time.Now(),
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.ImplementationSchema{Name: "client"},
	}
	require.NoError(t, store.Register(ctx, meta))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, "client", got.ClientInfo.Name)
	assert.Equal(t, mcp.LatestProtocolVersion, got.ProtocolVersion)
}

func TestRedisStore_RegisterDuplicate(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	meta := &Meta{ID: "dup"}
	require.NoError(t, store.Register(ctx, meta))
	assert.ErrorIs(t, store.Register(ctx, meta), ErrSessionExists)
}

func TestRedisStore_GetMissing(t *testing.T) {
	store := newTestRedisStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore_Update(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	meta := &Meta{ID: "sess-1"}
	require.NoError(t, store.Register(ctx, meta))

	meta.Initialized = true
	require.NoError(t, store.Update(ctx, meta))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, got.Initialized)

	assert.ErrorIs(t, store.Update(ctx, &Meta{ID: "missing"}), ErrSessionNotFound)
}

func TestRedisStore_Unregister(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, &Meta{ID: "sess-1"}))
	require.NoError(t, store.Unregister(ctx, "sess-1"))
	assert.ErrorIs(t, store.Unregister(ctx, "sess-1"), ErrSessionNotFound)
}

func TestRedisStore_List(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, &Meta{ID: "a"}))
	require.NoError(t, store.Register(ctx, &Meta{ID: "b"}))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
