package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_RegisterAndGet(t *testing.T) {
	m := NewManager(zap.NewNop())

	require.NoError(t, m.Register("st1", "sess1", "sse"))

	info, ok := m.Get("st1")
	require.True(t, ok)
	assert.Equal(t, "st1", info.ID)
	assert.Equal(t, "sess1", info.SessionID)
	assert.Equal(t, "sse", info.Type)
	assert.True(t, m.IsRegistered("st1"))
	assert.Equal(t, 1, m.Count())
}

func TestManager_RegisterDuplicateFails(t *testing.T) {
	m := NewManager(zap.NewNop())

	require.NoError(t, m.Register("st1", "sess1", "sse"))
	assert.Error(t, m.Register("st1", "sess1", "sse"))
}

func TestManager_UnregisterUnknownIsNoop(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Unregister("never-registered")
	assert.Equal(t, 0, m.Count())
}

func TestManager_ForSession(t *testing.T) {
	m := NewManager(zap.NewNop())

	require.NoError(t, m.Register("st1", "sess1", "sse"))
	require.NoError(t, m.Register("st2", "sess1", "sse"))
	require.NoError(t, m.Register("st3", "sess2", "sse"))

	streams := m.ForSession("sess1")
	assert.ElementsMatch(t, []string{"st1", "st2"}, streams)
	assert.ElementsMatch(t, []string{"st3"}, m.ForSession("sess2"))
	assert.Empty(t, m.ForSession("sess3"))
}

func TestManager_OwnershipSurvivesDisconnect(t *testing.T) {
	m := NewManager(zap.NewNop())

	require.NoError(t, m.Register("st1", "sess1", "sse"))
	m.Unregister("st1")

	owner, ok := m.Owner("st1")
	require.True(t, ok)
	assert.Equal(t, "sess1", owner)
	assert.ElementsMatch(t, []string{"st1"}, m.OwnedBy("sess1"))
	assert.Empty(t, m.ForSession("sess1"))

	m.DropOwnership("sess1")
	_, ok = m.Owner("st1")
	assert.False(t, ok)
	assert.Empty(t, m.OwnedBy("sess1"))
}

func TestManager_RegisterRejectsForeignStream(t *testing.T) {
	m := NewManager(zap.NewNop())

	require.NoError(t, m.Register("st1", "sess1", "sse"))
	m.Unregister("st1")

	// The stream id still belongs to sess1; another session cannot claim it.
	assert.Error(t, m.Register("st1", "sess2", "sse"))
	require.NoError(t, m.Register("st1", "sess1", "sse"))
}

func TestManager_TouchUpdatesActivity(t *testing.T) {
	m := NewManager(zap.NewNop())
	require.NoError(t, m.Register("st1", "sess1", "sse"))

	before, _ := m.Get("st1")
	m.Touch("st1")
	after, _ := m.Get("st1")
	assert.False(t, after.LastActivity.Before(before.LastActivity))
}
