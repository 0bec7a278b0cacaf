package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connIDs(conns []*Connection) []string {
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID())
	}
	return ids
}

func TestRegistryIdentifyOverwrites(t *testing.T) {
	r := NewRegistry()
	conn := r.Register(newPeer("c1"))
	assert.Equal(t, StateConnected, conn.State)

	prev, ok := r.Identify("c1", "alice")
	require.True(t, ok)
	assert.Empty(t, prev)
	assert.Equal(t, []string{"c1"}, connIDs(r.ConnectionsOf("alice")))

	prev, ok = r.Identify("c1", "bob")
	require.True(t, ok)
	assert.Equal(t, "alice", prev)
	assert.Empty(t, r.ConnectionsOf("alice"))
	assert.Equal(t, []string{"c1"}, connIDs(r.ConnectionsOf("bob")))

	_, ok = r.Identify("missing", "bob")
	assert.False(t, ok)
}

func TestRegistryJoinLeave(t *testing.T) {
	r := NewRegistry()
	r.Register(newPeer("c1"))
	r.Register(newPeer("c2"))

	assert.True(t, r.Join("c1", Conversation("room")))
	assert.False(t, r.Join("c1", Conversation("room")), "joining twice is a no-op")
	assert.True(t, r.Join("c2", Conversation("room")))
	assert.Equal(t, []string{"c1", "c2"}, connIDs(r.Members(Conversation("room"))))

	assert.True(t, r.Leave("c1", Conversation("room")))
	assert.False(t, r.Leave("c1", Conversation("room")))
	assert.Equal(t, []string{"c2"}, connIDs(r.Members(Conversation("room"))))

	assert.False(t, r.Join("missing", Conversation("room")))
}

func TestRegistryDropRemovesEverything(t *testing.T) {
	r := NewRegistry()
	r.Register(newPeer("c1"))
	r.Identify("c1", "alice")
	r.Join("c1", Inbox("alice"))
	r.Join("c1", Conversation("room"))

	conn, ok := r.Drop("c1")
	require.True(t, ok)
	assert.Equal(t, "alice", conn.UserID)
	assert.Equal(t, StateClosed, conn.State)
	assert.Equal(t, []RoomID{Conversation("room"), Inbox("alice")}, conn.Rooms())

	assert.Empty(t, r.Members(Conversation("room")))
	assert.Empty(t, r.Members(Inbox("alice")))
	assert.Empty(t, r.ConnectionsOf("alice"))
	assert.Zero(t, r.Len())
	assert.Zero(t, r.RoomCount())

	_, ok = r.Drop("c1")
	assert.False(t, ok)
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	first := r.Register(newPeer("c1"))
	second := r.Register(newPeer("c1"))
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())
}
