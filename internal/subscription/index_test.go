package subscription

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/spatial"
)

func TestSubscribeWorldIsIdempotent(t *testing.T) {
	idx := New()
	peer := uuid.New()

	updated, err := idx.SubscribeWorld(peer, "lobby")
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = idx.SubscribeWorld(peer, "lobby")
	require.NoError(t, err)
	assert.False(t, updated, "re-subscribing an already-subscribed peer reports no update")

	assert.ElementsMatch(t, []uuid.UUID{peer}, idx.PeersForWorld("lobby"))
}

func TestSubscribeWorldRejectsGlobal(t *testing.T) {
	idx := New()
	_, err := idx.SubscribeWorld(uuid.New(), protocol.GlobalWorld)
	require.Error(t, err)

	var pe protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.ErrSubscribeGlobal, pe.Code)
}

func TestUnsubscribeWorldRejectsGlobal(t *testing.T) {
	idx := New()
	_, err := idx.UnsubscribeWorld(uuid.New(), protocol.GlobalWorld)
	require.Error(t, err)

	var pe protocol.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, protocol.ErrUnsubscribeGlobal, pe.Code)
}

// Scenario 5: unsubscribing from a world cascades to remove every area
// subscription the peer held within that world, but leaves subscriptions
// to other worlds intact.
func TestUnsubscribeWorldClearsAreas(t *testing.T) {
	idx := New()
	peer := uuid.New()
	other := uuid.New()

	_, err := idx.SubscribeWorld(peer, "lobby")
	require.NoError(t, err)
	_, err = idx.SubscribeWorld(peer, "arena")
	require.NoError(t, err)

	cellA := spatial.Area{X: 16, Y: 16, Z: 16}
	cellB := spatial.Area{X: 32, Y: 16, Z: 16}

	_, err = idx.SubscribeArea(peer, "lobby", cellA)
	require.NoError(t, err)
	_, err = idx.SubscribeArea(peer, "lobby", cellB)
	require.NoError(t, err)
	_, err = idx.SubscribeArea(peer, "arena", cellA)
	require.NoError(t, err)
	_, err = idx.SubscribeArea(other, "lobby", cellA)
	require.NoError(t, err)

	updated, err := idx.UnsubscribeWorld(peer, "lobby")
	require.NoError(t, err)
	assert.True(t, updated)

	assert.Empty(t, idx.PeersForWorld("lobby"))
	assert.ElementsMatch(t, []uuid.UUID{peer}, idx.PeersForWorld("arena"))

	// peer's lobby-area subs are gone...
	assert.NotContains(t, idx.PeersForArea("lobby", cellA), peer)
	assert.Empty(t, idx.PeersForArea("lobby", cellB))
	// ...but its arena-area sub and other's lobby-area sub survive.
	assert.ElementsMatch(t, []uuid.UUID{peer}, idx.PeersForArea("arena", cellA))
	assert.ElementsMatch(t, []uuid.UUID{other}, idx.PeersForArea("lobby", cellA))
}

func TestUnsubscribeAreaPrunesEmptyBucket(t *testing.T) {
	idx := New()
	peer := uuid.New()
	cell := spatial.Area{X: 16, Y: 16, Z: 16}

	_, err := idx.SubscribeWorld(peer, "lobby")
	require.NoError(t, err)
	_, err = idx.SubscribeArea(peer, "lobby", cell)
	require.NoError(t, err)

	updated, err := idx.UnsubscribeArea(peer, "lobby", cell)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Empty(t, idx.PeersForArea("lobby", cell))
	assert.Empty(t, idx.peerAreas[peer])

	updated, err = idx.UnsubscribeArea(peer, "lobby", cell)
	require.NoError(t, err)
	assert.False(t, updated, "unsubscribing a cell the peer already left reports no update")
}

// P1/P2/P3: removing a peer purges every world and area subscription it
// held, and leaves other peers' subscriptions untouched.
func TestRemovePeerPurgesEverything(t *testing.T) {
	idx := New()
	peer := uuid.New()
	other := uuid.New()
	cell := spatial.Area{X: 16, Y: 16, Z: 16}

	_, _ = idx.SubscribeWorld(peer, "lobby")
	_, _ = idx.SubscribeArea(peer, "lobby", cell)
	_, _ = idx.SubscribeWorld(other, "lobby")
	_, _ = idx.SubscribeArea(other, "lobby", cell)

	idx.RemovePeer(peer)

	assert.ElementsMatch(t, []uuid.UUID{other}, idx.PeersForWorld("lobby"))
	assert.ElementsMatch(t, []uuid.UUID{other}, idx.PeersForArea("lobby", cell))
	assert.Empty(t, idx.peerWorlds[peer])
	assert.Empty(t, idx.peerAreas[peer])
}

func TestRemovePeerNeverSubscribedIsNoop(t *testing.T) {
	idx := New()
	idx.RemovePeer(uuid.New())
}

func TestSubscribeAreaRejectsInvalidWorldName(t *testing.T) {
	idx := New()
	_, err := idx.SubscribeArea(uuid.New(), "", spatial.Area{})
	require.Error(t, err)
}
