package registry

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu   sync.Mutex
	sent [][]byte
	addr string
}

func (f *fakeConn) TypeString() string  { return "fake" }
func (f *fakeConn) RemoteAddr() string  { return f.addr }
func (f *fakeConn) Close() error        { return nil }
func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestInsertAssignsTokenAndRejectsDuplicate(t *testing.T) {
	r := New(testLogger(), 8, nil)
	id := uuid.New()

	tok, existing, err := r.Insert(id, &fakeConn{addr: "a"})
	require.NoError(t, err)
	require.Nil(t, existing)
	require.NotEmpty(t, tok)
	assert.Equal(t, 1, r.Count())

	_, existing, err = r.Insert(id, &fakeConn{addr: "b"})
	require.NoError(t, err)
	require.NotNil(t, existing, "duplicate id must report the existing peer")
	assert.Equal(t, 1, r.Count(), "duplicate insert must not change registry size")
}

// P8: PeerConnect is delivered to all peers other than the newly-joined
// one.
func TestInsertBroadcastsConnectExceptSelf(t *testing.T) {
	r := New(testLogger(), 8, nil)
	connA := &fakeConn{addr: "a"}
	idA := uuid.New()
	_, _, err := r.Insert(idA, connA)
	require.NoError(t, err)

	connB := &fakeConn{addr: "b"}
	idB := uuid.New()
	_, _, err = r.Insert(idB, connB)
	require.NoError(t, err)

	assert.Equal(t, 1, connA.count(), "A should see B's connect event")
	assert.Equal(t, 0, connB.count(), "B should not see its own connect event")
}

// P3 / P8: after remove, the peer is gone from the registry and everyone
// else gets PeerDisconnect.
func TestRemovePurgesAndBroadcastsDisconnect(t *testing.T) {
	r := New(testLogger(), 8, nil)
	connA := &fakeConn{addr: "a"}
	idA := uuid.New()
	_, _, _ = r.Insert(idA, connA)

	connB := &fakeConn{addr: "b"}
	idB := uuid.New()
	_, _, _ = r.Insert(idB, connB)

	r.Remove(idA, false)

	assert.False(t, r.Contains(idA))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 1, connB.count(), "B should see A's disconnect event")

	select {
	case removed := <-r.Removed():
		assert.Equal(t, idA, removed)
	default:
		t.Fatal("expected a removed-peer notification")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New(testLogger(), 8, nil)
	id := uuid.New()
	r.Remove(id, false) // never inserted
	assert.Equal(t, 0, r.Count())
}

func TestVerifyToken(t *testing.T) {
	r := New(testLogger(), 8, nil)
	id := uuid.New()
	tok, _, err := r.Insert(id, &fakeConn{addr: "a"})
	require.NoError(t, err)

	assert.True(t, r.VerifyToken(id, tok))
	assert.False(t, r.VerifyToken(id, "wrong"))
	assert.False(t, r.VerifyToken(uuid.New(), tok))
}

func TestStalePeers(t *testing.T) {
	r := New(testLogger(), 8, nil)
	id := uuid.New()
	_, _, _ = r.Insert(id, &fakeConn{addr: "a"})

	assert.Empty(t, r.StalePeers(time.Hour))

	p, _ := r.Get(id)
	p.lastHeartbeatAt.Store(time.Now().Add(-time.Minute).UnixNano())

	stale := r.StalePeers(time.Second)
	require.Len(t, stale, 1)
	assert.Equal(t, id, stale[0])
}

func TestBroadcastToOnlyReachesListedPeers(t *testing.T) {
	r := New(testLogger(), 8, nil)
	ids := make([]uuid.UUID, 3)
	conns := make([]*fakeConn, 3)
	for i := range ids {
		ids[i] = uuid.New()
		conns[i] = &fakeConn{addr: string(rune('a' + i))}
		_, _, _ = r.Insert(ids[i], conns[i])
	}
	// Each insert fans a connect event to the previously-registered peers;
	// reset counters before the targeted broadcast under test.
	for _, c := range conns {
		c.mu.Lock()
		c.sent = nil
		c.mu.Unlock()
	}

	r.BroadcastTo([]byte("hi"), []uuid.UUID{ids[0], ids[2]})

	assert.Equal(t, 1, conns[0].count())
	assert.Equal(t, 0, conns[1].count())
	assert.Equal(t, 1, conns[2].count())
}
