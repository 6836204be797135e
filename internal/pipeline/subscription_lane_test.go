package pipeline

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/registry"
	"github.com/worldql/worldql-go/internal/spatial"
	"github.com/worldql/worldql-go/internal/subscription"
)

type fakeConn struct {
	mu   sync.Mutex
	sent [][]byte
	addr string
}

func (f *fakeConn) TypeString() string { return "fake" }
func (f *fakeConn) RemoteAddr() string { return f.addr }
func (f *fakeConn) Close() error       { return nil }
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
func (f *fakeConn) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func mustRegister(t *testing.T, reg *registry.Registry, conn *fakeConn) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, existing, err := reg.Insert(id, conn)
	require.NoError(t, err)
	require.Nil(t, existing)
	return id
}

func decodeReply[T any](t *testing.T, data []byte) protocol.Status[T] {
	t.Helper()
	var cm protocol.ClientMessage
	require.NoError(t, json.Unmarshal(data, &cm))
	var st protocol.Status[T]
	require.NoError(t, json.Unmarshal(cm.Payload, &st))
	return st
}

// Scenario 2: area fan-out. cube_size=16; A and B subscribe to the cell
// containing the origin, C subscribes to the neighbouring cell; a local
// message inside the origin cell reaches only A and B.
func TestSubscriptionLaneAreaFanOut(t *testing.T) {
	const cubeSize = int64(16)
	reg := registry.New(testLogger(), 8, nil)
	idx := subscription.New()
	lane := NewSubscriptionLane(reg, idx, cubeSize, testLogger())

	connA, connB, connC, connD := &fakeConn{addr: "a"}, &fakeConn{addr: "b"}, &fakeConn{addr: "c"}, &fakeConn{addr: "d"}
	idA := mustRegister(t, reg, connA)
	idB := mustRegister(t, reg, connB)
	idC := mustRegister(t, reg, connC)
	idD := mustRegister(t, reg, connD)

	lane.handle(Job{Sender: idA, Request: protocol.AreaSubscribeRequest{World: "w", Position: spatial.Vector3{X: 0, Y: 0, Z: 0}}})
	lane.handle(Job{Sender: idB, Request: protocol.AreaSubscribeRequest{World: "w", Position: spatial.Vector3{X: 15.9, Y: 15.9, Z: 15.9}}})
	lane.handle(Job{Sender: idC, Request: protocol.AreaSubscribeRequest{World: "w", Position: spatial.Vector3{X: 16.1, Y: 0, Z: 0}}})

	for _, c := range []*fakeConn{connA, connB, connC, connD} {
		c.reset()
	}

	lane.handle(Job{Sender: idD, Request: protocol.LocalMessageRequest{
		World: "w", Position: spatial.Vector3{X: 5, Y: 5, Z: 5},
		Replication: protocol.ExceptSelf, Data: []byte("hi"),
	}})

	assert.Equal(t, 1, connA.count(), "A subscribed to the origin cell")
	assert.Equal(t, 1, connB.count(), "B subscribed to the origin cell")
	assert.Equal(t, 0, connC.count(), "C subscribed to the neighbouring cell")
	assert.Equal(t, 0, connD.count(), "local messages are never acknowledged to the sender")
}

// Scenario 3: world fan-out with replication. A subscribes to world "w";
// B sends a GlobalMessage with IncludingSelf and ack=true. Both A and B
// see the event; B additionally gets the ack reply.
func TestSubscriptionLaneWorldFanOutWithReplication(t *testing.T) {
	reg := registry.New(testLogger(), 8, nil)
	idx := subscription.New()
	lane := NewSubscriptionLane(reg, idx, 16, testLogger())

	connA, connB := &fakeConn{addr: "a"}, &fakeConn{addr: "b"}
	idA := mustRegister(t, reg, connA)
	idB := mustRegister(t, reg, connB)

	lane.handle(Job{Sender: idA, Request: protocol.WorldSubscribeRequest{World: "w"}})
	connA.reset()
	connB.reset()

	lane.handle(Job{Sender: idB, Request: protocol.GlobalMessageRequest{
		World: "w", Replication: protocol.IncludingSelf, Data: []byte("x"), Ack: true,
	}})

	assert.Equal(t, 1, connA.count(), "A subscribed to w sees the event")
	assert.Equal(t, 2, connB.count(), "B sees the event (IncludingSelf) plus its ack reply")
}

// Scenario 5: after subscribing through the lane, unsubscribing from a
// world on the index cascades to remove the peer's area subscriptions in
// that world, leaving no recipients for a subsequent local message sent
// through the lane.
func TestSubscriptionLaneWorldUnsubscribeClearsAreas(t *testing.T) {
	reg := registry.New(testLogger(), 8, nil)
	idx := subscription.New()
	lane := NewSubscriptionLane(reg, idx, 16, testLogger())

	connA, connB := &fakeConn{addr: "a"}, &fakeConn{addr: "b"}
	idA := mustRegister(t, reg, connA)
	idB := mustRegister(t, reg, connB)

	lane.handle(Job{Sender: idA, Request: protocol.AreaSubscribeRequest{World: "w", Position: spatial.Vector3{}}})
	lane.handle(Job{Sender: idA, Request: protocol.WorldSubscribeRequest{World: "w"}})

	updated, err := idx.UnsubscribeWorld(idA, "w")
	require.NoError(t, err)
	assert.True(t, updated)

	connA.reset()
	connB.reset()

	lane.handle(Job{Sender: idB, Request: protocol.LocalMessageRequest{
		World: "w", Position: spatial.Vector3{}, Replication: protocol.ExceptSelf, Data: []byte("x"),
	}})

	assert.Equal(t, 0, connA.count())
	assert.Empty(t, idx.PeersForWorld("w"))
}

func TestSubscriptionLaneRejectsGlobalWorldSubscribe(t *testing.T) {
	reg := registry.New(testLogger(), 8, nil)
	idx := subscription.New()
	lane := NewSubscriptionLane(reg, idx, 16, testLogger())

	conn := &fakeConn{addr: "a"}
	id := mustRegister(t, reg, conn)
	conn.reset()

	lane.handle(Job{Sender: id, Request: protocol.WorldSubscribeRequest{World: protocol.GlobalWorld}})

	require.Equal(t, 1, conn.count())
	st := decodeReply[protocol.SubscribeReply](t, conn.sent[0])
	assert.False(t, st.Ok)
	assert.Equal(t, protocol.ErrSubscribeGlobal, st.Err.Code)
}
