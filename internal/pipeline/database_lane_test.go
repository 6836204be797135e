package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/registry"
	"github.com/worldql/worldql-go/internal/spatial"
	"github.com/worldql/worldql-go/internal/store"
	"github.com/worldql/worldql-go/internal/store/memstore"
)

// Scenario 4: record upsert then get. Setting the same record twice
// reports created once and updated once; a subsequent area query returns
// exactly the inserted record.
func TestDatabaseLaneSetThenGet(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(testLogger(), 8, nil)
	st := memstore.New()
	lane := NewDatabaseLane(reg, st, 16, testLogger(), nil)

	conn := &fakeConn{addr: "b"}
	sender := mustRegister(t, reg, conn)
	conn.reset()

	recUUID := uuid.New()
	rec := store.Record{UUID: recUUID, WorldName: "w", Position: spatial.Vector3{X: 1, Y: 2, Z: 3}, Data: []byte{0xAB}}

	lane.handle(ctx, Job{Sender: sender, Request: protocol.RecordSetRequest{Records: []store.Record{rec}}})
	require.Len(t, conn.sent, 1)
	setReply := decodeReply[protocol.RecordSetReply](t, conn.sent[0])
	require.True(t, setReply.Ok)
	assert.Equal(t, 1, setReply.Value.Created)
	assert.Equal(t, 0, setReply.Value.Updated)
	conn.reset()

	lane.handle(ctx, Job{Sender: sender, Request: protocol.RecordGetRequest{
		ByArea: &protocol.RecordGetByArea{World: "w", Pos1: spatial.Vector3{X: 0, Y: 0, Z: 0}, Pos2: spatial.Vector3{X: 10, Y: 10, Z: 10}},
	}})
	require.Len(t, conn.sent, 1)
	getReply := decodeReply[protocol.RecordGetReply](t, conn.sent[0])
	require.True(t, getReply.Ok)
	require.Len(t, getReply.Value.Records, 1)
	assert.Equal(t, rec, getReply.Value.Records[0])
	conn.reset()

	lane.handle(ctx, Job{Sender: sender, Request: protocol.RecordSetRequest{Records: []store.Record{rec}}})
	require.Len(t, conn.sent, 1)
	resetReply := decodeReply[protocol.RecordSetReply](t, conn.sent[0])
	require.True(t, resetReply.Ok)
	assert.Equal(t, 0, resetReply.Value.Created)
	assert.Equal(t, 1, resetReply.Value.Updated)
}

func TestDatabaseLaneClearSingleArea(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(testLogger(), 8, nil)
	st := memstore.New()
	lane := NewDatabaseLane(reg, st, 16, testLogger(), nil)

	conn := &fakeConn{addr: "b"}
	sender := mustRegister(t, reg, conn)
	conn.reset()

	inside := store.Record{UUID: uuid.New(), WorldName: "w", Position: spatial.Vector3{X: 1, Y: 1, Z: 1}}
	outside := store.Record{UUID: uuid.New(), WorldName: "w", Position: spatial.Vector3{X: 20, Y: 1, Z: 1}}
	_, _, err := st.Set(ctx, []store.Record{inside, outside})
	require.NoError(t, err)

	pos := spatial.Vector3{X: 1, Y: 1, Z: 1}
	lane.handle(ctx, Job{Sender: sender, Request: protocol.RecordClearRequest{World: "w", Position: &pos}})

	require.Len(t, conn.sent, 1)
	clearReply := decodeReply[protocol.RecordClearReply](t, conn.sent[0])
	require.True(t, clearReply.Ok)
	assert.Equal(t, 1, clearReply.Value.Affected)

	remaining, err := st.GetByID(ctx, []store.PartialRecord{inside.Partial(), outside.Partial()})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, outside.UUID, remaining[0].UUID)
}
