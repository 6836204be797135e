package websocket

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/registry"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func dial(t *testing.T, url string) (net.Conn, func()) {
	t.Helper()
	conn, _, _, err := ws.Dial(context.Background(), url)
	require.NoError(t, err)
	return conn, func() { conn.Close() }
}

func sendEnvelope(t *testing.T, conn net.Conn, sender uuid.UUID, token, kind string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame := map[string]any{
		"sender":  sender.String(),
		"token":   token,
		"kind":    kind,
		"payload": json.RawMessage(raw),
	}
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteClientMessage(conn, ws.OpText, data))
}

func readClientMessage(t *testing.T, conn net.Conn) protocol.ClientMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, _, err := wsutil.ReadServerData(conn)
	require.NoError(t, err)
	var cm protocol.ClientMessage
	require.NoError(t, json.Unmarshal(msg, &cm))
	return cm
}

func TestHandshakeSuccessAssignsToken(t *testing.T) {
	reg := registry.New(testLogger(), 16, nil)
	input := make(chan protocol.MessageEnvelope, 16)
	srv := NewServer("", reg, nil, input, testLogger())

	ts := httptest.NewServer(http.HandlerFunc(srv.handleUpgrade))
	defer ts.Close()

	conn, closeConn := dial(t, wsURL(ts.URL))
	defer closeConn()

	sender := uuid.New()
	sendEnvelope(t, conn, sender, "", "handshake", protocol.HandshakeRequest{})

	cm := readClientMessage(t, conn)
	require.Equal(t, "handshake_reply", cm.Kind)

	var status protocol.Status[protocol.HandshakeReply]
	require.NoError(t, json.Unmarshal(cm.Payload, &status))
	require.True(t, status.Ok)
	require.NotEmpty(t, status.Value.AuthToken)

	require.Eventually(t, func() bool { return reg.Contains(sender) }, time.Second, 10*time.Millisecond)
}

func TestHandshakeDuplicateUUIDRejected(t *testing.T) {
	reg := registry.New(testLogger(), 16, nil)
	input := make(chan protocol.MessageEnvelope, 16)
	srv := NewServer("", reg, nil, input, testLogger())

	ts := httptest.NewServer(http.HandlerFunc(srv.handleUpgrade))
	defer ts.Close()

	sender := uuid.New()

	first, closeFirst := dial(t, wsURL(ts.URL))
	defer closeFirst()
	sendEnvelope(t, first, sender, "", "handshake", protocol.HandshakeRequest{})
	_ = readClientMessage(t, first)
	require.Eventually(t, func() bool { return reg.Contains(sender) }, time.Second, 10*time.Millisecond)

	second, closeSecond := dial(t, wsURL(ts.URL))
	defer closeSecond()
	sendEnvelope(t, second, sender, "", "handshake", protocol.HandshakeRequest{})

	cm := readClientMessage(t, second)
	require.Equal(t, "handshake_reply", cm.Kind)

	var status protocol.Status[protocol.HandshakeReply]
	require.NoError(t, json.Unmarshal(cm.Payload, &status))
	require.False(t, status.Ok)
	require.Equal(t, protocol.ErrDuplicateUUID, status.Err.Code)

	require.Equal(t, 1, reg.Count())
}

func TestActiveFrameForwardedToInput(t *testing.T) {
	reg := registry.New(testLogger(), 16, nil)
	input := make(chan protocol.MessageEnvelope, 16)
	srv := NewServer("", reg, nil, input, testLogger())

	ts := httptest.NewServer(http.HandlerFunc(srv.handleUpgrade))
	defer ts.Close()

	conn, closeConn := dial(t, wsURL(ts.URL))
	defer closeConn()

	sender := uuid.New()
	sendEnvelope(t, conn, sender, "", "handshake", protocol.HandshakeRequest{})
	cm := readClientMessage(t, conn)

	var status protocol.Status[protocol.HandshakeReply]
	require.NoError(t, json.Unmarshal(cm.Payload, &status))
	token := status.Value.AuthToken

	nonce := "abc"
	sendEnvelope(t, conn, sender, token, "heartbeat", protocol.HeartbeatRequest{Nonce: &nonce})

	select {
	case env := <-input:
		require.Equal(t, sender, env.Sender)
		require.Equal(t, token, env.Token)
		hb, ok := env.Payload.(protocol.HeartbeatRequest)
		require.True(t, ok)
		require.Equal(t, &nonce, hb.Nonce)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded envelope")
	}
}
