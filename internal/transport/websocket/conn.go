// Package websocket adapts gobwas/ws connections to the registry's Conn
// capability set and drives the per-connection Opening -> AwaitHandshake ->
// Active -> Closed state machine. Grounded on ws/internal/shared's
// connection/pump pair, generalised from its Client/Server coupling to a
// single Conn that is handed to the registry once the handshake succeeds.
package websocket

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

var errClosed = errors.New("websocket: connection closed")

const (
	writeWait = 5 * time.Second
	pongWait  = 30 * time.Second
	// pingPeriod must stay under pongWait so a live connection never times
	// out waiting on its own ping.
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256
)

// Conn wraps one upgraded WebSocket connection. It satisfies
// registry.Conn; Server.serve starts writeLoop and readLoop before the
// handshake completes so ping/pong keeps the socket alive while the
// transport is still in AwaitHandshake.
type Conn struct {
	raw    net.Conn
	send   chan []byte
	logger zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(raw net.Conn, logger zerolog.Logger) *Conn {
	return &Conn{
		raw:    raw,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// TypeString names this transport for logs and metrics.
func (c *Conn) TypeString() string { return "websocket" }

// RemoteAddr is the underlying TCP connection's peer address.
func (c *Conn) RemoteAddr() string { return c.raw.RemoteAddr().String() }

// Send queues data for the write pump. It never blocks on a slow peer: a
// full buffer drops the frame and closes the connection, since a stalled
// socket must not stall the registry's fan-out loop (spec §9 Conn.Send
// contract).
func (c *Conn) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return errClosed
	default:
		c.logger.Warn().Str("addr", c.RemoteAddr()).Msg("send buffer full, dropping connection")
		c.Close()
		return errClosed
	}
}

// Close idempotently tears down the connection and its pumps.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.raw.Close()
	})
	return nil
}

// readLoop reads frames off the wire until the socket closes or a fatal
// read error occurs, handing each text frame to onFrame. Ping frames are
// answered automatically by wsutil; close frames end the loop.
func (c *Conn) readLoop(onFrame func(data []byte)) {
	c.raw.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.raw)
		if err != nil {
			return
		}
		c.raw.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			onFrame(msg)
		case ws.OpClose:
			return
		case ws.OpPing, ws.OpPong:
			// handled by wsutil
		}
	}
}

// writeLoop batches whatever is currently buffered in send into a single
// flush per wake-up, grounded on ws/internal/shared/pump_write.go's
// drain-then-flush pattern, and pings on pingPeriod to keep the peer's
// read deadline from expiring.
func (c *Conn) writeLoop() {
	writer := bufio.NewWriter(c.raw)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.raw.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, msg); err != nil {
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				msg = <-c.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, msg); err != nil {
					return
				}
			}
			if err := writer.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			c.raw.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.raw, ws.OpPing, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
