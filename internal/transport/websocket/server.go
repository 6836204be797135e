package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worldql/worldql-go/internal/auth"
	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/registry"
)

var codec protocol.Codec

// Server upgrades HTTP connections to WebSocket and drives each one through
// the Opening -> AwaitHandshake -> Active -> Closed lifecycle (spec §4.5)
// before handing authenticated envelopes to the pipeline's input channel.
// Grounded on ws/internal/shared's handleWebSocket/readPump/writePump
// trio, collapsed from a pooled multi-client Server into one adapter per
// connection since the registry, not this package, owns the peer set.
type Server struct {
	addr     string
	registry *registry.Registry
	verifier *auth.Verifier
	input    chan<- protocol.MessageEnvelope
	logger   zerolog.Logger

	http *http.Server
}

// NewServer builds a Server listening on addr. input is the pipeline's
// transport-input channel; the router's Run goroutine must already be
// draining it.
func NewServer(addr string, reg *registry.Registry, verifier *auth.Verifier, input chan<- protocol.MessageEnvelope, logger zerolog.Logger) *Server {
	s := &Server{
		addr:     addr,
		registry: reg,
		verifier: verifier,
		input:    input,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	s.http = &http.Server{Addr: addr, Handler: mux}

	return s
}

// Addr is the address the server binds to.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe runs the HTTP upgrade listener until ctx is cancelled,
// then gracefully shuts it down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	go s.serve(raw)
}

// serve drives one connection's full lifecycle over a single readLoop: the
// first frame must complete the AwaitHandshake step (spec §4.5); every
// frame after that is decoded and forwarded to the pipeline's input
// channel until the socket closes.
func (s *Server) serve(raw net.Conn) {
	conn := newConn(raw, s.logger)
	go conn.writeLoop()

	var peerID uuid.UUID
	handshakeDone := false
	rejected := false

	conn.readLoop(func(data []byte) {
		if rejected {
			return
		}
		if !handshakeDone {
			id, ok := s.handleHandshakeFrame(conn, data)
			if !ok {
				// Closing send lets writeLoop flush the queued error reply
				// before it closes the socket.
				rejected = true
				close(conn.send)
				return
			}
			peerID, handshakeDone = id, true
			return
		}

		env, err := codec.Decode(data)
		if err != nil {
			s.logger.Debug().Err(err).Stringer("peer", peerID).Msg("decode error, closing connection")
			conn.Close()
			return
		}
		s.input <- env
	})

	if handshakeDone {
		s.registry.Remove(peerID, false)
	}
}

// handleHandshakeFrame validates the connection's first frame as a
// HandshakeRequest, checks server auth if configured, and admits the peer
// to the registry. Replies are written directly to conn, since the peer
// isn't registered yet and registry.SendTo can't reach it.
func (s *Server) handleHandshakeFrame(conn *Conn, data []byte) (uuid.UUID, bool) {
	env, err := codec.Decode(data)
	if err != nil {
		s.logger.Debug().Err(err).Msg("handshake decode error")
		return uuid.UUID{}, false
	}

	req, isHandshake := env.Payload.(protocol.HandshakeRequest)
	if !isHandshake {
		s.replyError(conn, "system_message", protocol.NewError(protocol.ErrHandshakeRequired, "expected handshake, got other request"))
		return uuid.UUID{}, false
	}

	if s.verifier.Required() {
		if req.ServerAuth == nil {
			s.replyError(conn, "handshake_reply", protocol.NewError(protocol.ErrAuthFailed, "server auth required"))
			return uuid.UUID{}, false
		}
		if err := s.verifier.Verify(*req.ServerAuth); err != nil {
			s.replyError(conn, "handshake_reply", protocol.NewError(protocol.ErrAuthFailed, "%v", err))
			return uuid.UUID{}, false
		}
	}

	token, existing, err := s.registry.Insert(env.Sender, conn)
	if err != nil {
		s.replyError(conn, "handshake_reply", protocol.NewError(protocol.ErrAuthFailed, "%v", err))
		return uuid.UUID{}, false
	}
	if existing != nil {
		s.replyError(conn, "handshake_reply", protocol.NewError(protocol.ErrDuplicateUUID, "peer %s already connected", env.Sender))
		return uuid.UUID{}, false
	}

	s.sendDirect(conn, "handshake_reply", protocol.OkStatus(protocol.HandshakeReply{AuthToken: token}))
	return env.Sender, true
}

func (s *Server) sendDirect(conn *Conn, kind string, status any) {
	msg, err := protocol.NewReply(kind, status)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("marshal handshake reply")
		return
	}
	data, err := codec.Encode(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("encode handshake reply")
		return
	}
	_ = conn.Send(data)
}

func (s *Server) replyError(conn *Conn, kind string, protoErr protocol.Error) {
	s.sendDirect(conn, kind, protocol.ErrStatus[struct{}](protoErr))
}
