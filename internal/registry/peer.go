package registry

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Peer is created on successful handshake and owned exclusively by the
// Registry. It is destroyed when the transport closes, a duplicate-id
// handshake is rejected, or liveness expires.
type Peer struct {
	ID        uuid.UUID
	Addr      string
	AuthToken string
	Conn      Conn

	connectedAt     time.Time
	lastHeartbeatAt atomic.Int64 // unix nanos
}

func newPeer(id uuid.UUID, conn Conn, token string) *Peer {
	p := &Peer{
		ID:          id,
		Addr:        conn.RemoteAddr(),
		AuthToken:   token,
		Conn:        conn,
		connectedAt: time.Now(),
	}
	p.touchHeartbeat()
	return p
}

// ConnectedAt is when the peer was admitted to the registry.
func (p *Peer) ConnectedAt() time.Time { return p.connectedAt }

// LastHeartbeatAt is the timestamp of the most recent heartbeat or
// admission, whichever is later.
func (p *Peer) LastHeartbeatAt() time.Time {
	return time.Unix(0, p.lastHeartbeatAt.Load())
}

func (p *Peer) touchHeartbeat() {
	p.lastHeartbeatAt.Store(time.Now().UnixNano())
}

// IsStale reports whether the peer's last heartbeat is older than maxAge.
func (p *Peer) IsStale(maxAge time.Duration) bool {
	return time.Since(p.LastHeartbeatAt()) > maxAge
}
