// Package registry is the authoritative map of connected peers (spec C2):
// their auth tokens, transports, and liveness, guarded by a single
// readers-writer lock. Fan-out discipline never holds that lock across
// network I/O.
package registry

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worldql/worldql-go/internal/metrics"
)

const tokenEntropyBytes = 32 // >= 32 bytes per spec §4.2

// broadcastConcurrency bounds how many concurrent Conn.Send calls a single
// fan-out issues, so a broadcast to a very large roster doesn't spawn an
// unbounded number of goroutines in one burst.
const broadcastConcurrency = 256

// Registry is the single-owner, RW-guarded map of connected peers.
type Registry struct {
	mu    sync.RWMutex
	peers map[uuid.UUID]*Peer

	// removed is fed one id per Peer removal; the subscription lane drains
	// it to purge the index (spec §4.5).
	removed chan uuid.UUID

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New constructs an empty Registry. removedBuf sizes the removed-peer
// notification channel; when it is full, Remove drops the notification and
// logs a warning. met may be nil, which disables reporting.
func New(logger zerolog.Logger, removedBuf int, met *metrics.Metrics) *Registry {
	return &Registry{
		peers:   make(map[uuid.UUID]*Peer),
		removed: make(chan uuid.UUID, removedBuf),
		logger:  logger,
		metrics: met,
	}
}

// Removed is the channel of ids removed from the registry, consumed by the
// subscription lane to purge the index.
func (r *Registry) Removed() <-chan uuid.UUID {
	return r.removed
}

func generateToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Insert admits a peer under the given id, issuing a fresh auth token. If a
// peer with that id is already registered, insert does nothing and returns
// ("", existing, nil) — the caller treats a non-nil existing as a duplicate-id
// error. On success a PeerConnect event is broadcast to every other peer.
func (r *Registry) Insert(id uuid.UUID, conn Conn) (token string, existing *Peer, err error) {
	token, err = generateToken()
	if err != nil {
		return "", nil, err
	}

	r.mu.Lock()
	if prev, ok := r.peers[id]; ok {
		r.mu.Unlock()
		r.metrics.IncConnectionsRejected("duplicate_uuid")
		return "", prev, nil
	}
	peer := newPeer(id, conn, token)
	r.peers[id] = peer
	// Snapshot the other peers' conns for the PeerConnect broadcast while
	// still holding the write lock, then release before any network I/O.
	handles := r.handlesExcept(id)
	r.mu.Unlock()

	r.metrics.IncConnectionsTotal()
	r.metrics.SetConnectionsActive(r.Count())

	r.logger.Info().Stringer("peer", id).Str("addr", peer.Addr).Msg("peer connected")
	r.fanOut(handles, mustEncodePeerConnect(id))

	return token, nil, nil
}

// Remove evicts a peer, broadcasts PeerDisconnect to everyone remaining,
// and notifies the subscription lane via Removed(). Idempotent: removing
// an absent id is a no-op.
func (r *Registry) Remove(id uuid.UUID, timeout bool) {
	r.mu.Lock()
	peer, ok := r.peers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.peers, id)
	handles := r.handlesExcept(id)
	r.mu.Unlock()

	r.metrics.SetConnectionsActive(r.Count())
	peer.Conn.Close()

	r.logger.Info().Stringer("peer", id).Bool("timeout", timeout).Msg("peer disconnected")
	r.fanOut(handles, mustEncodePeerDisconnect(id, timeout))

	select {
	case r.removed <- id:
	default:
		// Channel full: log loudly, since a missed removal leaks the peer
		// in the subscription index until process shutdown.
		r.logger.Warn().Stringer("peer", id).Msg("removed-peer channel full, dropping notification")
	}
}

// Contains reports whether id is currently registered.
func (r *Registry) Contains(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[id]
	return ok
}

// Get returns the peer for id, if registered.
func (r *Registry) Get(id uuid.UUID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// VerifyToken reports whether tok matches the registered peer's token.
// Mismatches (including an absent peer) return false; the caller logs and
// drops per spec §4.5 step 2.
func (r *Registry) VerifyToken(id uuid.UUID, tok string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return ok && p.AuthToken == tok
}

// Touch resets id's liveness clock; called on every heartbeat.
func (r *Registry) Touch(id uuid.UUID) {
	r.mu.RLock()
	p, ok := r.peers[id]
	r.mu.RUnlock()
	if ok {
		p.touchHeartbeat()
	}
}

// StalePeers returns the ids of peers whose last heartbeat is older than
// maxAge.
func (r *Registry) StalePeers(maxAge time.Duration) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []uuid.UUID
	for id, p := range r.peers {
		if p.IsStale(maxAge) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Count returns the number of registered peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// handlesExcept snapshots every peer's Conn except id. Must be called
// while holding r.mu (read or write).
func (r *Registry) handlesExcept(except uuid.UUID) []Conn {
	handles := make([]Conn, 0, len(r.peers))
	for id, p := range r.peers {
		if id == except {
			continue
		}
		handles = append(handles, p.Conn)
	}
	return handles
}

// SendTo delivers data to a single peer, if registered. Errors are
// returned to the caller (unlike broadcasts, a targeted send has exactly
// one recipient to report failure to).
func (r *Registry) SendTo(id uuid.UUID, data []byte) error {
	r.mu.RLock()
	p, ok := r.peers[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send_to: peer %s not registered", id)
	}
	if err := p.Conn.Send(data); err != nil {
		r.metrics.IncSendErrors()
		return err
	}
	r.metrics.IncMessagesSent()
	return nil
}

// BroadcastAll sends data to every registered peer.
func (r *Registry) BroadcastAll(data []byte) {
	r.mu.RLock()
	handles := make([]Conn, 0, len(r.peers))
	for _, p := range r.peers {
		handles = append(handles, p.Conn)
	}
	r.mu.RUnlock()

	r.fanOut(handles, data)
}

// BroadcastExcept sends data to every registered peer other than except.
func (r *Registry) BroadcastExcept(data []byte, except uuid.UUID) {
	r.mu.RLock()
	handles := r.handlesExcept(except)
	r.mu.RUnlock()

	r.fanOut(handles, data)
}

// BroadcastTo sends data to exactly the given ids that are currently
// registered; unregistered ids are silently skipped.
func (r *Registry) BroadcastTo(data []byte, ids []uuid.UUID) {
	r.mu.RLock()
	handles := make([]Conn, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.peers[id]; ok {
			handles = append(handles, p.Conn)
		}
	}
	r.mu.RUnlock()

	r.fanOut(handles, data)
}

// fanOut serialises the message once (the caller already did) and pushes
// it to every handle concurrently, bounded by broadcastConcurrency. No
// registry lock is held during this loop: individual send failures are
// logged, never propagated, and never fail the broadcast as a whole
// (spec §4.2, §7.5).
func (r *Registry) fanOut(handles []Conn, data []byte) {
	if len(handles) == 0 {
		return
	}
	r.metrics.ObserveFanOut(len(handles))

	sem := make(chan struct{}, broadcastConcurrency)
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		sem <- struct{}{}
		go func(h Conn) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := h.Send(data); err != nil {
				r.metrics.IncSendErrors()
				r.logger.Debug().Err(err).Str("transport", h.TypeString()).Msg("fan-out send failed")
				return
			}
			r.metrics.IncMessagesSent()
		}(h)
	}
	wg.Wait()
}
