// Package ratelimit throttles inbound envelopes per peer; the router
// consults it after authentication and before dispatching to a lane, so one
// abusive connection cannot starve the processing pipeline. This is an ambient safety concern the distilled protocol spec
// doesn't name but the teacher carries throughout its `limits` package;
// grounded on ws/internal/single/limits' hand-rolled token bucket,
// reimplemented on golang.org/x/time/rate instead of the bespoke bucket.
package ratelimit

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// PerPeerLimiter holds one token bucket per peer id, created lazily on
// first use and kept until Remove is called for that peer.
type PerPeerLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New builds a limiter issuing eventsPerSecond tokens per peer, up to
// burst banked at once.
func New(eventsPerSecond float64, burst int) *PerPeerLimiter {
	return &PerPeerLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		rate:     rate.Limit(eventsPerSecond),
		burst:    burst,
	}
}

// Allow reports whether peer may proceed right now, consuming a token if
// so. The peer's bucket is created on first use.
func (l *PerPeerLimiter) Allow(peer uuid.UUID) bool {
	l.mu.Lock()
	lim, ok := l.limiters[peer]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[peer] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}

// Remove drops peer's bucket, so the peer starts again with a full burst.
// Nothing in the server calls it on disconnect, so buckets of disconnected
// peers stay in the map.
func (l *PerPeerLimiter) Remove(peer uuid.UUID) {
	l.mu.Lock()
	delete(l.limiters, peer)
	l.mu.Unlock()
}
