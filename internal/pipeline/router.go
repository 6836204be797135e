package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worldql/worldql-go/internal/metrics"
	"github.com/worldql/worldql-go/internal/pipeline/ratelimit"
	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/registry"
)

// Router is the single task that authenticates every incoming envelope and
// dispatches it to the subscription or database lane, or (for heartbeats)
// answers inline. Per spec §4.5 it owns no mutable domain state of its
// own; the registry it reads from is shared, RW-guarded state.
type Router struct {
	registry *registry.Registry
	limiter  *ratelimit.PerPeerLimiter
	subCh    chan Job
	dbCh     chan Job
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewRouter builds a Router. subCh/dbCh are owned by the router: it closes
// both once its input channel is drained, signalling the lanes to exit
// once their own backlog is drained. met may be nil, which disables
// reporting.
func NewRouter(reg *registry.Registry, limiter *ratelimit.PerPeerLimiter, subCh, dbCh chan Job, logger zerolog.Logger, met *metrics.Metrics) *Router {
	return &Router{registry: reg, limiter: limiter, subCh: subCh, dbCh: dbCh, logger: logger, metrics: met}
}

// Run drains input until it closes or ctx is cancelled, dispatching each
// envelope, then closes the lane channels so they can drain and exit.
func (r *Router) Run(ctx context.Context, input <-chan protocol.MessageEnvelope) error {
	defer close(r.subCh)
	defer close(r.dbCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-input:
			if !ok {
				return nil
			}
			r.dispatch(env)
		}
	}
}

func (r *Router) dispatch(env protocol.MessageEnvelope) {
	peer, ok := r.registry.Get(env.Sender)
	if !ok {
		r.logger.Debug().Stringer("peer", env.Sender).Msg("message from unregistered sender, dropping")
		return
	}
	if peer.AuthToken != env.Token {
		r.logger.Debug().Stringer("peer", env.Sender).Msg("token mismatch, dropping")
		return
	}

	if r.limiter != nil && !r.limiter.Allow(env.Sender) {
		r.metrics.IncRateLimited()
		r.logger.Debug().Stringer("peer", env.Sender).Msg("rate limit exceeded, dropping")
		return
	}

	r.metrics.IncMessagesReceived()

	switch req := env.Payload.(type) {
	case protocol.HandshakeRequest:
		r.logger.Debug().Stringer("peer", env.Sender).Msg("handshake received post-registration, dropping")

	case protocol.HeartbeatRequest:
		r.handleHeartbeat(env.Sender, req)

	case protocol.GlobalMessageRequest, protocol.LocalMessageRequest,
		protocol.WorldSubscribeRequest, protocol.WorldUnsubscribeRequest,
		protocol.AreaSubscribeRequest, protocol.AreaUnsubscribeRequest:
		r.subCh <- Job{Sender: env.Sender, Request: env.Payload}
		r.metrics.SetLaneQueueDepth("subscription", len(r.subCh))

	case protocol.RecordGetRequest, protocol.RecordSetRequest,
		protocol.RecordDeleteRequest, protocol.RecordClearRequest:
		r.dbCh <- Job{Sender: env.Sender, Request: env.Payload}
		r.metrics.SetLaneQueueDepth("database", len(r.dbCh))

	default:
		r.logger.Warn().Stringer("peer", env.Sender).Msgf("unrecognised request kind %T", req)
	}
}

func (r *Router) handleHeartbeat(sender uuid.UUID, req protocol.HeartbeatRequest) {
	r.registry.Touch(sender)
	sendReply(r.registry, r.logger, sender, "heartbeat_reply",
		protocol.OkStatus(protocol.HeartbeatReply{Nonce: req.Nonce}))
}
