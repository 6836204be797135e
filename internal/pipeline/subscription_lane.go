package pipeline

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/registry"
	"github.com/worldql/worldql-go/internal/spatial"
	"github.com/worldql/worldql-go/internal/subscription"
)

// SubscriptionLane is the single task that owns the subscription index
// exclusively (spec §4.3/§4.5). It never blocks on network I/O while
// mutating the index: handlers compute the recipient set, release logical
// ownership, then fan out through the registry.
type SubscriptionLane struct {
	registry *registry.Registry
	index    *subscription.Index
	cubeSize int64
	logger   zerolog.Logger
}

// NewSubscriptionLane builds a lane over idx, clamping positions to areas
// with the given cube size.
func NewSubscriptionLane(reg *registry.Registry, idx *subscription.Index, cubeSize int64, logger zerolog.Logger) *SubscriptionLane {
	return &SubscriptionLane{registry: reg, index: idx, cubeSize: cubeSize, logger: logger}
}

// Run selects between the router-forwarded job channel and the registry's
// removed-peer channel until jobs closes or ctx is cancelled.
func (l *SubscriptionLane) Run(ctx context.Context, jobs <-chan Job) error {
	removed := l.registry.Removed()
	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-removed:
			l.index.RemovePeer(id)
		case job, ok := <-jobs:
			if !ok {
				return nil
			}
			l.handle(job)
		}
	}
}

func (l *SubscriptionLane) handle(job Job) {
	switch req := job.Request.(type) {
	case protocol.GlobalMessageRequest:
		l.handleGlobalMessage(job.Sender, req)
	case protocol.LocalMessageRequest:
		l.handleLocalMessage(job.Sender, req)
	case protocol.WorldSubscribeRequest:
		world, err := sanitizeTarget(req.World)
		if err != nil {
			l.replySubscribe(job.Sender, "world_subscribe_reply", false, err)
			return
		}
		updated, err := l.index.SubscribeWorld(job.Sender, world)
		l.replySubscribe(job.Sender, "world_subscribe_reply", updated, err)
	case protocol.WorldUnsubscribeRequest:
		world, err := sanitizeTarget(req.World)
		if err != nil {
			l.replySubscribe(job.Sender, "world_unsubscribe_reply", false, err)
			return
		}
		updated, err := l.index.UnsubscribeWorld(job.Sender, world)
		l.replySubscribe(job.Sender, "world_unsubscribe_reply", updated, err)
	case protocol.AreaSubscribeRequest:
		world, err := sanitizeTarget(req.World)
		if err != nil {
			l.replySubscribe(job.Sender, "area_subscribe_reply", false, err)
			return
		}
		area := spatial.AreaClamp(req.Position, l.cubeSize)
		updated, err := l.index.SubscribeArea(job.Sender, world, area)
		l.replySubscribe(job.Sender, "area_subscribe_reply", updated, err)
	case protocol.AreaUnsubscribeRequest:
		world, err := sanitizeTarget(req.World)
		if err != nil {
			l.replySubscribe(job.Sender, "area_unsubscribe_reply", false, err)
			return
		}
		area := spatial.AreaClamp(req.Position, l.cubeSize)
		updated, err := l.index.UnsubscribeArea(job.Sender, world, area)
		l.replySubscribe(job.Sender, "area_unsubscribe_reply", updated, err)
	}
}

// sanitizeTarget substitutes a world name's reserved characters (spec §6)
// before it reaches the index, leaving the @global target itself
// untouched: Index's own validateTarget rejects it with an operation-
// specific error code, which SanitizeWorldName's generic rejection would
// otherwise shadow.
func sanitizeTarget(world string) (string, error) {
	if protocol.IsGlobalWorld(world) {
		return world, nil
	}
	return protocol.SanitizeWorldName(world)
}

func (l *SubscriptionLane) replySubscribe(sender uuid.UUID, kind string, updated bool, err error) {
	if err != nil {
		var pe protocol.Error
		if !errors.As(err, &pe) {
			pe = protocol.NewError(protocol.ErrInvalidWorldName, "%v", err)
		}
		sendReply(l.registry, l.logger, sender, kind, protocol.ErrStatus[protocol.SubscribeReply](pe))
		return
	}
	sendReply(l.registry, l.logger, sender, kind, protocol.OkStatus(protocol.SubscribeReply{Updated: updated}))
}

// handleGlobalMessage fans req out to the recipient set for its target
// world, then (if requested) acknowledges the sender.
func (l *SubscriptionLane) handleGlobalMessage(sender uuid.UUID, req protocol.GlobalMessageRequest) {
	if protocol.IsGlobalWorld(req.World) {
		event := protocol.GlobalMessageEvent{Sender: sender, World: req.World, Data: req.Data}
		l.fanOutEveryone(sender, encodeEvent(l.logger, event), req.Replication)
	} else {
		world, err := protocol.SanitizeWorldName(req.World)
		if err != nil {
			l.logger.Debug().Err(err).Stringer("peer", sender).Msg("global message to invalid world, dropping")
			return
		}
		event := protocol.GlobalMessageEvent{Sender: sender, World: world, Data: req.Data}
		ids := applyReplication(sender, l.worldRecipients(world), req.Replication)
		l.registry.BroadcastTo(encodeEvent(l.logger, event), ids)
	}

	if req.Ack {
		sendReply(l.registry, l.logger, sender, "global_message_reply", protocol.OkStatus(protocol.GlobalMessageReply{}))
	}
}

// handleLocalMessage fans req out to the subscribers of the single cell
// its position clamps to. Local messages are never acknowledged.
func (l *SubscriptionLane) handleLocalMessage(sender uuid.UUID, req protocol.LocalMessageRequest) {
	world, err := protocol.SanitizeWorldName(req.World)
	if err != nil {
		l.logger.Debug().Err(err).Stringer("peer", sender).Msg("local message to invalid world, dropping")
		return
	}

	area := spatial.AreaClamp(req.Position, l.cubeSize)
	event := protocol.LocalMessageEvent{Sender: sender, World: world, Position: req.Position, Data: req.Data}
	payload := encodeEvent(l.logger, event)

	ids := applyReplication(sender, l.index.PeersForArea(world, area), req.Replication)
	l.registry.BroadcastTo(payload, ids)
}

// worldRecipients is peers_for_world(world) ∪ peers_for_area_in_world(world, *).
func (l *SubscriptionLane) worldRecipients(world string) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	for _, id := range l.index.PeersForWorld(world) {
		seen[id] = struct{}{}
	}
	for _, id := range l.index.PeersForWorldAreas(world) {
		seen[id] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// fanOutEveryone handles the @global GlobalMessage target, which fans out
// to every connected peer rather than an index-derived recipient set.
func (l *SubscriptionLane) fanOutEveryone(sender uuid.UUID, payload []byte, repl protocol.Replication) {
	switch repl {
	case protocol.OnlySelf:
		if err := l.registry.SendTo(sender, payload); err != nil {
			l.logger.Debug().Err(err).Stringer("peer", sender).Msg("global @global only-self send failed")
		}
	case protocol.IncludingSelf:
		l.registry.BroadcastAll(payload)
	default: // ExceptSelf
		l.registry.BroadcastExcept(payload, sender)
	}
}

// applyReplication decides whether sender belongs in the computed
// recipient set ids, per the Replication directive.
//
// OnlySelf restricts the recipient set to {sender} unconditionally,
// regardless of whether sender is actually present in ids — the source's
// behaviour here is unspecified (spec §9 Open Questions); this is the
// documented interpretation (see DESIGN.md).
func applyReplication(sender uuid.UUID, ids []uuid.UUID, repl protocol.Replication) []uuid.UUID {
	switch repl {
	case protocol.OnlySelf:
		return []uuid.UUID{sender}
	case protocol.IncludingSelf:
		for _, id := range ids {
			if id == sender {
				return ids
			}
		}
		return append(ids, sender)
	default: // ExceptSelf
		out := make([]uuid.UUID, 0, len(ids))
		for _, id := range ids {
			if id != sender {
				out = append(out, id)
			}
		}
		return out
	}
}
