package pipeline

import (
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worldql/worldql-go/internal/metrics"
	"github.com/worldql/worldql-go/internal/protocol"
	"github.com/worldql/worldql-go/internal/registry"
)

var wireCodec protocol.Codec

// sendReply encodes status as the client-bound reply kind and delivers it
// to peer via the registry. Send failures are logged, never propagated —
// a reply is not a broadcast, but the recipient may have disconnected
// between issuing the request and the lane finishing it.
func sendReply[T any](reg *registry.Registry, logger zerolog.Logger, peer uuid.UUID, kind string, status protocol.Status[T]) {
	msg, err := protocol.NewReply(kind, status)
	if err != nil {
		logger.Error().Err(err).Str("kind", kind).Msg("marshal reply")
		return
	}
	data, err := wireCodec.Encode(msg)
	if err != nil {
		logger.Error().Err(err).Str("kind", kind).Msg("encode reply")
		return
	}
	if err := reg.SendTo(peer, data); err != nil {
		logger.Debug().Err(err).Stringer("peer", peer).Str("kind", kind).Msg("send reply failed")
	}
}

// replyError wraps err as a generic-database Status.Error and sends it,
// per spec §7 item 3: storage errors reply with the generic code and the
// adapter's message string, connection stays open.
func replyError(reg *registry.Registry, logger zerolog.Logger, met *metrics.Metrics, peer uuid.UUID, kind string, err error) {
	met.IncDatabaseErrors()
	sendReply(reg, logger, peer, kind, protocol.ErrStatus[struct{}](
		protocol.NewError(protocol.ErrDatabaseGeneric, "%v", err),
	))
}

// replyValidationError sends err as its own protocol.Error code (e.g.
// ErrInvalidWorldName) rather than collapsing it to the generic-database
// code replyError uses, so a rejected world name is distinguishable from
// a store failure on the wire.
func replyValidationError[T any](reg *registry.Registry, logger zerolog.Logger, peer uuid.UUID, kind string, err error) {
	var pe protocol.Error
	if !errors.As(err, &pe) {
		pe = protocol.NewError(protocol.ErrInvalidWorldName, "%v", err)
	}
	sendReply(reg, logger, peer, kind, protocol.ErrStatus[T](pe))
}

// encodeEvent marshals an unsolicited client-bound event to its wire
// representation, for use with registry broadcast/send primitives that
// take a pre-serialised buffer.
func encodeEvent(logger zerolog.Logger, e protocol.Event) []byte {
	msg, err := protocol.NewEvent(e)
	if err != nil {
		logger.Error().Err(err).Str("kind", e.EventKind()).Msg("marshal event")
		return nil
	}
	data, err := wireCodec.Encode(msg)
	if err != nil {
		logger.Error().Err(err).Str("kind", e.EventKind()).Msg("encode event")
		return nil
	}
	return data
}
