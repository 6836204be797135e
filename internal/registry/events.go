package registry

import (
	"github.com/google/uuid"

	"github.com/worldql/worldql-go/internal/protocol"
)

var codec protocol.Codec

// mustEncodePeerConnect/mustEncodePeerDisconnect never fail in practice
// (the payload types always marshal), so insert/remove don't have to
// thread an encode error through a hot path that has no meaningful
// recovery anyway; a failure here would indicate a programming bug, not a
// runtime condition. On failure they return nil, without logging or
// panicking.

func mustEncodePeerConnect(id uuid.UUID) []byte {
	msg, err := protocol.NewEvent(protocol.PeerConnectEvent{Peer: id})
	if err != nil {
		return nil
	}
	data, err := codec.Encode(msg)
	if err != nil {
		return nil
	}
	return data
}

func mustEncodePeerDisconnect(id uuid.UUID, timeout bool) []byte {
	msg, err := protocol.NewEvent(protocol.PeerDisconnectEvent{Peer: id, Timeout: timeout})
	if err != nil {
		return nil
	}
	data, err := codec.Encode(msg)
	if err != nil {
		return nil
	}
	return data
}
