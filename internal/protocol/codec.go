package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DecodeError signals a malformed or unrecognised frame; per spec §7 this
// is a protocol error: transports close the connection (or, if far enough
// along, reply with Status.Error) rather than forwarding it to the router.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "decode: " + e.Reason }

// ClientMessage is the generic envelope every client-bound frame is sent
// as: a string discriminator plus its JSON payload. Concrete reply/event
// types are marshalled into Payload by NewReply/NewEvent.
type ClientMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewReply wraps a Status[T] payload into a ClientMessage tagged with
// kind (e.g. "handshake_reply").
func NewReply(kind string, payload any) (ClientMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ClientMessage{}, fmt.Errorf("marshal reply %s: %w", kind, err)
	}
	return ClientMessage{Kind: kind, Payload: raw}, nil
}

// NewEvent wraps an Event payload into a ClientMessage tagged with its
// EventKind.
func NewEvent(e Event) (ClientMessage, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return ClientMessage{}, fmt.Errorf("marshal event %s: %w", e.EventKind(), err)
	}
	return ClientMessage{Kind: e.EventKind(), Payload: raw}, nil
}

// Codec is the binary codec the core requires of the transport layer:
// encode(ClientMessage) -> bytes, decode(bytes) -> ServerMessage. The wire
// format itself is an external concern (spec §6); this is a minimal
// concrete JSON implementation so the module builds and runs end to end.
type Codec struct{}

// Encode serialises a ClientMessage to its wire representation.
func (Codec) Encode(msg ClientMessage) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return b, nil
}

type wireFrame struct {
	Sender  string          `json:"sender"`
	Token   string          `json:"token"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses a wire frame into a MessageEnvelope carrying the claimed
// sender and token; the router authenticates it. It never returns a
// Request whose Kind doesn't match its concrete type.
func (Codec) Decode(data []byte) (MessageEnvelope, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return MessageEnvelope{}, &DecodeError{Reason: err.Error()}
	}

	sender, err := uuid.Parse(w.Sender)
	if err != nil {
		return MessageEnvelope{}, &DecodeError{Reason: "invalid sender uuid: " + err.Error()}
	}

	payload, err := decodePayload(w.Kind, w.Payload)
	if err != nil {
		return MessageEnvelope{}, &DecodeError{Reason: err.Error()}
	}

	return MessageEnvelope{Sender: sender, Token: w.Token, Payload: payload}, nil
}

func decodePayload(kind string, raw json.RawMessage) (Request, error) {
	var err error
	switch kind {
	case "handshake":
		var p HandshakeRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "heartbeat":
		var p HeartbeatRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "global_message":
		var p GlobalMessageRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "local_message":
		var p LocalMessageRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "world_subscribe":
		var p WorldSubscribeRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "world_unsubscribe":
		var p WorldUnsubscribeRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "area_subscribe":
		var p AreaSubscribeRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "area_unsubscribe":
		var p AreaUnsubscribeRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "record_get":
		var p RecordGetRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "record_set":
		var p RecordSetRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "record_delete":
		var p RecordDeleteRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	case "record_clear":
		var p RecordClearRequest
		err = json.Unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown request kind %q", kind)
	}
}
