package protocol

import (
	"github.com/google/uuid"

	"github.com/worldql/worldql-go/internal/spatial"
	"github.com/worldql/worldql-go/internal/store"
)

// Replication directs whether the sender is included in a fan-out
// recipient set.
type Replication int

const (
	ExceptSelf Replication = iota
	IncludingSelf
	OnlySelf
)

// MessageEnvelope is the authenticated wrapper every server-bound request
// arrives in: sender identity, the token the sender claims, and the
// request payload.
type MessageEnvelope struct {
	Sender  uuid.UUID
	Token   string
	Payload Request
}

// Request is the sum type of server-bound request payloads. Concrete
// implementations live below; Kind identifies the variant for dispatch.
type Request interface {
	Kind() RequestKind
}

// RequestKind names a Request variant for router dispatch.
type RequestKind int

const (
	KindHandshake RequestKind = iota
	KindHeartbeat
	KindGlobalMessage
	KindLocalMessage
	KindWorldSubscribe
	KindWorldUnsubscribe
	KindAreaSubscribe
	KindAreaUnsubscribe
	KindRecordGet
	KindRecordSet
	KindRecordDelete
	KindRecordClear
)

// HandshakeRequest is sent once, before any other request, and is handled
// by the transport acceptor. One received post-handshake is forwarded like
// any other frame; the router logs and drops it.
type HandshakeRequest struct {
	ServerAuth *string // optional JWT, checked against the configured server secret
}

func (HandshakeRequest) Kind() RequestKind { return KindHandshake }

// HeartbeatRequest keeps a connection alive and resets its liveness clock.
type HeartbeatRequest struct {
	Nonce *string
}

func (HeartbeatRequest) Kind() RequestKind { return KindHeartbeat }

// GlobalMessageRequest fans out to every subscriber of a world (or, when
// World == @global, to every connected peer).
type GlobalMessageRequest struct {
	World       string
	Replication Replication
	Data        []byte
	Ack         bool
}

func (GlobalMessageRequest) Kind() RequestKind { return KindGlobalMessage }

// LocalMessageRequest fans out to the subscribers of a single area.
type LocalMessageRequest struct {
	World       string
	Position    spatial.Vector3
	Replication Replication
	Data        []byte
}

func (LocalMessageRequest) Kind() RequestKind { return KindLocalMessage }

type WorldSubscribeRequest struct{ World string }

func (WorldSubscribeRequest) Kind() RequestKind { return KindWorldSubscribe }

type WorldUnsubscribeRequest struct{ World string }

func (WorldUnsubscribeRequest) Kind() RequestKind { return KindWorldUnsubscribe }

type AreaSubscribeRequest struct {
	World    string
	Position spatial.Vector3
}

func (AreaSubscribeRequest) Kind() RequestKind { return KindAreaSubscribe }

type AreaUnsubscribeRequest struct {
	World    string
	Position spatial.Vector3
}

func (AreaUnsubscribeRequest) Kind() RequestKind { return KindAreaUnsubscribe }

// RecordGetRequest is either an area query or an id (uuid,world) query;
// exactly one of ByArea/ByUUID is set.
type RecordGetRequest struct {
	ByArea *RecordGetByArea
	ByUUID []store.PartialRecord
}

type RecordGetByArea struct {
	World      string
	Pos1, Pos2 spatial.Vector3
}

func (RecordGetRequest) Kind() RequestKind { return KindRecordGet }

type RecordSetRequest struct {
	Records []store.Record
}

func (RecordSetRequest) Kind() RequestKind { return KindRecordSet }

type RecordDeleteRequest struct {
	Records []store.PartialRecord
}

func (RecordDeleteRequest) Kind() RequestKind { return KindRecordDelete }

// RecordClearRequest clears a whole world, or (if Position is non-nil) a
// single area within it.
type RecordClearRequest struct {
	World    string
	Position *spatial.Vector3
}

func (RecordClearRequest) Kind() RequestKind { return KindRecordClear }

// --- Client-bound replies -------------------------------------------------

type HandshakeReply struct {
	AuthToken string
}

type HeartbeatReply struct {
	Nonce *string
}

type GlobalMessageReply struct{}

type LocalMessageReply struct{}

type SubscribeReply struct {
	Updated bool
}

type RecordGetReply struct {
	Records []store.Record
}

type RecordSetReply struct {
	Created, Updated int
}

type RecordDeleteReply struct {
	Affected int
}

type RecordClearReply struct {
	Affected int
}

// --- Client-bound events (unsolicited) ------------------------------------

// Event is the sum type of unsolicited client-bound events.
type Event interface {
	EventKind() string
}

type PeerConnectEvent struct{ Peer uuid.UUID }

func (PeerConnectEvent) EventKind() string { return "peer_connect" }

type PeerDisconnectEvent struct {
	Peer    uuid.UUID
	Timeout bool
}

func (PeerDisconnectEvent) EventKind() string { return "peer_disconnect" }

type GlobalMessageEvent struct {
	Sender uuid.UUID
	World  string
	Data   []byte
}

func (GlobalMessageEvent) EventKind() string { return "global_message" }

type LocalMessageEvent struct {
	Sender   uuid.UUID
	World    string
	Position spatial.Vector3
	Data     []byte
}

func (LocalMessageEvent) EventKind() string { return "local_message" }

// SystemMessage carries out-of-band server notices: an unknown error, or a
// disconnect notice with reason.
type SystemMessage struct {
	UnknownError *Error
	Disconnect   *string
}

func (SystemMessage) EventKind() string { return "system_message" }
