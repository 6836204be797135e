package registry

// Conn is the capability set a transport connection must expose to the
// registry (spec §9: "a peer is anything implementing
// {type_string, addr, uuid, token, verify_token, update_heartbeat,
// is_stale, send_message, send_bytes}"). The uuid/token/heartbeat/staleness
// bookkeeping lives on Peer itself; Conn is narrowed to the transport
// primitives the registry cannot provide on its own.
type Conn interface {
	// TypeString names the transport ("websocket", ...), for logs/metrics.
	TypeString() string

	// RemoteAddr is the peer's network address as the transport sees it.
	RemoteAddr() string

	// Send pushes a pre-serialised frame to the peer. Implementations must
	// not block the caller for more than it takes to hand the buffer to a
	// per-connection write queue; a slow or dead peer must not stall the
	// registry's fan-out loop.
	Send(data []byte) error

	// Close tears down the underlying connection. Idempotent.
	Close() error
}
