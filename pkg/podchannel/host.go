package podchannel

// Handle is an opaque connection handle owned by the host I/O engine. The
// core never constructs or inspects a Handle; it only passes handles back to
// the host for writes and closes.
type Handle interface{}

// EventKind identifies a host-delivered endpoint event.
type EventKind int

const (
	// EventConnected reports that an endpoint's connection is ready for
	// traffic. For inbound endpoints the host typically delivers it right
	// after OnAccept returns; for outbound endpoints it arrives when the
	// connect initiated through Connector completes.
	EventConnected EventKind = iota

	// EventData carries received payload bytes for an endpoint.
	EventData

	// EventClosed reports that the endpoint's connection has closed. Err, if
	// non-nil, is advisory (e.g. the reason a graceful close was initiated).
	EventClosed

	// EventError reports an unrecoverable I/O failure on the endpoint. The
	// owning Channel is torn down without drain semantics.
	EventError
)

var eventKindNames = [...]string{"connected", "data", "closed", "error"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// HostEvent is one notification delivered by the host I/O engine for a
// single endpoint, routed through Engine.OnHostEvent.
type HostEvent struct {
	Kind EventKind

	// Data is the received payload for EventData events; nil otherwise.
	Data []byte

	// Err is the failure cause for EventError events, or an advisory close
	// reason for EventClosed events.
	Err error
}

// HostIO is the write-side interface the core uses to reach the host I/O
// engine. Both calls are fire-and-forget: they must not block the caller
// awaiting network I/O, and completion or failure is reported asynchronously
// through Engine.OnHostEvent.
type HostIO interface {
	// Write queues data for transmission on the connection behind handle.
	Write(handle Handle, data []byte) error

	// Close requests that the connection behind handle be closed after any
	// writes already accepted by Write have been flushed (drain-then-close).
	// It is idempotent. The host confirms with an EventClosed event.
	Close(handle Handle) error
}

// Connector initiates outbound connections on behalf of the Engine.
type Connector interface {
	// Connect starts a non-blocking connect to target. The returned handle
	// identifies the in-progress connection; the host reports readiness or
	// failure later through Engine.OnHostEvent using the given endpoint id.
	// An error return means the connect could not even be initiated.
	Connect(target string, id EndpointID) (Handle, error)
}

// Router decides the outbound target for a freshly accepted inbound
// endpoint. Implementations must not block; anything that needs real name
// resolution belongs in the host or in middleware.
type Router interface {
	Route(inbound *Endpoint) (target string, err error)
}

// StaticRouter routes every inbound connection to one fixed target.
type StaticRouter string

// Route returns the fixed target for any inbound endpoint.
func (r StaticRouter) Route(*Endpoint) (string, error) {
	return string(r), nil
}
