package podchannel

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sammck-go/logger"
)

// EndpointID uniquely identifies one Endpoint within an Engine. The host
// uses it to address events through Engine.OnHostEvent.
type EndpointID string

// Role distinguishes the two sides of a Channel.
type Role int

const (
	// RoleInbound is the endpoint facing the connecting client.
	RoleInbound Role = iota
	// RoleOutbound is the endpoint facing the routed target.
	RoleOutbound
)

func (r Role) String() string {
	if r == RoleInbound {
		return "inbound"
	}
	return "outbound"
}

// EndpointState is the connection state of one Endpoint. Transitions are
// monotonic: Connecting -> Connected -> Closing -> Closed, with Closing
// reachable from any earlier state and Closed terminal.
type EndpointState int32

const (
	// EndpointConnecting means the handle is registered but the host has not
	// yet confirmed readiness.
	EndpointConnecting EndpointState = iota
	// EndpointConnected means the endpoint accepts writes.
	EndpointConnected
	// EndpointClosing means Close was called; no further writes are accepted
	// even though the host has not yet confirmed the close.
	EndpointClosing
	// EndpointClosed means the host confirmed the connection is gone.
	EndpointClosed
)

var endpointStateNames = [...]string{"connecting", "connected", "closing", "closed"}

func (s EndpointState) String() string {
	if s < 0 || int(s) >= len(endpointStateNames) {
		return "unknown"
	}
	return endpointStateNames[s]
}

// Endpoint wraps one logical network connection handle supplied by the host
// engine and tracks its state. Endpoints are created and owned by a Channel;
// the back-reference is for lookup only. All state transitions after
// construction happen on the owning Channel's event goroutine.
type Endpoint struct {
	log     logger.Logger
	id      EndpointID
	role    Role
	host    HostIO
	handle  Handle
	channel *Channel
	state   int32
	stats   ByteStats
}

// newEndpoint registers a new connection handle in the Connecting state.
// For outbound endpoints the handle may be nil until the connect is
// initiated; the host never receives a write before Connected anyway.
func newEndpoint(log logger.Logger, host HostIO, role Role, handle Handle) *Endpoint {
	ep := &Endpoint{
		id:     EndpointID(uuid.NewString()),
		role:   role,
		host:   host,
		handle: handle,
		state:  int32(EndpointConnecting),
	}
	ep.log = log.ForkLogStr(fmt.Sprintf("<Endpoint %s %s>", role, ep.id[:8]))
	return ep
}

// ID returns the endpoint's unique id.
func (ep *Endpoint) ID() EndpointID {
	return ep.id
}

// Role returns whether this is the inbound or outbound side of its Channel.
func (ep *Endpoint) Role() Role {
	return ep.role
}

// Handle returns the opaque host connection handle.
func (ep *Endpoint) Handle() Handle {
	return ep.handle
}

// Channel returns the owning Channel.
func (ep *Endpoint) Channel() *Channel {
	return ep.channel
}

// State returns the endpoint's current connection state.
func (ep *Endpoint) State() EndpointState {
	return EndpointState(atomic.LoadInt32(&ep.state))
}

// Stats returns the endpoint's relayed byte counters.
func (ep *Endpoint) Stats() *ByteStats {
	return &ep.stats
}

func (ep *Endpoint) String() string {
	return fmt.Sprintf("<Endpoint %s %s %s>", ep.role, ep.id[:8], ep.State())
}

// MarkConnected transitions the endpoint from Connecting to Connected. Any
// other starting state is an ErrInvalidTransition.
func (ep *Endpoint) MarkConnected() error {
	if !atomic.CompareAndSwapInt32(&ep.state,
		int32(EndpointConnecting), int32(EndpointConnected)) {
		return fmt.Errorf("%w: %s -> connected", ErrInvalidTransition, ep.State())
	}
	ep.log.DLogf("connected")
	return nil
}

// Write queues data for transmission by the host engine. It is valid only
// while the endpoint is Connected and returns ErrNotConnected otherwise. The
// call does not block awaiting I/O; failures surface later as host events.
func (ep *Endpoint) Write(data []byte) error {
	if ep.State() != EndpointConnected {
		return fmt.Errorf("%w: %s", ErrNotConnected, ep.State())
	}
	if len(data) == 0 {
		return nil
	}
	if err := ep.host.Write(ep.handle, data); err != nil {
		return err
	}
	ep.stats.AddWritten(len(data))
	return nil
}

// Close asks the host to drain pending writes and close the connection. It
// is idempotent and returns immediately; the transition to Closed happens
// when the host confirms with an EventClosed event. No further writes are
// accepted after Close is called, even before the host confirms.
func (ep *Endpoint) Close(reason error) error {
	for {
		state := atomic.LoadInt32(&ep.state)
		if EndpointState(state) == EndpointClosing || EndpointState(state) == EndpointClosed {
			return nil
		}
		if atomic.CompareAndSwapInt32(&ep.state, state, int32(EndpointClosing)) {
			break
		}
	}
	if reason != nil {
		ep.log.DLogf("closing: %v", reason)
	} else {
		ep.log.DLogf("closing")
	}
	if ep.handle == nil {
		// Outbound connect was never initiated; nothing for the host to do.
		ep.confirmClosed()
		return nil
	}
	return ep.host.Close(ep.handle)
}

// confirmClosed marks the endpoint Closed once the host reports the
// connection gone. Safe to call regardless of prior state.
func (ep *Endpoint) confirmClosed() {
	atomic.StoreInt32(&ep.state, int32(EndpointClosed))
}
