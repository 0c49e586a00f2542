package podnet

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cfhamlet/go-pod-channel/pkg/podchannel"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// DefaultDialTimeout bounds outbound connection attempts.
const DefaultDialTimeout = 15 * time.Second

// Transport is the minimal stream surface the Host pumps: a TCP connection,
// a unix socket, or a websocket message stream adapted to look like one.
// Read returning io.EOF means the remote side is done sending.
type Transport interface {
	io.ReadWriteCloser
}

// EventSink receives the Host's connection lifecycle notifications.
// *podchannel.Engine satisfies it.
type EventSink interface {
	OnAccept(handle podchannel.Handle) (podchannel.EndpointID, error)
	OnHostEvent(id podchannel.EndpointID, ev podchannel.HostEvent)
}

// Host implements podchannel.HostIO and podchannel.Connector over Transports.
// Construct it first, hand it to podchannel.NewEngine, then attach the engine
// as the event sink before any listener starts serving.
type Host struct {
	*asyncobj.Helper

	log         logger.Logger
	sink        EventSink
	readMax     int
	dialTimeout time.Duration

	// conns holds every connection with running pumps, guarded by
	// Helper.Lock.
	conns map[*hostConn]struct{}
}

// HostOption customizes Host construction.
type HostOption func(*Host)

// WithReadMax overrides the per-read buffer size.
func WithReadMax(n int) HostOption {
	return func(h *Host) { h.readMax = n }
}

// WithDialTimeout overrides the outbound dial timeout.
func WithDialTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.dialTimeout = d }
}

// NewHost creates a Host with no sink attached.
func NewHost(log logger.Logger, opts ...HostOption) *Host {
	h := &Host{
		log:         log.ForkLogStr("<Host>"),
		readMax:     podchannel.DefaultReadMax,
		dialTimeout: DefaultDialTimeout,
		conns:       make(map[*hostConn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.Helper = asyncobj.NewHelper(h.log, h)
	h.SetIsActivated()
	return h
}

// AttachSink installs the event sink. Must happen before the Host sees its
// first connection.
func (h *Host) AttachSink(sink EventSink) {
	h.sink = sink
}

// Accept hands a freshly accepted inbound transport to the sink and starts
// its pumps. On refusal the transport is closed and the sink's error
// returned.
func (h *Host) Accept(tr Transport) (podchannel.EndpointID, error) {
	if h.IsStartedShutdown() {
		tr.Close()
		return "", fmt.Errorf("host is shut down")
	}
	c := newHostConn(h, tr)
	id, err := h.sink.OnAccept(c)
	if err != nil {
		return "", err
	}
	c.id = id
	h.track(c)
	c.start()
	h.sink.OnHostEvent(id, podchannel.HostEvent{Kind: podchannel.EventConnected})
	return id, nil
}

// Connect implements podchannel.Connector. The dial itself runs on its own
// goroutine: success surfaces as a Connected event, failure as an Error
// event on the endpoint.
func (h *Host) Connect(target string, id podchannel.EndpointID) (podchannel.Handle, error) {
	if h.IsStartedShutdown() {
		return nil, fmt.Errorf("host is shut down")
	}
	c := newHostConn(h, nil)
	c.id = id
	go h.dial(c, target)
	return c, nil
}

func (h *Host) dial(c *hostConn, target string) {
	netConn, err := net.DialTimeout("tcp", target, h.dialTimeout)
	if err != nil {
		h.sink.OnHostEvent(c.id, podchannel.HostEvent{
			Kind: podchannel.EventError,
			Err:  fmt.Errorf("dial %q: %w", target, err),
		})
		return
	}
	if !c.adopt(netConn) {
		// The endpoint was closed while the dial was in flight.
		netConn.Close()
		return
	}
	h.track(c)
	c.start()
	h.sink.OnHostEvent(c.id, podchannel.HostEvent{Kind: podchannel.EventConnected})
}

// Write implements podchannel.HostIO: it queues data for the connection's
// write pump and returns without waiting for I/O.
func (h *Host) Write(handle podchannel.Handle, data []byte) error {
	c, ok := handle.(*hostConn)
	if !ok {
		return fmt.Errorf("foreign handle %T", handle)
	}
	return c.enqueue(data)
}

// Close implements podchannel.HostIO: it flushes the connection's queued
// writes, then closes the transport. The Closed event follows once the read
// pump observes the transport gone.
func (h *Host) Close(handle podchannel.Handle) error {
	c, ok := handle.(*hostConn)
	if !ok {
		return fmt.Errorf("foreign handle %T", handle)
	}
	c.beginClose()
	return nil
}

func (h *Host) track(c *hostConn) {
	h.Lock.Lock()
	h.conns[c] = struct{}{}
	h.Lock.Unlock()
}

func (h *Host) untrack(c *hostConn) {
	h.Lock.Lock()
	delete(h.conns, c)
	h.Lock.Unlock()
}

// HandleOnceShutdown closes every live connection. Called exactly once by
// the asyncobj Helper.
func (h *Host) HandleOnceShutdown(completionErr error) error {
	h.Lock.Lock()
	live := make([]*hostConn, 0, len(h.conns))
	for c := range h.conns {
		live = append(live, c)
	}
	h.Lock.Unlock()
	h.log.ILogf("shutting down, %d connections live", len(live))
	for _, c := range live {
		c.beginClose()
	}
	return completionErr
}
