package podnet

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cfhamlet/go-pod-channel/pkg/podchannel"
	"github.com/sammck-go/logger"
)

// hostConn is one live connection: a Transport plus the pump goroutines
// that turn it into ordered endpoint events.
type hostConn struct {
	host *Host
	log  logger.Logger
	id   podchannel.EndpointID

	mu      sync.Mutex
	tr      Transport
	closing bool
	started bool

	queue chan []byte
	// drain is closed by beginClose; the write pump then flushes the queue
	// and closes the transport.
	drain chan struct{}
}

func newHostConn(h *Host, tr Transport) *hostConn {
	return &hostConn{
		host:  h,
		log:   h.log,
		tr:    tr,
		queue: make(chan []byte, 32),
		drain: make(chan struct{}),
	}
}

// adopt installs the transport produced by an asynchronous dial. It reports
// false if the connection was closed while the dial was in flight.
func (c *hostConn) adopt(tr Transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.tr = tr
	return true
}

// start launches the pump goroutines. The transport must be installed.
func (c *hostConn) start() {
	c.log = c.host.log.ForkLogStr(fmt.Sprintf("<Conn %s>", shortID(c.id)))
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go c.readPump()
	go c.writePump()
}

// enqueue hands a payload to the write pump. The copy is taken here because
// the caller may reuse its buffer as soon as this returns.
func (c *hostConn) enqueue(data []byte) error {
	select {
	case c.queue <- append([]byte(nil), data...):
		return nil
	case <-c.drain:
		return fmt.Errorf("%w: connection closing", podchannel.ErrNotConnected)
	}
}

// beginClose starts the drain-then-close sequence: no further writes are
// accepted, the write pump flushes what is already queued and then closes
// the transport. Idempotent.
func (c *hostConn) beginClose() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	started := c.started
	tr := c.tr
	c.mu.Unlock()

	close(c.drain)
	if !started && tr != nil {
		// Pumps never ran: a refused accept. Nothing to drain.
		tr.Close()
	}
}

// writePump owns the transport's write side. On a close request it flushes
// the already queued payloads and closes the transport; the read pump then
// reports Closed. A write error closes the transport immediately.
func (c *hostConn) writePump() {
	for {
		select {
		case data := <-c.queue:
			if !c.writeOne(data) {
				return
			}
		case <-c.drain:
			for {
				select {
				case data := <-c.queue:
					if !c.writeOne(data) {
						return
					}
				default:
					c.tr.Close()
					return
				}
			}
		}
	}
}

func (c *hostConn) writeOne(data []byte) bool {
	if _, err := c.tr.Write(data); err != nil {
		c.emit(podchannel.HostEvent{Kind: podchannel.EventError, Err: fmt.Errorf("write: %w", err)})
		c.tr.Close()
		return false
	}
	return true
}

// readPump owns the transport's read side. Each read delivers at most
// readMax bytes as one Data event; events for one connection are delivered
// in read order. A read failure after a close request is the close
// completing, not an error. Either way the pump's exit starts the close
// sequence, so a remote-initiated close still drains and releases the
// transport and terminates the write pump.
func (c *hostConn) readPump() {
	buf := make([]byte, c.host.readMax)
	for {
		n, err := c.tr.Read(buf)
		if n > 0 {
			c.emit(podchannel.HostEvent{
				Kind: podchannel.EventData,
				Data: append([]byte(nil), buf[:n]...),
			})
		}
		if err == nil {
			continue
		}
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if err == io.EOF || closing || errors.Is(err, net.ErrClosed) {
			c.emit(podchannel.HostEvent{Kind: podchannel.EventClosed})
		} else {
			c.emit(podchannel.HostEvent{Kind: podchannel.EventError, Err: fmt.Errorf("read: %w", err)})
		}
		c.beginClose()
		c.host.untrack(c)
		return
	}
}

func (c *hostConn) emit(ev podchannel.HostEvent) {
	c.host.sink.OnHostEvent(c.id, ev)
}

func shortID(id podchannel.EndpointID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}
