package podnet

import (
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// TCPListener accepts raw TCP connections and feeds them to a Host.
type TCPListener struct {
	*asyncobj.Helper

	log      logger.Logger
	host     *Host
	listener net.Listener
}

// NewTCPListener binds addr and returns a listener ready to Serve.
func NewTCPListener(log logger.Logger, host *Host, addr string) (*TCPListener, error) {
	nl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", addr, err)
	}
	l := &TCPListener{
		log:      log.ForkLogStr(fmt.Sprintf("<TCPListener %s>", nl.Addr())),
		host:     host,
		listener: nl,
	}
	l.Helper = asyncobj.NewHelper(l.log, l)
	l.SetIsActivated()
	return l, nil
}

// Addr returns the bound listen address.
func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections until the listener is shut down. Temporary
// accept failures are retried with exponential backoff; anything else is
// fatal to the listener.
func (l *TCPListener) Serve() error {
	b := &backoff.Backoff{Max: 5 * time.Second}
	for {
		netConn, err := l.listener.Accept()
		if err != nil {
			if l.IsStartedShutdown() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				d := b.Duration()
				l.log.WLogf("accept failed: %v, retrying in %s", err, d)
				time.Sleep(d)
				continue
			}
			l.StartShutdown(err)
			return err
		}
		b.Reset()
		if _, err := l.host.Accept(netConn); err != nil {
			l.log.WLogf("connection from %s refused: %v", netConn.RemoteAddr(), err)
		}
	}
}

// HandleOnceShutdown closes the listening socket, unblocking Serve. Called
// exactly once by the asyncobj Helper.
func (l *TCPListener) HandleOnceShutdown(completionErr error) error {
	if err := l.listener.Close(); err != nil && completionErr == nil {
		completionErr = err
	}
	return completionErr
}
