package podchannel

import (
	"fmt"
	"sync/atomic"

	"github.com/jpillora/sizestr"
)

// ConnStats keeps track of currently open and total channel counts for an
// Engine.
type ConnStats struct {
	count int32
	open  int32
}

// New adds one to the total channel count and returns the new total.
func (c *ConnStats) New() int32 {
	return atomic.AddInt32(&c.count, 1)
}

// Open adds one to the current open channel count.
func (c *ConnStats) Open() {
	atomic.AddInt32(&c.open, 1)
}

// Close subtracts one from the current open channel count.
func (c *ConnStats) Close() {
	atomic.AddInt32(&c.open, -1)
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d]", atomic.LoadInt32(&c.open), atomic.LoadInt32(&c.count))
}

// ByteStats counts payload bytes relayed through one endpoint, split by
// direction. Counters are updated from the owning Channel's goroutine but may
// be read from anywhere.
type ByteStats struct {
	received uint64
	written  uint64
}

// AddReceived records n payload bytes received from the endpoint.
func (b *ByteStats) AddReceived(n int) {
	atomic.AddUint64(&b.received, uint64(n))
}

// AddWritten records n payload bytes forwarded to the endpoint.
func (b *ByteStats) AddWritten(n int) {
	atomic.AddUint64(&b.written, uint64(n))
}

// Received returns the total payload bytes received from the endpoint.
func (b *ByteStats) Received() uint64 {
	return atomic.LoadUint64(&b.received)
}

// Written returns the total payload bytes forwarded to the endpoint.
func (b *ByteStats) Written() uint64 {
	return atomic.LoadUint64(&b.written)
}

func (b *ByteStats) String() string {
	return fmt.Sprintf("(received %s, written %s)",
		sizestr.ToString(int64(b.Received())), sizestr.ToString(int64(b.Written())))
}
