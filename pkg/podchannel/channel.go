package podchannel

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sammck-go/logger"
)

// ChannelID uniquely identifies one Channel within an Engine.
type ChannelID string

// ChannelState is the transport state of a Channel.
type ChannelState int32

const (
	// ChannelPending means only one side of the pair is connected yet. Data
	// arriving in this state is buffered, never forwarded.
	ChannelPending ChannelState = iota

	// ChannelEstablished means both endpoints are Connected and data is
	// relayed through the pipeline.
	ChannelEstablished

	// ChannelHalfClosed means one endpoint has closed; the survivor is being
	// drained and closed.
	ChannelHalfClosed

	// ChannelClosed is terminal: both endpoints are closed, close hooks have
	// run, and the Engine no longer tracks the Channel.
	ChannelClosed
)

var channelStateNames = [...]string{"pending", "established", "half-closed", "closed"}

func (s ChannelState) String() string {
	if s < 0 || int(s) >= len(channelStateNames) {
		return "unknown"
	}
	return channelStateNames[s]
}

// forceClose is the internal event kind used to tear a Channel down from
// outside its event stream: engine shutdown and the half-close drain
// deadline.
const eventForceClose EventKind = -1

type channelEvent struct {
	ep *Endpoint
	ev HostEvent
}

// Channel pairs exactly one inbound and one outbound Endpoint, owns the
// transport state machine between them, and drives its middleware Pipeline.
//
// Every Channel processes its events on a single goroutine, in strict
// arrival order: no two hook invocations for the same Channel ever run
// concurrently, and no lock is held across a hook call. Different Channels
// are fully independent.
type Channel struct {
	log      logger.Logger
	id       ChannelID
	engine   *Engine
	inbound  *Endpoint
	outbound *Endpoint
	pipeline *Pipeline

	state  int32
	events chan channelEvent
	done   chan struct{}

	// pending buffers data events, in arrival order across both endpoints,
	// while the Channel is still Pending.
	pending      []channelEvent
	pendingBytes int

	drainTimer  *time.Timer
	failure     error
	established bool
}

// newChannel pairs the two endpoints and stamps a per-Channel Pipeline from
// the engine blueprint. The caller starts the event loop with start().
func newChannel(e *Engine, inbound, outbound *Endpoint) *Channel {
	ch := &Channel{
		id:       ChannelID(uuid.NewString()),
		engine:   e,
		inbound:  inbound,
		outbound: outbound,
		pipeline: newPipeline(e.blueprint),
		state:    int32(ChannelPending),
		events:   make(chan channelEvent, e.cfg.EventQueueSize),
		done:     make(chan struct{}),
	}
	ch.log = e.log.ForkLogStr(fmt.Sprintf("<Channel %s>", ch.id[:8]))
	inbound.channel = ch
	outbound.channel = ch
	return ch
}

// ID returns the Channel's unique id.
func (ch *Channel) ID() ChannelID {
	return ch.id
}

// Engine returns the Engine this Channel belongs to. Middleware reaches
// extensions through it: ch.Engine().GetExtension(name).
func (ch *Channel) Engine() *Engine {
	return ch.engine
}

// Inbound returns the client-facing endpoint.
func (ch *Channel) Inbound() *Endpoint {
	return ch.inbound
}

// Outbound returns the target-facing endpoint.
func (ch *Channel) Outbound() *Endpoint {
	return ch.outbound
}

// State returns the Channel's current transport state.
func (ch *Channel) State() ChannelState {
	return ChannelState(atomic.LoadInt32(&ch.state))
}

func (ch *Channel) String() string {
	return fmt.Sprintf("<Channel %s %s>", ch.id[:8], ch.State())
}

// Done is closed once the Channel has fully torn down.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// Established reports whether the Channel ever reached the Established
// state. Valid from hook context; a Channel torn down while still Pending
// reports false.
func (ch *Channel) Established() bool {
	return ch.established
}

// Failure returns the error that tore the Channel down, or nil for a clean
// close. Valid from close-hook context onward.
func (ch *Channel) Failure() error {
	return ch.failure
}

func (ch *Channel) setState(s ChannelState) {
	old := ch.State()
	atomic.StoreInt32(&ch.state, int32(s))
	ch.log.DLogf("%s -> %s", old, s)
}

// start launches the Channel's event goroutine.
func (ch *Channel) start() {
	go ch.run()
}

// deliver enqueues a host event for one of the Channel's endpoints. It
// preserves the host's delivery order and drops events once teardown has
// begun; late events after that are expected and harmless. The early drop
// also keeps a host that confirms closes synchronously from blocking the
// Channel's own goroutine on a saturated queue.
func (ch *Channel) deliver(id EndpointID, ev HostEvent) {
	ep := ch.endpointByID(id)
	if ep == nil {
		ch.log.WLogf("event %s for unknown endpoint %s dropped", ev.Kind, id)
		return
	}
	if ch.State() == ChannelClosed {
		ch.log.DLogf("late event %s for %s dropped", ev.Kind, ep)
		return
	}
	select {
	case ch.events <- channelEvent{ep: ep, ev: ev}:
	case <-ch.done:
		ch.log.DLogf("late event %s for %s dropped", ev.Kind, ep)
	}
}

// forceClose injects a teardown request into the Channel's event stream. It
// is used by Engine shutdown and by the drain deadline; reason is advisory.
func (ch *Channel) forceClose(reason error) {
	select {
	case ch.events <- channelEvent{ev: HostEvent{Kind: eventForceClose, Err: reason}}:
	case <-ch.done:
	}
}

// injectError reports a failure that happened outside the host event stream
// (e.g. an outbound connect that could not even be initiated) through the
// same error/teardown path as a mid-flight error.
func (ch *Channel) injectError(err error) {
	select {
	case ch.events <- channelEvent{ev: HostEvent{Kind: EventError, Err: err}}:
	case <-ch.done:
	}
}

func (ch *Channel) endpointByID(id EndpointID) *Endpoint {
	switch id {
	case ch.inbound.id:
		return ch.inbound
	case ch.outbound.id:
		return ch.outbound
	}
	return nil
}

// peerOf returns the other endpoint of the pair: inbound data flows to the
// outbound endpoint and vice versa.
func (ch *Channel) peerOf(ep *Endpoint) *Endpoint {
	if ep == ch.inbound {
		return ch.outbound
	}
	return ch.inbound
}

// run is the Channel's event loop. It exits once the state machine reaches
// Closed, after which deliver drops everything.
func (ch *Channel) run() {
	for ch.State() != ChannelClosed {
		ch.handleEvent(<-ch.events)
	}
	close(ch.done)
}

func (ch *Channel) handleEvent(cev channelEvent) {
	ep, ev := cev.ep, cev.ev
	switch ev.Kind {
	case eventForceClose:
		if ev.Err != nil {
			ch.log.DLogf("force close: %v", ev.Err)
		}
		ch.teardown(ev.Err)

	case EventConnected:
		ch.handleConnected(ep)

	case EventData:
		ep.stats.AddReceived(len(ev.Data))
		ch.handleData(ep, ev.Data)

	case EventClosed:
		ch.handleClosed(ep)

	case EventError:
		ch.fail(ev.Err)

	default:
		ch.log.WLogf("unknown event kind %d for %s dropped", ev.Kind, ep)
	}
}

func (ch *Channel) handleConnected(ep *Endpoint) {
	if err := ep.MarkConnected(); err != nil {
		// A duplicate or post-close Connected is a host hiccup, not fatal.
		ch.log.WLogf("%s: %v", ep, err)
		return
	}
	if ch.State() == ChannelPending &&
		ch.inbound.State() == EndpointConnected &&
		ch.outbound.State() == EndpointConnected {
		ch.establish()
	}
}

// establish fires the Pending -> Established transition exactly once: runs
// the connect hooks in ascending order, then replays any data buffered
// before the pair was complete.
func (ch *Channel) establish() {
	ch.setState(ChannelEstablished)
	ch.established = true
	verdict, err := ch.pipeline.Connect(ch)
	if err != nil {
		ch.fail(err)
		return
	}
	if verdict == Stop {
		ch.log.DLogf("connect stopped by middleware")
		ch.teardown(nil)
		return
	}
	pending := ch.pending
	ch.pending = nil
	ch.pendingBytes = 0
	for _, cev := range pending {
		if ch.State() != ChannelEstablished {
			return
		}
		ch.relay(cev.ep, cev.ev.Data)
	}
}

func (ch *Channel) handleData(ep *Endpoint, data []byte) {
	switch ch.State() {
	case ChannelPending:
		ch.pendingBytes += len(data)
		if ch.pendingBytes > ch.engine.cfg.MaxPendingBytes {
			ch.fail(fmt.Errorf("%w: %d bytes buffered before establish",
				ErrPendingOverflow, ch.pendingBytes))
			return
		}
		ch.pending = append(ch.pending, channelEvent{ep: ep, ev: HostEvent{Kind: EventData, Data: data}})

	case ChannelEstablished:
		ch.relay(ep, data)

	case ChannelHalfClosed:
		// The peer is gone or draining; policy is drain-then-close, so late
		// reads from the survivor have nowhere to go.
		ch.log.DLogf("dropping %d bytes from %s while half-closed", len(data), ep)
	}
}

// relay runs one payload through the data hooks and forwards the outcome to
// the peer endpoint. A racing close on the peer makes the write a no-op.
func (ch *Channel) relay(src *Endpoint, data []byte) {
	dir := Upstream
	if src == ch.outbound {
		dir = Downstream
	}
	payload, verdict, err := ch.pipeline.Data(ch, dir, data)
	if err != nil {
		ch.fail(err)
		return
	}
	if verdict == Stop {
		ch.log.DLogf("%s payload of %d bytes stopped by middleware", dir, len(data))
		return
	}
	if len(payload) == 0 {
		return
	}
	peer := ch.peerOf(src)
	if err := peer.Write(payload); err != nil {
		if errors.Is(err, ErrNotConnected) {
			// Expected teardown race; swallowed, never escalated.
			ch.log.DLogf("%s write dropped: %v", dir, ErrPeerUnavailable)
			return
		}
		ch.fail(err)
	}
}

func (ch *Channel) handleClosed(ep *Endpoint) {
	ep.confirmClosed()
	switch ch.State() {
	case ChannelPending:
		// One side went away before the pair ever established. No data was
		// forwarded; tear down the other side.
		ch.log.DLogf("%s closed before establish", ep)
		ch.teardown(nil)

	case ChannelEstablished:
		ch.halfClose(ep)

	case ChannelHalfClosed:
		if ch.inbound.State() == EndpointClosed && ch.outbound.State() == EndpointClosed {
			ch.teardown(nil)
		}
	}
}

// halfClose fires the Established -> HalfClosed transition: the survivor is
// closed through the host's draining close, so in-flight writes finish
// before the connection drops, and a deadline forces teardown if the host
// never confirms.
func (ch *Channel) halfClose(closedEp *Endpoint) {
	ch.setState(ChannelHalfClosed)
	peer := ch.peerOf(closedEp)
	if peer.State() == EndpointClosed {
		ch.teardown(nil)
		return
	}
	if err := peer.Close(nil); err != nil {
		ch.log.WLogf("draining close of %s failed: %v", peer, err)
		ch.teardown(nil)
		return
	}
	closeWait := ch.engine.cfg.CloseWait.Std()
	ch.drainTimer = time.AfterFunc(closeWait, func() {
		ch.forceClose(fmt.Errorf("drain deadline of %v expired", closeWait))
	})
}

// fail handles an unrecoverable Channel failure: fan the error out to the
// error hooks in descending order, then tear down, skipping drain
// semantics. A single failure can never leave the Channel half-initialized.
func (ch *Channel) fail(err error) {
	if ch.State() == ChannelClosed {
		return
	}
	if err == nil {
		err = fmt.Errorf("unspecified channel failure")
	}
	ch.log.WLogf("channel failed: %v", err)
	ch.failure = err
	ch.pipeline.Error(ch, err)
	ch.teardown(err)
}

// teardown drives the Channel to Closed from any state: closes both
// endpoints it still holds open, runs the close hooks exactly once in
// descending order, releases buffers, and hands the Channel back to the
// Engine. Close hooks are terminal; no hook of any kind fires afterward.
func (ch *Channel) teardown(reason error) {
	if ch.State() == ChannelClosed {
		return
	}
	// Move to Closed before touching the endpoints. A host that confirms a
	// close synchronously re-enters deliver on this goroutine, and from here
	// on deliver drops instead of queueing, so a full queue cannot wedge the
	// teardown.
	ch.setState(ChannelClosed)
	if ch.drainTimer != nil {
		ch.drainTimer.Stop()
		ch.drainTimer = nil
	}
	if err := ch.inbound.Close(reason); err != nil {
		ch.log.WLogf("close inbound: %v", err)
	}
	if err := ch.outbound.Close(reason); err != nil {
		ch.log.WLogf("close outbound: %v", err)
	}
	ch.pipeline.Close(ch)
	ch.pending = nil
	ch.pendingBytes = 0
	ch.log.ILogf("closed: inbound %s, outbound %s", ch.inbound.Stats(), ch.outbound.Stats())
	ch.engine.channelClosed(ch)
}
