package podchannel

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sammck-go/logger"
)

// fakeHandle is the opaque connection handle the fake host hands out.
type fakeHandle struct {
	name string
}

// fakeHost is an in-memory host I/O engine: it records every write and close
// per handle, confirms closes synchronously through OnHostEvent (unless told
// to stay quiet), and lets tests drive data and readiness events by hand.
type fakeHost struct {
	mu     sync.Mutex
	engine *Engine

	writes     map[string][][]byte
	closed     map[string]int
	handleIDs  map[string]EndpointID
	quietClose map[string]bool

	connectErr  error
	targets     []string
	outSeq      int
	lastOutID   EndpointID
	lastOutName string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		writes:     make(map[string][][]byte),
		closed:     make(map[string]int),
		handleIDs:  make(map[string]EndpointID),
		quietClose: make(map[string]bool),
	}
}

func (h *fakeHost) newHandle(name string) *fakeHandle {
	return &fakeHandle{name: name}
}

func (h *fakeHost) bind(name string, id EndpointID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handleIDs[name] = id
}

func (h *fakeHost) Write(handle Handle, data []byte) error {
	fh := handle.(*fakeHandle)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes[fh.name] = append(h.writes[fh.name], append([]byte(nil), data...))
	return nil
}

func (h *fakeHost) Close(handle Handle) error {
	fh := handle.(*fakeHandle)
	h.mu.Lock()
	h.closed[fh.name]++
	first := h.closed[fh.name] == 1
	quiet := h.quietClose[fh.name]
	id, bound := h.handleIDs[fh.name]
	eng := h.engine
	h.mu.Unlock()
	if first && !quiet && bound && eng != nil {
		eng.OnHostEvent(id, HostEvent{Kind: EventClosed})
	}
	return nil
}

func (h *fakeHost) Connect(target string, id EndpointID) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connectErr != nil {
		return nil, h.connectErr
	}
	h.outSeq++
	name := fmt.Sprintf("out%d", h.outSeq)
	h.targets = append(h.targets, target)
	h.handleIDs[name] = id
	h.lastOutID = id
	h.lastOutName = name
	return &fakeHandle{name: name}, nil
}

// written returns all bytes written to a handle, concatenated.
func (h *fakeHost) written(name string) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var buf bytes.Buffer
	for _, w := range h.writes[name] {
		buf.Write(w)
	}
	return buf.Bytes()
}

func (h *fakeHost) closeCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed[name]
}

func (h *fakeHost) lastOutbound() (EndpointID, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastOutID, h.lastOutName
}

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	lg, err := logger.New(
		logger.WithWriter(os.Stderr),
		logger.WithLogLevel(logger.LogLevelError),
		logger.WithPrefix(t.Name()),
	)
	if err != nil {
		t.Fatalf("logger.New() returned error: %s", err)
	}
	return lg
}

// newTestEngine builds a started Engine over a fake host. The mutate
// callback may adjust the default config before construction.
func newTestEngine(t *testing.T, mutate func(*Config), opts ...EngineOption) (*Engine, *fakeHost) {
	t.Helper()
	h := newFakeHost()
	cfg := DefaultConfig()
	cfg.ConnectTarget = "target:9999"
	if mutate != nil {
		mutate(cfg)
	}
	e, err := NewEngine(testLogger(t), cfg, h, h, opts...)
	if err != nil {
		t.Fatalf("NewEngine() returned error: %s", err)
	}
	h.engine = e
	e.Start()
	return e, h
}

func channelOf(t *testing.T, e *Engine, id EndpointID) *Channel {
	t.Helper()
	e.Lock.Lock()
	ch := e.byEndpoint[id]
	e.Lock.Unlock()
	if ch == nil {
		t.Fatalf("no channel tracked for endpoint %s", id)
	}
	return ch
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitClosed(t *testing.T, ch *Channel) {
	t.Helper()
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %v to close", ch)
	}
}

// testConn is one accepted-and-tracked connection pair.
type testConn struct {
	ch              *Channel
	inID, outID     EndpointID
	inName, outName string
}

// accept runs OnAccept for a fresh inbound handle and returns the tracked
// pair, still Pending.
func accept(t *testing.T, e *Engine, h *fakeHost, name string) *testConn {
	t.Helper()
	inID, err := e.OnAccept(h.newHandle(name))
	if err != nil {
		t.Fatalf("OnAccept() returned error: %s", err)
	}
	h.bind(name, inID)
	outID, outName := h.lastOutbound()
	return &testConn{
		ch:      channelOf(t, e, inID),
		inID:    inID,
		inName:  name,
		outID:   outID,
		outName: outName,
	}
}

// establish accepts a pair and drives both sides Connected.
func establish(t *testing.T, e *Engine, h *fakeHost, name string) *testConn {
	t.Helper()
	tc := accept(t, e, h, name)
	e.OnHostEvent(tc.inID, HostEvent{Kind: EventConnected})
	e.OnHostEvent(tc.outID, HostEvent{Kind: EventConnected})
	waitFor(t, "channel to establish", func() bool {
		return tc.ch.State() == ChannelEstablished
	})
	return tc
}
