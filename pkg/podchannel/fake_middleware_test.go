package podchannel

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// recorder logs every hook invocation to a shared trace so tests can assert
// invocation order across middleware instances.
type trace struct {
	mu      sync.Mutex
	entries []string
}

func (tr *trace) add(format string, args ...interface{}) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.entries = append(tr.entries, fmt.Sprintf(format, args...))
}

func (tr *trace) snapshot() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.entries...)
}

// recorder implements every hook and records invocations. Zero-value
// verdicts mean Continue everywhere.
type recorder struct {
	name           string
	tr             *trace
	connectVerdict Verdict
	connectErr     error
	dataErr        error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnConnect(*Channel) (Verdict, error) {
	r.tr.add("%s:connect", r.name)
	return r.connectVerdict, r.connectErr
}

func (r *recorder) OnData(_ *Channel, dir Direction, data []byte) ([]byte, Verdict, error) {
	r.tr.add("%s:data:%s:%s", r.name, dir, data)
	return data, Continue, r.dataErr
}

func (r *recorder) OnClose(*Channel) {
	r.tr.add("%s:close", r.name)
}

func (r *recorder) OnError(_ *Channel, err error) {
	r.tr.add("%s:error", r.name)
}

// upper uppercases upstream payloads.
type upper struct{}

func (upper) Name() string { return "upper" }

func (upper) OnData(_ *Channel, dir Direction, data []byte) ([]byte, Verdict, error) {
	if dir == Upstream {
		return bytes.ToUpper(data), Continue, nil
	}
	return data, Continue, nil
}

// dropper stops any payload containing the word DROP.
type dropper struct{}

func (dropper) Name() string { return "dropper" }

func (dropper) OnData(_ *Channel, _ Direction, data []byte) ([]byte, Verdict, error) {
	if strings.Contains(string(data), "DROP") {
		return nil, Stop, nil
	}
	return data, Continue, nil
}

// counter is a Stateful middleware: each Channel gets its own clone with an
// independent data count.
type counter struct {
	mu    sync.Mutex
	count int
}

func (c *counter) Name() string { return "counter" }

func (c *counter) Clone() Middleware { return &counter{} }

func (c *counter) OnData(_ *Channel, _ Direction, data []byte) ([]byte, Verdict, error) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return data, Continue, nil
}

func (c *counter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

var errHookBoom = errors.New("hook boom")

// registerRecorders builds a middleware registry with one factory per named
// recorder, all sharing one trace.
func registerRecorders(tr *trace, recorders ...*recorder) *MiddlewareRegistry {
	reg := NewMiddlewareRegistry()
	for _, r := range recorders {
		r.tr = tr
		rec := r
		if err := reg.Register(rec.name, func(*Engine, Params) (Middleware, error) {
			return rec, nil
		}); err != nil {
			panic(err)
		}
	}
	return reg
}

func orderOf(n int) *int { return &n }
