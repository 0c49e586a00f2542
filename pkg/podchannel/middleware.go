package podchannel

import (
	"fmt"
	"sync"
)

// Direction tells a data hook which way a payload is flowing through the
// Channel.
type Direction int

const (
	// Upstream is data received from the inbound endpoint, headed to the
	// outbound endpoint.
	Upstream Direction = iota
	// Downstream is data received from the outbound endpoint, headed back to
	// the inbound endpoint.
	Downstream
)

func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// Verdict is the control outcome of a middleware hook invocation.
type Verdict int

const (
	// Continue proceeds to the next middleware, or to default forwarding if
	// this was the last one. A data hook that returns different bytes with
	// Continue replaces the payload for the rest of the pipeline.
	Continue Verdict = iota

	// Stop aborts hook invocation for this event; for data events the
	// payload is not forwarded to the peer endpoint.
	Stop
)

// Middleware is an ordered observer/transformer of Channel lifecycle and
// data events. A middleware implements any subset of the hook interfaces
// below; absent hooks are no-ops. Middleware instances are stateless and
// shared across Channels unless they also implement Stateful.
type Middleware interface {
	// Name identifies the middleware in logs and errors.
	Name() string
}

// ConnectHook is invoked once per Channel, when both endpoints have
// connected and the Channel is about to become Established. Returning Stop
// or an error closes the Channel before any data is ever forwarded.
type ConnectHook interface {
	OnConnect(ch *Channel) (Verdict, error)
}

// DataHook is invoked for every payload relayed while the Channel is
// Established. It returns the (possibly replaced) payload to hand to the
// next middleware, a Verdict, and an error. An error is treated as Stop plus
// an OnError fan-out followed by Channel teardown.
type DataHook interface {
	OnData(ch *Channel, dir Direction, data []byte) ([]byte, Verdict, error)
}

// CloseHook is invoked exactly once per Channel during teardown, in
// descending order. It is terminal: no other hook fires for the Channel
// afterward.
type CloseHook interface {
	OnClose(ch *Channel)
}

// ErrorHook is invoked, in descending order, when a Channel fails: an
// unrecoverable I/O error from either endpoint, or a middleware hook error.
type ErrorHook interface {
	OnError(ch *Channel, err error)
}

// Stateful marks a middleware that holds per-Channel state. The pipeline
// calls Clone once for every Channel and invokes hooks on the clone;
// middleware without Stateful is shared across all Channels.
type Stateful interface {
	Middleware
	Clone() Middleware
}

// Params carries the free-form configuration parameters of one middleware or
// extension descriptor.
type Params map[string]interface{}

// GetString returns the string parameter under key, or def if absent.
func (p Params) GetString(key, def string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// GetInt returns the integer parameter under key, or def if absent. YAML
// decodes integers as int, so only that kind is accepted.
func (p Params) GetInt(key string, def int) int {
	if v, ok := p[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return def
}

// MiddlewareFactory builds one middleware instance from its configuration
// descriptor. Factories run once, at Engine construction.
type MiddlewareFactory func(e *Engine, params Params) (Middleware, error)

// MiddlewareRegistry maps middleware type ids to factories. Descriptors in
// the Engine config are resolved against it exactly once at startup; there
// is no runtime reflection or dynamic loading.
type MiddlewareRegistry struct {
	mu        sync.RWMutex
	factories map[string]MiddlewareFactory
}

// NewMiddlewareRegistry returns an empty middleware type registry.
func NewMiddlewareRegistry() *MiddlewareRegistry {
	return &MiddlewareRegistry{factories: make(map[string]MiddlewareFactory)}
}

// Register adds a factory under a type id. Registering the same id twice is
// an ErrDuplicateName.
func (r *MiddlewareRegistry) Register(id string, factory MiddlewareFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("%w: middleware %q", ErrDuplicateName, id)
	}
	r.factories[id] = factory
	return nil
}

// Lookup resolves a middleware type id to its factory.
func (r *MiddlewareRegistry) Lookup(id string) (MiddlewareFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: middleware %q", ErrNotFound, id)
	}
	return factory, nil
}
