package podchannel

import (
	"fmt"
	"time"

	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// Engine is the composition root of the relay core and the sole point of
// contact with the host I/O engine. For each inbound connection handed to
// OnAccept it creates the endpoint pair and the Channel between them, then
// routes every subsequent host event to the owning Channel through
// OnHostEvent. It also owns the engine-scoped ExtensionRegistry.
type Engine struct {
	*asyncobj.Helper

	log       logger.Logger
	cfg       *Config
	host      HostIO
	connector Connector
	router    Router

	middlewareTypes *MiddlewareRegistry
	extensionTypes  *ExtensionTypeRegistry
	blueprint       *pipelineBlueprint
	extensions      *ExtensionRegistry

	stats ConnStats

	// channels and byEndpoint are the authoritative routing maps, guarded by
	// Helper.Lock. Entries are removed only when a Channel reaches Closed.
	channels   map[ChannelID]*Channel
	byEndpoint map[EndpointID]*Channel
}

// EngineOption customizes Engine construction.
type EngineOption func(*Engine)

// WithRouter installs a custom outbound target router. Without it, every
// inbound connection is routed to the config's connect_target.
func WithRouter(r Router) EngineOption {
	return func(e *Engine) { e.router = r }
}

// WithMiddlewareRegistry supplies the middleware type registry used to
// resolve config descriptors.
func WithMiddlewareRegistry(r *MiddlewareRegistry) EngineOption {
	return func(e *Engine) { e.middlewareTypes = r }
}

// WithExtensionTypeRegistry supplies the extension type registry used to
// resolve config descriptors.
func WithExtensionTypeRegistry(r *ExtensionTypeRegistry) EngineOption {
	return func(e *Engine) { e.extensionTypes = r }
}

// NewEngine builds an Engine against a host I/O engine and an outbound
// connector. All middleware and extension descriptors in cfg are resolved
// here, deterministically and exactly once; an unknown type id fails
// construction. The returned Engine is inert until Start is called.
func NewEngine(log logger.Logger, cfg *Config, host HostIO, connector Connector, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		log:             log.ForkLogStr("<Engine>"),
		cfg:             cfg,
		host:            host,
		connector:       connector,
		middlewareTypes: NewMiddlewareRegistry(),
		extensionTypes:  NewExtensionTypeRegistry(),
		channels:        make(map[ChannelID]*Channel),
		byEndpoint:      make(map[EndpointID]*Channel),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.router == nil {
		if cfg.ConnectTarget == "" {
			return nil, fmt.Errorf("no router: set connect_target or use WithRouter")
		}
		e.router = StaticRouter(cfg.ConnectTarget)
	}
	e.Helper = asyncobj.NewHelper(e.log, e)

	blueprint, err := newPipelineBlueprint(e, e.middlewareTypes, cfg.Middlewares)
	if err != nil {
		return nil, err
	}
	e.blueprint = blueprint

	e.extensions = newExtensionRegistry(e.log)
	for _, conf := range cfg.Extensions {
		factory, err := e.extensionTypes.Lookup(conf.Use)
		if err != nil {
			return nil, err
		}
		ext, err := factory(e, conf.Params)
		if err != nil {
			return nil, fmt.Errorf("build extension %q: %w", conf.Name, err)
		}
		if err := e.extensions.Register(conf.Name, ext); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Config returns the Engine's configuration. Callers must treat it as
// read-only.
func (e *Engine) Config() *Config {
	return e.cfg
}

// Stats returns the Engine's open/total channel counters.
func (e *Engine) Stats() *ConnStats {
	return &e.stats
}

// Extensions returns the engine-scoped extension instance registry.
func (e *Engine) Extensions() *ExtensionRegistry {
	return e.extensions
}

// GetExtension returns the named singleton extension instance, or
// ErrNotFound. It is safe from any Channel or middleware context.
func (e *Engine) GetExtension(name string) (Extension, error) {
	return e.extensions.Get(name)
}

// Start runs extension setup in registration order and begins accepting
// work. An extension that fails setup is dropped from the registry and
// logged; the Engine still starts.
func (e *Engine) Start() {
	e.extensions.setup(e)
	e.SetIsActivated()
	e.log.ILogf("engine started (%d middlewares)", len(e.blueprint.entries))
}

// OnAccept is the external entry point for a new inbound connection. It
// creates the endpoint pair, registers the new Channel, routes and initiates
// the outbound connect, and returns the inbound endpoint id the host
// must use for subsequent OnHostEvent calls. While the Engine is shutting
// down the handle is closed immediately and ErrEngineClosed returned.
func (e *Engine) OnAccept(inboundHandle Handle) (EndpointID, error) {
	if e.IsStartedShutdown() {
		e.log.WLogf("new connection refused while shutting down")
		if err := e.host.Close(inboundHandle); err != nil {
			e.log.ELogf("close refused inbound handle: %v", err)
		}
		return "", ErrEngineClosed
	}

	inbound := newEndpoint(e.log, e.host, RoleInbound, inboundHandle)
	outbound := newEndpoint(e.log, e.host, RoleOutbound, nil)
	ch := newChannel(e, inbound, outbound)

	// Both endpoint ids must be routable before the outbound connect is
	// initiated: a fast dialer can report Connected or Error before Connect
	// returns, and those events would otherwise be dropped as untracked.
	// Events arriving before start() are held in the Channel's queue.
	e.Lock.Lock()
	e.channels[ch.ID()] = ch
	e.byEndpoint[inbound.ID()] = ch
	e.byEndpoint[outbound.ID()] = ch
	e.Lock.Unlock()
	e.stats.New()
	e.stats.Open()

	// Outbound connect failures before pairing are reported through the
	// Channel's own error/teardown path, so hooks and cleanup behave exactly
	// as for a mid-flight failure.
	var connectErr error
	target, err := e.router.Route(inbound)
	if err != nil {
		connectErr = fmt.Errorf("route inbound %s: %w", inbound.ID(), err)
	} else {
		handle, err := e.connector.Connect(target, outbound.ID())
		if err != nil {
			connectErr = fmt.Errorf("connect to %q: %w", target, err)
		} else {
			outbound.handle = handle
		}
	}

	ch.start()
	if connectErr != nil {
		ch.injectError(connectErr)
	}
	e.log.DLogf("accepted %s paired to %s %s", inbound, outbound, &e.stats)
	return inbound.ID(), nil
}

// OnHostEvent is the external entry point for data, readiness, close and
// error notifications from the host. Events for endpoints the Engine no
// longer tracks are logged and dropped: late events after teardown are
// expected and must never crash the Engine.
func (e *Engine) OnHostEvent(id EndpointID, ev HostEvent) {
	e.Lock.Lock()
	ch := e.byEndpoint[id]
	e.Lock.Unlock()
	if ch == nil {
		e.log.DLogf("event %s for untracked endpoint %s dropped", ev.Kind, id)
		return
	}
	ch.deliver(id, ev)
}

// channelClosed removes a fully torn down Channel from the routing maps.
// Called from the Channel's own event goroutine as its final act.
func (e *Engine) channelClosed(ch *Channel) {
	e.Lock.Lock()
	delete(e.channels, ch.ID())
	delete(e.byEndpoint, ch.Inbound().ID())
	delete(e.byEndpoint, ch.Outbound().ID())
	e.Lock.Unlock()
	e.stats.Close()
	e.log.DLogf("removed %s %s", ch, &e.stats)
}

// HandleOnceShutdown tears down every live Channel, bounded by the
// configured close_wait, then cleans extensions up in reverse registration
// order. Called exactly once by the asyncobj Helper.
func (e *Engine) HandleOnceShutdown(completionErr error) error {
	e.Lock.Lock()
	live := make([]*Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		live = append(live, ch)
	}
	e.Lock.Unlock()

	e.log.ILogf("shutting down, %d channels live", len(live))
	for _, ch := range live {
		ch.forceClose(ErrEngineClosed)
	}
	deadline := time.After(e.cfg.CloseWait.Std())
	for _, ch := range live {
		select {
		case <-ch.Done():
		case <-deadline:
			e.log.WLogf("gave up waiting for %s to close", ch)
		}
	}
	e.extensions.cleanup()
	e.log.ILogf("engine stopped %s", &e.stats)
	return completionErr
}
