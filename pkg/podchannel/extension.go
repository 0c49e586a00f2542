package podchannel

import (
	"fmt"
	"sync"

	"github.com/sammck-go/logger"
)

// Extension is a named, engine-scoped singleton service, visible to every
// Channel and middleware through Engine.GetExtension. Extensions are created
// at Engine construction, set up at Engine start, and cleaned up in reverse
// order at Engine shutdown; they are unrelated to any single Channel.
type Extension interface {
	// Setup is called once, at Engine start, before any Channel exists.
	Setup(e *Engine) error

	// Cleanup is called once, at Engine shutdown, after all Channels are
	// gone.
	Cleanup() error
}

// ExtensionFactory builds one extension instance from its configuration
// descriptor.
type ExtensionFactory func(e *Engine, params Params) (Extension, error)

// ExtensionTypeRegistry maps extension type ids to factories, the same way
// MiddlewareRegistry maps middleware ids.
type ExtensionTypeRegistry struct {
	mu        sync.RWMutex
	factories map[string]ExtensionFactory
}

// NewExtensionTypeRegistry returns an empty extension type registry.
func NewExtensionTypeRegistry() *ExtensionTypeRegistry {
	return &ExtensionTypeRegistry{factories: make(map[string]ExtensionFactory)}
}

// Register adds a factory under a type id.
func (r *ExtensionTypeRegistry) Register(id string, factory ExtensionFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		return fmt.Errorf("%w: extension type %q", ErrDuplicateName, id)
	}
	r.factories[id] = factory
	return nil
}

// Lookup resolves an extension type id to its factory.
func (r *ExtensionTypeRegistry) Lookup(id string) (ExtensionFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("%w: extension type %q", ErrNotFound, id)
	}
	return factory, nil
}

// ExtensionRegistry holds the engine-scoped singleton extension instances,
// keyed by name. It is populated at Engine construction and read-mostly
// afterward; lookups are safe from any Channel or middleware context.
type ExtensionRegistry struct {
	log    logger.Logger
	mu     sync.RWMutex
	names  []string
	byName map[string]Extension
}

// newExtensionRegistry returns an empty extension instance registry.
func newExtensionRegistry(log logger.Logger) *ExtensionRegistry {
	return &ExtensionRegistry{
		log:    log.ForkLogStr("<ExtensionRegistry>"),
		byName: make(map[string]Extension),
	}
}

// Register adds a singleton instance under name. It fails with
// ErrDuplicateName if the name is already present. There is no removal API;
// teardown happens only at Engine shutdown.
func (r *ExtensionRegistry) Register(name string, ext Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: extension %q", ErrDuplicateName, name)
	}
	r.byName[name] = ext
	r.names = append(r.names, name)
	r.log.DLogf("registered extension %q", name)
	return nil
}

// Get returns the singleton instance registered under name, or ErrNotFound.
// Repeated calls with the same name return the identical instance for the
// life of the Engine.
func (r *ExtensionRegistry) Get(name string) (Extension, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", ErrNotFound, name)
	}
	return ext, nil
}

// setup runs Setup on every extension in registration order. An extension
// that fails setup is dropped from the registry and the failure logged; the
// remaining extensions still run.
func (r *ExtensionRegistry) setup(e *Engine) {
	r.mu.Lock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	r.mu.Unlock()

	for _, name := range names {
		ext, err := r.Get(name)
		if err != nil {
			continue
		}
		r.log.DLogf("setup start %q", name)
		if err := ext.Setup(e); err != nil {
			r.log.ELogf("setup of extension %q failed: %v", name, err)
			r.remove(name)
			continue
		}
		r.log.DLogf("setup finished %q", name)
	}
}

// cleanup runs Cleanup on every extension in reverse registration order,
// logging failures and continuing.
func (r *ExtensionRegistry) cleanup() {
	r.mu.Lock()
	names := make([]string, len(r.names))
	copy(names, r.names)
	r.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		ext, err := r.Get(names[i])
		if err != nil {
			continue
		}
		r.log.DLogf("cleanup start %q", names[i])
		if err := ext.Cleanup(); err != nil {
			r.log.ELogf("cleanup of extension %q failed: %v", names[i], err)
			continue
		}
		r.log.DLogf("cleanup finished %q", names[i])
	}
}

// remove drops an extension whose setup failed. Not part of the public API.
func (r *ExtensionRegistry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
	for i, n := range r.names {
		if n == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}
