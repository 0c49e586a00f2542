package podchannel

import (
	"fmt"
	"sort"
)

// blueprintEntry is one configured middleware instance, in final pipeline
// order, as resolved at Engine construction.
type blueprintEntry struct {
	name string
	mw   Middleware
}

// pipelineBlueprint is the engine-wide, immutable middleware line-up.
// Channels stamp per-Channel Pipelines from it; stateless middleware is
// shared, Stateful middleware is cloned per Channel.
type pipelineBlueprint struct {
	entries []blueprintEntry
}

// newPipelineBlueprint resolves and orders the configured middleware
// descriptors. Ordering is ascending by configured order with declaration
// order breaking ties (stable sort), matching how the descriptors promise to
// be instantiated deterministically.
func newPipelineBlueprint(e *Engine, registry *MiddlewareRegistry, configs []MiddlewareConfig) (*pipelineBlueprint, error) {
	sorted := make([]MiddlewareConfig, len(configs))
	copy(sorted, configs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].order() < sorted[j].order()
	})

	bp := &pipelineBlueprint{}
	for _, conf := range sorted {
		factory, err := registry.Lookup(conf.Name)
		if err != nil {
			return nil, err
		}
		mw, err := factory(e, conf.Params)
		if err != nil {
			return nil, fmt.Errorf("build middleware %q: %w", conf.Name, err)
		}
		bp.entries = append(bp.entries, blueprintEntry{name: mw.Name(), mw: mw})
	}
	return bp, nil
}

type connectEntry struct {
	name string
	hook ConnectHook
}

type dataEntry struct {
	name string
	hook DataHook
}

type closeEntry struct {
	name string
	hook CloseHook
}

type errorEntry struct {
	name string
	hook ErrorHook
}

// Pipeline is the per-Channel middleware invocation sequence. The hook
// slices are precomputed at construction and never change: connect and data
// hooks in ascending order, close and error hooks in descending order so
// teardown unwinds in reverse of setup. All methods run on the owning
// Channel's event goroutine.
type Pipeline struct {
	connectHooks []connectEntry
	dataHooks    []dataEntry
	closeHooks   []closeEntry
	errorHooks   []errorEntry
}

// newPipeline stamps a Pipeline for one Channel from the engine blueprint.
func newPipeline(bp *pipelineBlueprint) *Pipeline {
	p := &Pipeline{}
	for _, entry := range bp.entries {
		mw := entry.mw
		if stateful, ok := mw.(Stateful); ok {
			mw = stateful.Clone()
		}
		if hook, ok := mw.(ConnectHook); ok {
			p.connectHooks = append(p.connectHooks, connectEntry{entry.name, hook})
		}
		if hook, ok := mw.(DataHook); ok {
			p.dataHooks = append(p.dataHooks, dataEntry{entry.name, hook})
		}
		// Teardown hooks unwind in reverse of setup order.
		if hook, ok := mw.(CloseHook); ok {
			p.closeHooks = append([]closeEntry{{entry.name, hook}}, p.closeHooks...)
		}
		if hook, ok := mw.(ErrorHook); ok {
			p.errorHooks = append([]errorEntry{{entry.name, hook}}, p.errorHooks...)
		}
	}
	return p
}

// Connect runs the OnConnect hooks in ascending order. A hook error is
// converted into a MiddlewareError and reported as Stop; the caller fans it
// out to the error hooks and tears the Channel down.
func (p *Pipeline) Connect(ch *Channel) (Verdict, error) {
	for _, entry := range p.connectHooks {
		verdict, err := entry.hook.OnConnect(ch)
		if err != nil {
			return Stop, &MiddlewareError{Middleware: entry.name, Hook: "connect", Err: err}
		}
		if verdict == Stop {
			return Stop, nil
		}
	}
	return Continue, nil
}

// Data runs the OnData hooks in ascending order, threading the payload
// through each. The returned payload is the final transformed payload to
// forward when the verdict is Continue. A hook error is converted into a
// MiddlewareError and reported as Stop.
func (p *Pipeline) Data(ch *Channel, dir Direction, data []byte) ([]byte, Verdict, error) {
	for _, entry := range p.dataHooks {
		next, verdict, err := entry.hook.OnData(ch, dir, data)
		if err != nil {
			return nil, Stop, &MiddlewareError{Middleware: entry.name, Hook: "data", Err: err}
		}
		if verdict == Stop {
			return nil, Stop, nil
		}
		data = next
	}
	return data, Continue, nil
}

// Close runs the OnClose hooks in descending order, exactly once per
// Channel. The caller guarantees no hook of any kind fires afterward.
func (p *Pipeline) Close(ch *Channel) {
	for _, entry := range p.closeHooks {
		entry.hook.OnClose(ch)
	}
}

// Error fans a Channel failure out to the OnError hooks in descending
// order.
func (p *Pipeline) Error(ch *Channel, err error) {
	for _, entry := range p.errorHooks {
		entry.hook.OnError(ch, err)
	}
}
