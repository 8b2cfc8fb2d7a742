// Package registry implements the component registry: the directory of
// running Engines a multi-component deployment uses to route events,
// broadcasts, and instance creation across component boundaries. It
// implements sender.CrossComponentRouter and is injected into each
// Engine via Engine.SetRouter, resolving the engine<->registry cyclic
// reference without either package importing the other's concrete type.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/fluxorio/flowmesh/internal/corelog"
	"github.com/fluxorio/flowmesh/internal/engine"
	"github.com/fluxorio/flowmesh/internal/types"
)

// Info describes one registered component for dashboard/introspection
// purposes.
type Info struct {
	Name          string
	MachineCount  int
	InstanceCount int
}

// Registry is the component directory.
type Registry struct {
	mu         sync.RWMutex
	components map[string]*engine.Engine
	logger     corelog.Logger
	onRegister []func(name string, e *engine.Engine)
}

// New returns an empty Registry.
func New(logger corelog.Logger) *Registry {
	if logger == nil {
		logger = corelog.NewDefault()
	}
	return &Registry{components: make(map[string]*engine.Engine), logger: logger}
}

// Register adds a running Engine under its component name and injects
// this Registry into it as its cross-component router.
func (r *Registry) Register(e *engine.Engine) error {
	if e == nil {
		return types.New(types.ErrDeclaration, "registry: cannot register a nil engine")
	}
	r.mu.Lock()
	if _, dup := r.components[e.Name()]; dup {
		r.mu.Unlock()
		return types.New(types.ErrDeclaration, "registry: component "+e.Name()+" already registered")
	}
	r.components[e.Name()] = e
	hooks := append([]func(string, *engine.Engine){}, r.onRegister...)
	r.mu.Unlock()

	e.SetRouter(r)
	for _, h := range hooks {
		h(e.Name(), e)
	}
	return nil
}

// OnRegister registers h to be called for every component registered
// from this point on, including ones already registered at call time.
// Used by the dashboard's WebSocket stream to attach to each engine's
// event bus as components come online.
func (r *Registry) OnRegister(h func(name string, e *engine.Engine)) {
	r.mu.Lock()
	r.onRegister = append(r.onRegister, h)
	existing := make(map[string]*engine.Engine, len(r.components))
	for name, e := range r.components {
		existing[name] = e
	}
	r.mu.Unlock()

	for name, e := range existing {
		h(name, e)
	}
}

// Unregister removes a component from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.components, name)
}

// Has reports whether a component is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.components[name]
	return ok
}

// Info returns introspection data for a registered component.
func (r *Registry) Info(name string) (Info, bool) {
	r.mu.RLock()
	e, ok := r.components[name]
	r.mu.RUnlock()
	if !ok {
		return Info{}, false
	}
	return Info{Name: name, MachineCount: len(e.Component().StateMachines), InstanceCount: len(e.GetAllInstances())}, true
}

// Names returns every registered component's name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.components))
	for name := range r.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Component returns the declaration a registered component was compiled
// from, for dashboard introspection views.
func (r *Registry) Component(name string) (types.Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.components[name]
	if !ok {
		return types.Component{}, false
	}
	return e.Component(), true
}

// Instances returns copies of every active instance of a registered
// component, across all its machines.
func (r *Registry) Instances(name string) ([]types.Instance, error) {
	e, err := r.get(name)
	if err != nil {
		return nil, err
	}
	return e.GetAllInstances(), nil
}

// CreateInstance creates an instance of machine within a registered
// component, for the dashboard's POST .../instances route.
func (r *Registry) CreateInstance(ctx context.Context, component, machine string, initialContext map[string]interface{}) (string, error) {
	return r.CreateInstanceInComponent(ctx, component, machine, initialContext)
}

// SendEvent delivers evt to a specific instance within a registered
// component, for the dashboard's POST .../events route.
func (r *Registry) SendEvent(ctx context.Context, component, instanceID string, evt types.Event) error {
	e, err := r.get(component)
	if err != nil {
		return err
	}
	return e.SendEvent(ctx, instanceID, evt)
}

// AllInstances returns copies of every active instance across every
// registered component, for the dashboard's /api/instances route.
func (r *Registry) AllInstances() map[string][]types.Instance {
	r.mu.RLock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make(map[string][]types.Instance, len(names))
	for _, name := range names {
		e, err := r.get(name)
		if err != nil {
			continue
		}
		out[name] = e.GetAllInstances()
	}
	return out
}

func (r *Registry) get(name string) (*engine.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.components[name]
	if !ok {
		return nil, types.New(types.ErrComponentNotFound, "registry: component "+name+" not registered")
	}
	return e, nil
}

// SendEventToComponent implements sender.CrossComponentRouter.
func (r *Registry) SendEventToComponent(ctx context.Context, component, instanceID, eventName string, payload map[string]interface{}) error {
	e, err := r.get(component)
	if err != nil {
		return err
	}
	return e.SendEvent(ctx, instanceID, types.Event{Name: eventName, Payload: payload})
}

// BroadcastToComponent implements sender.CrossComponentRouter.
func (r *Registry) BroadcastToComponent(ctx context.Context, component, machine, eventName string, payload map[string]interface{}) error {
	e, err := r.get(component)
	if err != nil {
		return err
	}
	return e.BroadcastEvent(ctx, machine, types.Event{Name: eventName, Payload: payload})
}

// CreateInstanceInComponent implements sender.CrossComponentRouter.
func (r *Registry) CreateInstanceInComponent(ctx context.Context, component, machine string, payload map[string]interface{}) (string, error) {
	e, err := r.get(component)
	if err != nil {
		return "", err
	}
	return e.CreateInstance(ctx, machine, payload)
}

// BroadcastToAll fans an event out to every registered component's
// matching machine, isolating per-component failures instead of
// aborting the whole broadcast.
func (r *Registry) BroadcastToAll(ctx context.Context, machine, eventName string, payload map[string]interface{}) map[string]error {
	r.mu.RLock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	errs := make(map[string]error)
	for _, name := range names {
		if err := r.BroadcastToComponent(ctx, name, machine, eventName, payload); err != nil {
			errs[name] = err
			r.logger.Warnf("broadcast_error: component %s: %v", name, err)
		}
	}
	return errs
}

// FindInstance locates which registered component currently holds
// instanceID.
func (r *Registry) FindInstance(instanceID string) (component string, inst types.Instance, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.components {
		if i, found := e.GetInstance(instanceID); found {
			return name, i, true
		}
	}
	return "", types.Instance{}, false
}

// GetAllPersistedEvents returns every persisted event across every
// registered component, for registry-wide audit/debug views.
func (r *Registry) GetAllPersistedEvents(ctx context.Context) (map[string][]types.PersistedEvent, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make(map[string][]types.PersistedEvent, len(names))
	for _, name := range names {
		e, err := r.get(name)
		if err != nil {
			continue
		}
		events, err := e.EventStore().All(ctx)
		if err != nil {
			return nil, err
		}
		out[name] = events
	}
	return out, nil
}

// GetInstanceHistory returns an instance's full persisted event history
// within its owning component.
func (r *Registry) GetInstanceHistory(ctx context.Context, component, instanceID string) ([]types.PersistedEvent, error) {
	e, err := r.get(component)
	if err != nil {
		return nil, err
	}
	return e.EventStore().ByInstance(ctx, instanceID)
}

// TraceEventAcrossComponents follows the causedBy chain of eventID
// across every registered component's event store, returning the full
// causal closure in no particular order.
func (r *Registry) TraceEventAcrossComponents(ctx context.Context, eventID string) ([]types.PersistedEvent, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	r.mu.RUnlock()

	var out []types.PersistedEvent
	queue := []string{eventID}
	seen := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, name := range names {
			e, err := r.get(name)
			if err != nil {
				continue
			}
			caused, err := e.EventStore().CausedBy(ctx, id)
			if err != nil {
				continue
			}
			for _, c := range caused {
				out = append(out, c)
				queue = append(queue, c.ID)
			}
		}
	}
	return out, nil
}
