// Package engine implements the FSM execution engine: instance
// lifecycle, transition selection and commit, cascading rules,
// inter-machine transitions, and simulation — the hard core of the
// runtime.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxorio/flowmesh/internal/corelog"
	"github.com/fluxorio/flowmesh/internal/enginebus"
	"github.com/fluxorio/flowmesh/internal/metrics"
	"github.com/fluxorio/flowmesh/internal/persistence"
	"github.com/fluxorio/flowmesh/internal/persistence/memstore"
	"github.com/fluxorio/flowmesh/internal/sender"
	"github.com/fluxorio/flowmesh/internal/timer"
	"github.com/fluxorio/flowmesh/internal/types"
)

// Engine runs every StateMachine declared by one Component.
type Engine struct {
	component types.Component
	name      string

	machines map[string]*compiledMachine
	hooks    map[string]*Hooks

	mu        sync.RWMutex
	instances map[string]*types.Instance
	instLocks sync.Map // instanceID -> *sync.Mutex

	eventStore persistence.EventStore
	snapStore  persistence.SnapshotStore

	timerSvc *timer.Service
	bus      enginebus.Bus
	logger   corelog.Logger
	metrics  metrics.Recorder

	router       sender.CrossComponentRouter
	routerMu     sync.RWMutex
	snapshotSeqs map[string]int
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the default logger.
func WithLogger(l corelog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithEventStore overrides the default in-memory EventStore.
func WithEventStore(s persistence.EventStore) Option { return func(e *Engine) { e.eventStore = s } }

// WithSnapshotStore overrides the default in-memory SnapshotStore.
func WithSnapshotStore(s persistence.SnapshotStore) Option {
	return func(e *Engine) { e.snapStore = s }
}

// WithBus overrides the default in-process engine event bus.
func WithBus(b enginebus.Bus) Option { return func(e *Engine) { e.bus = b } }

// WithMetrics attaches a metrics.Recorder; defaults to metrics.Noop().
func WithMetrics(r metrics.Recorder) Option { return func(e *Engine) { e.metrics = r } }

// New compiles component's state machines and returns a ready Engine.
// Declaration errors (empty names, dangling state/transition references,
// duplicate machine names) are returned immediately — they never surface
// later as a runtime failure.
func New(component types.Component, opts ...Option) (*Engine, error) {
	if component.Name == "" {
		return nil, types.New(types.ErrDeclaration, "component name cannot be empty")
	}
	if len(component.StateMachines) == 0 {
		return nil, types.New(types.ErrDeclaration, "component "+component.Name+" declares no state machines")
	}

	e := &Engine{
		component:    component,
		name:         component.Name,
		machines:     make(map[string]*compiledMachine),
		hooks:        make(map[string]*Hooks),
		instances:    make(map[string]*types.Instance),
		eventStore:   memstore.NewEventStore(),
		snapStore:    memstore.NewSnapshotStore(),
		bus:          enginebus.New(),
		logger:       corelog.NewDefault(),
		metrics:      metrics.Noop(),
		snapshotSeqs: make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, sm := range component.StateMachines {
		if _, dup := e.machines[sm.Name]; dup {
			return nil, types.New(types.ErrDeclaration, "component "+component.Name+": duplicate state machine "+sm.Name)
		}
		cm, err := compile(sm)
		if err != nil {
			return nil, err
		}
		e.machines[sm.Name] = cm
		e.hooks[sm.Name] = NewHooks()
	}

	e.timerSvc = timer.New(e.logger, e.onTimerFire)
	return e, nil
}

// Name returns the owning component's name.
func (e *Engine) Name() string { return e.name }

// Component returns the declaration this Engine was compiled from, for
// introspection views (dashboard, registry listings).
func (e *Engine) Component() types.Component { return e.component }

// Bus returns the engine's event bus, for subscribers such as the
// broadcaster, metrics collector, and dashboard stream.
func (e *Engine) Bus() enginebus.Bus { return e.bus }

// EventStore returns the engine's append-only event store, for registry
// tracing and dashboard history views.
func (e *Engine) EventStore() persistence.EventStore { return e.eventStore }

// SubscribeEngineEvents registers h for every engine bus event, flattened
// to the (topic, machine, instanceID, payload) shape a broker.Broadcaster
// needs to mirror events outward without importing enginebus itself.
// Satisfies the broker.Source interface by structural typing.
func (e *Engine) SubscribeEngineEvents(h func(topic, machine, instanceID string, payload map[string]interface{})) {
	e.bus.SubscribeAll(func(evt enginebus.Event) {
		h(string(evt.Topic), evt.Machine, evt.InstanceID, evt.Payload)
	})
}

// RegisterHooks attaches entry/exit/triggered hooks and custom guard
// functions for one declared machine.
func (e *Engine) RegisterHooks(machine string, h *Hooks) error {
	if _, ok := e.machines[machine]; !ok {
		return types.New(types.ErrMachineNotFound, "machine "+machine+" not declared on component "+e.name)
	}
	e.hooks[machine] = h
	return nil
}

// SetRouter injects the cross-component router (normally the component
// registry) after construction, resolving the engine<->registry cyclic
// reference.
func (e *Engine) SetRouter(r sender.CrossComponentRouter) {
	e.routerMu.Lock()
	defer e.routerMu.Unlock()
	e.router = r
}

func (e *Engine) currentRouter() sender.CrossComponentRouter {
	e.routerMu.RLock()
	defer e.routerMu.RUnlock()
	return e.router
}

func (e *Engine) instanceLock(id string) *sync.Mutex {
	v, _ := e.instLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// GetInstance returns a copy of an instance's current state.
func (e *Engine) GetInstance(id string) (types.Instance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.instances[id]
	if !ok {
		return types.Instance{}, false
	}
	return *inst, true
}

// GetInstancesByMachine returns copies of every active instance of
// machine.
func (e *Engine) GetInstancesByMachine(machine string) []types.Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Instance, 0)
	for _, inst := range e.instances {
		if inst.Machine == machine {
			out = append(out, *inst)
		}
	}
	return out
}

// GetAllInstances returns copies of every active instance.
func (e *Engine) GetAllInstances() []types.Instance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.Instance, 0, len(e.instances))
	for _, inst := range e.instances {
		out = append(out, *inst)
	}
	return out
}

// CreateInstance instantiates machine with the given initial context,
// runs the initial state's entry hook, and persists the instance_created
// event.
func (e *Engine) CreateInstance(ctx context.Context, machine string, initialContext map[string]interface{}) (string, error) {
	cm, ok := e.machines[machine]
	if !ok {
		return "", types.New(types.ErrMachineNotFound, "machine "+machine+" not declared on component "+e.name)
	}

	now := time.Now().UTC()
	inst := &types.Instance{
		ID:           uuid.NewString(),
		Component:    e.name,
		Machine:      machine,
		CurrentState: cm.def.InitialState,
		Status:       types.InstanceActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// A declared publicMemberType means matching rules and guards read
	// from publicMember instead of context; seed whichever one the
	// machine declares from the caller's initial payload.
	if cm.def.PublicMemberType != "" {
		inst.PublicMember = cloneMap(initialContext)
	} else {
		inst.Context = cloneMap(initialContext)
	}

	e.mu.Lock()
	e.instances[inst.ID] = inst
	e.mu.Unlock()

	lock := e.instanceLock(inst.ID)
	lock.Lock()
	defer lock.Unlock()

	ctx, selfSends := withSelfSendQueue(ctx)
	hooks := e.hooks[machine]
	snd := e.senderFor(inst.ID)

	stored, err := e.persist(ctx, types.PersistedEvent{
		InstanceID:  inst.ID,
		Component:   e.name,
		Machine:     machine,
		StateBefore: "",
		StateAfter:  inst.CurrentState,
		PersistedAt: now,
	})
	if err != nil {
		e.mu.Lock()
		delete(e.instances, inst.ID)
		e.mu.Unlock()
		return "", err
	}

	e.bus.Publish(enginebus.Event{
		Topic:      enginebus.TopicInstanceCreated,
		Component:  e.name,
		Machine:    machine,
		InstanceID: inst.ID,
		Payload:    map[string]interface{}{"currentState": inst.CurrentState},
	})

	if entry := hooks.entry(inst.CurrentState); entry != nil {
		if err := entry(ctx, inst, snd); err != nil {
			e.emitHookError(inst, err)
		}
	}

	e.armTimersForState(cm, inst, "")
	e.runCascades(ctx, cm, inst, inst.PropertySource(), stored.ID)

	for _, queued := range *selfSends {
		if err := e.dispatch(ctx, inst, queued, ""); err != nil {
			e.emitHookError(inst, err)
		}
	}

	if cm.isTerminal(inst.CurrentState) {
		e.disposeInstance(inst)
	}

	return inst.ID, nil
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (e *Engine) persist(ctx context.Context, evt types.PersistedEvent) (types.PersistedEvent, error) {
	stored, err := e.eventStore.Append(ctx, evt)
	if err != nil {
		e.bus.Publish(enginebus.Event{
			Topic:      enginebus.TopicError,
			Component:  e.name,
			Machine:    evt.Machine,
			InstanceID: evt.InstanceID,
			Err:        err,
		})
		return types.PersistedEvent{}, types.Wrap(types.ErrPersistence, "failed to persist event", err)
	}
	e.metrics.IncPersistAppend(e.name, evt.Machine)
	return stored, nil
}

func (e *Engine) emitHookError(inst *types.Instance, err error) {
	e.bus.Publish(enginebus.Event{
		Topic:      enginebus.TopicHookError,
		Component:  e.name,
		Machine:    inst.Machine,
		InstanceID: inst.ID,
		Err:        err,
	})
}

func (e *Engine) disposeInstance(inst *types.Instance) {
	e.mu.Lock()
	inst.Status = types.InstanceDisposed
	delete(e.instances, inst.ID)
	e.mu.Unlock()

	e.timerSvc.CancelInstance(inst.ID)
	e.instLocks.Delete(inst.ID)

	e.bus.Publish(enginebus.Event{
		Topic:      enginebus.TopicInstanceDisposed,
		Component:  e.name,
		Machine:    inst.Machine,
		InstanceID: inst.ID,
		Payload:    map[string]interface{}{"finalState": inst.CurrentState},
	})
}
