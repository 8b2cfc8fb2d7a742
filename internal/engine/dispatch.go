package engine

import (
	"context"
	"time"

	"github.com/fluxorio/flowmesh/internal/enginebus"
	"github.com/fluxorio/flowmesh/internal/expr"
	"github.com/fluxorio/flowmesh/internal/metrics"
	"github.com/fluxorio/flowmesh/internal/timer"
	"github.com/fluxorio/flowmesh/internal/types"
)

// SendEvent routes evt to a specific instance, selects and commits a
// matching transition. Returns InstanceNotFound if id is unknown. A
// non-matching event emits event_unhandled and returns nil (not an
// error) — no transition out of the current state matched.
func (e *Engine) SendEvent(ctx context.Context, id string, evt types.Event) error {
	e.mu.RLock()
	inst, ok := e.instances[id]
	e.mu.RUnlock()
	if !ok {
		return types.New(types.ErrInstanceNotFound, "instance "+id+" not found in component "+e.name)
	}

	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the instance lock: disposal may have raced ahead of
	// the read above.
	e.mu.RLock()
	_, stillActive := e.instances[id]
	e.mu.RUnlock()
	if !stillActive {
		return types.New(types.ErrInstanceNotFound, "instance "+id+" already disposed")
	}

	return e.dispatch(ctx, inst, evt, "")
}

// BroadcastEvent sends evt to every active instance of machine in this
// component. Per-instance failures do not stop the broadcast; each is
// reported individually via broadcast_error.
func (e *Engine) BroadcastEvent(ctx context.Context, machine string, evt types.Event) error {
	if _, ok := e.machines[machine]; !ok {
		return types.New(types.ErrMachineNotFound, "machine "+machine+" not declared on component "+e.name)
	}
	for _, id := range e.instanceIDsFor(machine) {
		if err := e.SendEvent(ctx, id, evt); err != nil {
			e.metrics.IncBroadcastProcessed(e.name, machine, "error")
			e.bus.Publish(enginebus.Event{
				Topic:      enginebus.TopicBroadcastError,
				Component:  e.name,
				Machine:    machine,
				InstanceID: id,
				Err:        err,
			})
			continue
		}
		e.metrics.IncBroadcastProcessed(e.name, machine, "ok")
	}
	return nil
}

func (e *Engine) instanceIDsFor(machine string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0)
	for id, inst := range e.instances {
		if inst.Machine == machine {
			out = append(out, id)
		}
	}
	return out
}

// dispatch selects a transition for evt against inst (already locked by
// the caller) and, if one matches, commits it. causedBy names the
// persisted event ID that triggered this dispatch via a cascade, if any.
func (e *Engine) dispatch(ctx context.Context, inst *types.Instance, evt types.Event, causedBy string) error {
	cm := e.machines[inst.Machine]
	hooks := e.hooks[inst.Machine]

	tr, matched, err := e.selectTransition(ctx, cm, hooks, inst, evt)
	if err != nil {
		return err
	}
	if tr == nil {
		topic := enginebus.TopicEventUnhandled
		if matched {
			topic = enginebus.TopicGuardFailed
		}
		e.bus.Publish(enginebus.Event{
			Topic:      topic,
			Component:  e.name,
			Machine:    inst.Machine,
			InstanceID: inst.ID,
			Payload:    map[string]interface{}{"event": evt.Name, "currentState": inst.CurrentState},
		})
		return nil
	}

	return e.commit(ctx, cm, hooks, inst, *tr, evt, causedBy)
}

// commit runs the seven-step commit protocol: exit -> persist ->
// state update -> timer resync -> triggered -> entry -> cascades/dispose.
func (e *Engine) commit(ctx context.Context, cm *compiledMachine, hooks *Hooks, inst *types.Instance, tr types.Transition, evt types.Event, causedBy string) (err error) {
	ctx, endSpan := metrics.StartCommitSpan(ctx, e.name, inst.Machine, inst.ID, tr.Name)
	start := time.Now()
	defer func() {
		e.metrics.ObserveTransition(e.name, inst.Machine, tr.Name, time.Since(start))
		endSpan(err)
	}()

	ctx, selfSends := withSelfSendQueue(ctx)
	snd := e.senderFor(inst.ID)
	isInternal := tr.Kind == types.TransitionInternal
	isSelfLoop := tr.From == tr.To
	stateBefore := inst.CurrentState

	if !isInternal {
		if exit := hooks.exit(stateBefore); exit != nil {
			if err := exit(ctx, inst, snd); err != nil {
				e.emitHookError(inst, err)
			}
		}
	}

	stateAfter := stateBefore
	if !isInternal {
		stateAfter = tr.To
	}

	source := inst.PropertySource()
	payload := cloneMap(evt.Payload)

	stored, err := e.persist(ctx, types.PersistedEvent{
		InstanceID:  inst.ID,
		Component:   e.name,
		Machine:     inst.Machine,
		StateBefore: stateBefore,
		StateAfter:  stateAfter,
		Event:       evt.Name,
		Transition:  tr.Name,
		Payload:     payload,
		CausedBy:    causedBy,
	})
	if err != nil {
		// Roll back: the in-memory state was never mutated yet, so
		// there is nothing to undo beyond reporting the failure.
		return err
	}

	now := time.Now().UTC()
	inst.UpdatedAt = now
	if !isInternal {
		inst.CurrentState = stateAfter

		if isSelfLoop {
			e.resyncSelfLoopTimers(cm, inst, tr)
		} else {
			e.timerSvc.CancelState(inst.ID, stateBefore)
			e.armTimersForState(cm, inst, stateBefore)
		}
	}

	if triggered := hooks.triggered(tr.Name); triggered != nil {
		if err := triggered(ctx, inst, evt, snd); err != nil {
			e.emitHookError(inst, err)
		}
	}

	if !isInternal {
		e.bus.Publish(enginebus.Event{
			Topic:      enginebus.TopicStateChange,
			Component:  e.name,
			Machine:    inst.Machine,
			InstanceID: inst.ID,
			Payload: map[string]interface{}{
				"stateBefore": stateBefore,
				"stateAfter":  stateAfter,
				"event":       evt.Name,
				"transition":  tr.Name,
			},
		})

		if entry := hooks.entry(stateAfter); entry != nil {
			if err := entry(ctx, inst, snd); err != nil {
				e.emitHookError(inst, err)
			}
		}
	}

	e.maybeSnapshot(ctx, inst, stored.ID)

	if !isInternal {
		e.runCascades(ctx, cm, inst, source, stored.ID)
		e.runInterMachine(ctx, inst, tr, source)
	}

	// Self-sent events queued by hooks (sender.Sender.SendToSelf) are
	// dispatched now, after every hook for this transition has returned.
	// Delivering inline from within the hook would re-enter dispatch
	// while this instance's lock is already held by the caller.
	for _, queued := range *selfSends {
		if err := e.dispatch(ctx, inst, queued, ""); err != nil {
			e.emitHookError(inst, err)
		}
	}

	if !isInternal && cm.isTerminal(inst.CurrentState) {
		e.disposeInstance(inst)
	}

	return nil
}

// resyncSelfLoopTimers re-arms only the timeout/auto transitions whose
// ResetOnSelfLoop is true; the rest keep their original deadline running
// undisturbed.
func (e *Engine) resyncSelfLoopTimers(cm *compiledMachine, inst *types.Instance, fired types.Transition) {
	for _, spec := range cm.timersFor(inst.CurrentState) {
		if !spec.ResetOnSelfLoop {
			continue
		}
		kind := timerKind(spec.Kind)
		e.timerSvc.CancelOne(inst.ID, inst.CurrentState, kind, spec.Name)
		e.scheduleOne(inst, spec)
	}
}

func (e *Engine) armTimersForState(cm *compiledMachine, inst *types.Instance, _ string) {
	for _, spec := range cm.timersFor(inst.CurrentState) {
		e.scheduleOne(inst, spec)
	}
}

func (e *Engine) scheduleOne(inst *types.Instance, spec types.Transition) {
	e.timerSvc.Schedule(timer.Pending{
		InstanceID: inst.ID,
		Component:  e.name,
		Machine:    inst.Machine,
		State:      inst.CurrentState,
		Kind:       timerKind(spec.Kind),
		Transition: spec.Name,
		DueAt:      time.Now().UTC().Add(time.Duration(spec.TimeoutMs) * time.Millisecond),
	})
}

func timerKind(k types.TransitionKind) timer.Kind {
	if k == types.TransitionAuto {
		return timer.KindAuto
	}
	return timer.KindTimeout
}

// onTimerFire is invoked by the timer service (possibly from Resync, or
// from a live time.AfterFunc) when a pending timeout/auto transition
// elapses.
func (e *Engine) onTimerFire(p timer.Pending) {
	ctx := context.Background()
	e.mu.RLock()
	inst, ok := e.instances[p.InstanceID]
	e.mu.RUnlock()
	if !ok {
		return
	}

	lock := e.instanceLock(p.InstanceID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.RLock()
	_, stillActive := e.instances[p.InstanceID]
	e.mu.RUnlock()
	if !stillActive || inst.CurrentState != p.State {
		return
	}

	cm := e.machines[inst.Machine]
	hooks := e.hooks[inst.Machine]
	var tr *types.Transition
	for i := range cm.timersFor(p.State) {
		if cm.timersFor(p.State)[i].Name == p.Transition {
			tr = &cm.timersFor(p.State)[i]
			break
		}
	}
	if tr == nil {
		return
	}

	e.metrics.IncTimerFired(e.name, inst.Machine, string(p.Kind))
	evt := types.Event{Name: "__timer__:" + tr.Name, Timestamp: time.Now().UTC()}
	if err := e.commit(ctx, cm, hooks, inst, *tr, evt, ""); err != nil {
		e.logger.Errorf("timer-triggered commit failed for instance %s: %v", inst.ID, err)
	}
}

func (e *Engine) maybeSnapshot(ctx context.Context, inst *types.Instance, lastEventID string) {
	cm := e.machines[inst.Machine]
	if cm.def.SnapshotInterval <= 0 {
		return
	}
	e.mu.Lock()
	e.snapshotSeqs[inst.ID]++
	seq := e.snapshotSeqs[inst.ID]
	e.mu.Unlock()

	if seq%cm.def.SnapshotInterval != 0 {
		return
	}

	pending := e.timerSvc.PendingFor(inst.ID)
	timeouts := make([]types.PendingTimeout, len(pending))
	for i, p := range pending {
		timeouts[i] = types.PendingTimeout{State: p.State, Kind: p.Kind, Transition: p.Transition, DueAt: p.DueAt}
	}

	var publicMember map[string]interface{}
	if inst.PublicMember != nil {
		publicMember = cloneMap(inst.PublicMember)
	}

	_ = e.snapStore.Save(ctx, types.Snapshot{
		InstanceID:      inst.ID,
		State:           inst.CurrentState,
		Context:         cloneMap(inst.Context),
		PublicMember:    publicMember,
		Status:          inst.Status,
		EventSeq:        seq + 1, // committed transitions plus the instance_created event
		LastEventID:     lastEventID,
		PendingTimeouts: timeouts,
		SnapshotAt:      time.Now().UTC(),
	})
}

// runCascades fires every CascadeRule declared on the state inst just
// entered, projecting each rule's payload template against source and
// broadcasting to every instance of the target machine that matches
// the rule's optional TargetState/MatchRules filters.
func (e *Engine) runCascades(ctx context.Context, cm *compiledMachine, inst *types.Instance, source map[string]interface{}, causedByEventID string) {
	st, ok := cm.states[inst.CurrentState]
	if !ok {
		return
	}
	for _, c := range st.Cascades {
		payload := expr.Substitute(c.PayloadTemplate, source)
		evt := types.Event{Name: c.EventName, Payload: payload, Timestamp: time.Now().UTC()}

		machine := c.TargetMachine
		if machine == "" {
			machine = inst.Machine
		}
		e.fireCascadeLocal(ctx, machine, c, evt, causedByEventID, inst.ID)
	}
}

func (e *Engine) fireCascadeLocal(ctx context.Context, machine string, c types.CascadeRule, evt types.Event, causedBy, skipInstanceID string) {
	for _, id := range e.instanceIDsFor(machine) {
		if id == skipInstanceID {
			continue
		}
		if !e.cascadeMatches(machine, id, c, evt) {
			e.metrics.IncBroadcastProcessed(e.name, machine, "skipped")
			continue
		}
		e.metrics.IncBroadcastProcessed(e.name, machine, "matched")
		e.dispatchByID(ctx, id, evt, causedBy)
	}
}

func (e *Engine) cascadeMatches(machine, instanceID string, c types.CascadeRule, evt types.Event) bool {
	e.mu.RLock()
	target, ok := e.instances[instanceID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	if c.TargetState != "" && target.CurrentState != c.TargetState {
		return false
	}
	for _, rule := range c.MatchRules {
		hold, err := expr.EvalMatchRule(rule, evt.Payload, target.PropertySource())
		if err != nil || !hold {
			return false
		}
	}
	return true
}

func (e *Engine) dispatchByID(ctx context.Context, id string, evt types.Event, causedBy string) {
	e.mu.RLock()
	inst, ok := e.instances[id]
	e.mu.RUnlock()
	if !ok {
		return
	}
	lock := e.instanceLock(id)
	lock.Lock()
	defer lock.Unlock()
	e.mu.RLock()
	_, stillActive := e.instances[id]
	e.mu.RUnlock()
	if !stillActive {
		return
	}
	if err := e.dispatch(ctx, inst, evt, causedBy); err != nil {
		e.bus.Publish(enginebus.Event{
			Topic:      enginebus.TopicBroadcastError,
			Component:  e.name,
			Machine:    inst.Machine,
			InstanceID: id,
			Err:        err,
		})
	}
}

// runInterMachine creates or addresses the target instance of an
// inter_machine transition, projecting context via tr.ContextMapping.
func (e *Engine) runInterMachine(ctx context.Context, inst *types.Instance, tr types.Transition, source map[string]interface{}) {
	if tr.Kind != types.TransitionInterMachine || tr.InterMachineTarget == "" {
		return
	}
	projected := make(map[string]interface{}, len(tr.ContextMapping))
	for _, m := range tr.ContextMapping {
		if v, ok := expr.Lookup(source, m.SourcePath); ok {
			projected[m.TargetPath] = v
		}
	}

	if _, ok := e.machines[tr.InterMachineTarget]; ok {
		if _, err := e.CreateInstance(ctx, tr.InterMachineTarget, projected); err != nil {
			e.bus.Publish(enginebus.Event{
				Topic:      enginebus.TopicError,
				Component:  e.name,
				Machine:    tr.InterMachineTarget,
				InstanceID: inst.ID,
				Err:        err,
			})
		}
		return
	}

	router := e.currentRouter()
	if router == nil {
		e.bus.Publish(enginebus.Event{
			Topic:      enginebus.TopicError,
			Component:  e.name,
			Machine:    inst.Machine,
			InstanceID: inst.ID,
			Err:        types.New(types.ErrCrossComponentUnavail, "no registry attached: cannot address inter-machine target "+tr.InterMachineTarget),
		})
		return
	}
	if err := router.CreateInstanceInComponent(ctx, tr.InterMachineTarget, tr.InterMachineTarget, projected); err != nil {
		e.bus.Publish(enginebus.Event{
			Topic:      enginebus.TopicError,
			Component:  e.name,
			Machine:    inst.Machine,
			InstanceID: inst.ID,
			Err:        err,
		})
	}
}

// SimulatePath dry-runs a sequence of events against a scratch instance
// of machine without persisting anything, scheduling timers, or invoking
// hooks — it only exercises transition selection, returning the sequence
// of states visited. Useful for declaration validation and dashboards
// that want to preview a workflow.
func (e *Engine) SimulatePath(machine string, initialContext map[string]interface{}, events []types.Event) ([]string, error) {
	cm, ok := e.machines[machine]
	if !ok {
		return nil, types.New(types.ErrMachineNotFound, "machine "+machine+" not declared on component "+e.name)
	}
	hooks := e.hooks[machine]

	inst := &types.Instance{
		ID:           "simulated",
		Component:    e.name,
		Machine:      machine,
		CurrentState: cm.def.InitialState,
		Context:      cloneMap(initialContext),
		Status:       types.InstanceActive,
	}
	path := []string{inst.CurrentState}
	ctx := context.Background()

	for _, evt := range events {
		tr, _, err := e.selectTransition(ctx, cm, hooks, inst, evt)
		if err != nil {
			return path, err
		}
		if tr == nil {
			continue
		}
		if tr.Kind != types.TransitionInternal {
			inst.CurrentState = tr.To
			path = append(path, inst.CurrentState)
		}
		if cm.isTerminal(inst.CurrentState) {
			break
		}
	}
	return path, nil
}
