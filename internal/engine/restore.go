package engine

import (
	"context"
	"time"

	"github.com/fluxorio/flowmesh/internal/timer"
	"github.com/fluxorio/flowmesh/internal/types"
)

// Restore rebuilds the instances map from the persistence layer: each
// instance is folded from its latest Snapshot (if any) plus every event
// persisted after that snapshot's EventSeq, then entirely from scratch
// for instances with no snapshot. Pending timeout/auto timers are
// resynced against each restored instance's current state, classifying
// timers whose deadline already passed as expired (fired immediately)
// and the rest as synced (rescheduled).
func (e *Engine) Restore(ctx context.Context) (timer.ResyncResult, error) {
	snapshots, err := e.snapStore.All(ctx)
	if err != nil {
		return timer.ResyncResult{}, types.Wrap(types.ErrPersistence, "restore: failed to load snapshots", err)
	}
	snapByInstance := make(map[string]types.Snapshot, len(snapshots))
	for _, s := range snapshots {
		snapByInstance[s.InstanceID] = s
	}

	all, err := e.eventStore.All(ctx)
	if err != nil {
		return timer.ResyncResult{}, types.Wrap(types.ErrPersistence, "restore: failed to load events", err)
	}
	byInstance := make(map[string][]types.PersistedEvent)
	for _, ev := range all {
		byInstance[ev.InstanceID] = append(byInstance[ev.InstanceID], ev)
	}

	e.mu.Lock()
	e.instances = make(map[string]*types.Instance)
	e.mu.Unlock()

	var pending []timer.Pending
	now := time.Now().UTC()

	for instanceID, events := range byInstance {
		if len(events) == 0 {
			continue
		}
		machine := events[0].Machine
		cm, ok := e.machines[machine]
		if !ok {
			e.logger.Warnf("restore: instance %s references unknown machine %s, skipping", instanceID, machine)
			continue
		}

		inst := &types.Instance{
			ID:        instanceID,
			Component: e.name,
			Machine:   machine,
			Status:    types.InstanceActive,
		}

		startIdx := 0
		snap, hasSnap := snapByInstance[instanceID]
		if hasSnap {
			inst.CurrentState = snap.State
			inst.Context = cloneMap(snap.Context)
			if snap.PublicMember != nil {
				inst.PublicMember = cloneMap(snap.PublicMember)
			}
			inst.Status = snap.Status
			inst.CreatedAt = snap.SnapshotAt
			inst.UpdatedAt = snap.SnapshotAt
			startIdx = snap.EventSeq
		} else {
			inst.CurrentState = cm.def.InitialState
			inst.Context = make(map[string]interface{})
		}

		replayed := startIdx < len(events)
		for i := startIdx; i < len(events); i++ {
			ev := events[i]
			inst.CurrentState = ev.StateAfter
			inst.UpdatedAt = ev.PersistedAt
			if inst.CreatedAt.IsZero() {
				inst.CreatedAt = ev.PersistedAt
			}
		}

		if cm.isTerminal(inst.CurrentState) {
			continue
		}

		e.mu.Lock()
		e.instances[instanceID] = inst
		e.snapshotSeqs[instanceID] = len(events) - 1
		e.mu.Unlock()

		// A snapshot's pendingTimeouts describe the timers armed for
		// snap.State; they're only used when no event was persisted after
		// the snapshot. Otherwise fall back to recomputing
		// timers for the (possibly new) current state from the machine
		// declaration.
		if hasSnap && !replayed {
			for _, pt := range snap.PendingTimeouts {
				pending = append(pending, timer.Pending{
					InstanceID: instanceID,
					Component:  e.name,
					Machine:    machine,
					State:      pt.State,
					Kind:       pt.Kind,
					Transition: pt.Transition,
					DueAt:      pt.DueAt,
				})
			}
			continue
		}

		for _, spec := range cm.timersFor(inst.CurrentState) {
			dueAt := inst.UpdatedAt.Add(time.Duration(spec.TimeoutMs) * time.Millisecond)
			pending = append(pending, timer.Pending{
				InstanceID: instanceID,
				Component:  e.name,
				Machine:    machine,
				State:      inst.CurrentState,
				Kind:       timerKind(spec.Kind),
				Transition: spec.Name,
				DueAt:      dueAt,
			})
		}
	}

	result := e.timerSvc.Resync(pending, now)
	return result, nil
}
