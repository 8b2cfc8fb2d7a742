// Package memstore is the in-memory EventStore/SnapshotStore driver: the
// zero-config default and the backing used by the engine's own test
// suite. It keeps the teacher's appendlog contract (monotonic offsets,
// fail fast once closed) but stores typed PersistedEvent records instead
// of opaque byte records.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxorio/flowmesh/internal/persistence"
	"github.com/fluxorio/flowmesh/internal/types"
)

type eventStore struct {
	mu     sync.RWMutex
	closed bool
	events []types.PersistedEvent
	byID   map[string]int
}

// NewEventStore returns an in-memory EventStore.
func NewEventStore() persistence.EventStore {
	return &eventStore{byID: make(map[string]int)}
}

func (s *eventStore) Append(_ context.Context, evt types.PersistedEvent) (types.PersistedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.PersistedEvent{}, persistence.ErrClosed
	}
	if evt.InstanceID == "" {
		return types.PersistedEvent{}, persistence.ErrInvalidEvent
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.PersistedAt.IsZero() {
		evt.PersistedAt = time.Now().UTC()
	}
	s.byID[evt.ID] = len(s.events)
	s.events = append(s.events, evt)
	return evt, nil
}

func (s *eventStore) ByInstance(_ context.Context, instanceID string) ([]types.PersistedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PersistedEvent, 0)
	for _, e := range s.events {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *eventStore) ByTimeRange(_ context.Context, from, to time.Time) ([]types.PersistedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PersistedEvent, 0)
	for _, e := range s.events {
		if !e.PersistedAt.Before(from) && e.PersistedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *eventStore) CausedBy(_ context.Context, eventID string) ([]types.PersistedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PersistedEvent, 0)
	for _, e := range s.events {
		if e.CausedBy == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *eventStore) All(_ context.Context) ([]types.PersistedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PersistedEvent, len(s.events))
	copy(out, s.events)
	return out, nil
}

func (s *eventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type snapshotStore struct {
	mu    sync.RWMutex
	byID  map[string]types.Snapshot
}

// NewSnapshotStore returns an in-memory SnapshotStore.
func NewSnapshotStore() persistence.SnapshotStore {
	return &snapshotStore{byID: make(map[string]types.Snapshot)}
}

func (s *snapshotStore) Save(_ context.Context, snap types.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.SnapshotAt.IsZero() {
		snap.SnapshotAt = time.Now().UTC()
	}
	s.byID[snap.InstanceID] = snap
	return nil
}

func (s *snapshotStore) Get(_ context.Context, instanceID string) (types.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[instanceID]
	return snap, ok, nil
}

func (s *snapshotStore) All(_ context.Context) ([]types.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Snapshot, 0, len(s.byID))
	for _, snap := range s.byID {
		out = append(out, snap)
	}
	return out, nil
}

func (s *snapshotStore) Delete(_ context.Context, instanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, instanceID)
	return nil
}

func (s *snapshotStore) Close() error { return nil }
