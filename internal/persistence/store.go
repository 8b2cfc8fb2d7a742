// Package persistence defines the event-sourced storage contract the
// engine commits through: an append-only EventStore plus a SnapshotStore
// used to bound restore replay length.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/fluxorio/flowmesh/internal/types"
)

// Sentinel errors mirroring the teacher's appendlog contract, adapted
// from a byte-log to a typed event log.
var (
	ErrClosed       = errors.New("persistence: store closed")
	ErrInvalidEvent = errors.New("persistence: invalid event")
	ErrBackpressure = errors.New("persistence: append backpressure, buffer full")
)

// EventStore is the append-only log of committed PersistedEvent records.
type EventStore interface {
	// Append assigns the event an ID (if unset) and PersistedAt (if
	// zero), stores it, and returns the stored copy.
	Append(ctx context.Context, evt types.PersistedEvent) (types.PersistedEvent, error)
	// ByInstance returns every event for instanceID in append order.
	ByInstance(ctx context.Context, instanceID string) ([]types.PersistedEvent, error)
	// ByTimeRange returns every event persisted in [from, to).
	ByTimeRange(ctx context.Context, from, to time.Time) ([]types.PersistedEvent, error)
	// CausedBy returns every event whose CausedBy equals eventID.
	CausedBy(ctx context.Context, eventID string) ([]types.PersistedEvent, error)
	// All returns every event in append order, for registry-wide tracing.
	All(ctx context.Context) ([]types.PersistedEvent, error)
	Close() error
}

// SnapshotStore stores the most recent Snapshot per instance.
type SnapshotStore interface {
	Save(ctx context.Context, snap types.Snapshot) error
	Get(ctx context.Context, instanceID string) (types.Snapshot, bool, error)
	All(ctx context.Context) ([]types.Snapshot, error)
	Delete(ctx context.Context, instanceID string) error
	Close() error
}
