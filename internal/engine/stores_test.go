package engine

import (
	"github.com/fluxorio/flowmesh/internal/persistence"
	"github.com/fluxorio/flowmesh/internal/persistence/memstore"
)

type sharedStores struct {
	events persistence.EventStore
	snaps  persistence.SnapshotStore
}

func newSharedStores() sharedStores {
	return sharedStores{events: memstore.NewEventStore(), snaps: memstore.NewSnapshotStore()}
}
