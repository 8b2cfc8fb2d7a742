package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fluxorio/flowmesh/internal/persistence"
	"github.com/fluxorio/flowmesh/internal/types"
)

// dialect abstracts the two placeholder styles flowmesh's supported
// drivers use: "$1, $2, ..." for postgres (lib/pq, pgx/stdlib) and "?"
// repeated for sqlite3.
type dialect struct {
	numberedPlaceholders bool
}

func dialectFor(driverName string) dialect {
	switch driverName {
	case "postgres", "pgx":
		return dialect{numberedPlaceholders: true}
	default:
		return dialect{numberedPlaceholders: false}
	}
}

func (d dialect) ph(n int) string {
	if d.numberedPlaceholders {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Store is a relational EventStore + SnapshotStore pair sharing one Pool.
type Store struct {
	pool *Pool
	dia  dialect
}

// OpenStore opens a pool and ensures the fsm_events/fsm_snapshots schema
// exists.
func OpenStore(config PoolConfig) (*Store, error) {
	pool, err := Open(config)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool, dia: dialectFor(config.DriverName)}
	if err := s.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fsm_events (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			component TEXT NOT NULL,
			machine TEXT NOT NULL,
			state_before TEXT NOT NULL,
			state_after TEXT NOT NULL,
			event TEXT,
			transition TEXT,
			payload TEXT,
			caused_by TEXT,
			persisted_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS fsm_events_instance_idx ON fsm_events(instance_id)`,
		`CREATE INDEX IF NOT EXISTS fsm_events_persisted_at_idx ON fsm_events(persisted_at)`,
		`CREATE INDEX IF NOT EXISTS fsm_events_caused_by_idx ON fsm_events(caused_by)`,
		`CREATE TABLE IF NOT EXISTS fsm_snapshots (
			instance_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			context TEXT NOT NULL,
			event_seq INTEGER NOT NULL,
			snapshot_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.DB().ExecContext(ctx, stmt); err != nil {
			return types.Wrap(types.ErrPersistence, "sqlstore: migration failed", err)
		}
	}
	return nil
}

// EventStore returns the EventStore view of this Store.
func (s *Store) EventStore() persistence.EventStore { return (*eventStoreSQL)(s) }

// SnapshotStore returns the SnapshotStore view of this Store.
func (s *Store) SnapshotStore() persistence.SnapshotStore { return (*snapshotStoreSQL)(s) }

func (s *Store) Close() error { return s.pool.Close() }

type eventStoreSQL Store

func (s *eventStoreSQL) Append(ctx context.Context, evt types.PersistedEvent) (types.PersistedEvent, error) {
	if evt.InstanceID == "" {
		return types.PersistedEvent{}, persistence.ErrInvalidEvent
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.PersistedAt.IsZero() {
		evt.PersistedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return types.PersistedEvent{}, types.Wrap(types.ErrPersistence, "sqlstore: payload encode failed", err)
	}

	q := fmt.Sprintf(`INSERT INTO fsm_events
		(id, instance_id, component, machine, state_before, state_after, event, transition, payload, caused_by, persisted_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.dia.ph(1), s.dia.ph(2), s.dia.ph(3), s.dia.ph(4), s.dia.ph(5),
		s.dia.ph(6), s.dia.ph(7), s.dia.ph(8), s.dia.ph(9), s.dia.ph(10), s.dia.ph(11))

	_, err = s.pool.DB().ExecContext(ctx, q,
		evt.ID, evt.InstanceID, evt.Component, evt.Machine, evt.StateBefore, evt.StateAfter,
		evt.Event, evt.Transition, string(payload), evt.CausedBy, evt.PersistedAt)
	if err != nil {
		return types.PersistedEvent{}, types.Wrap(types.ErrPersistence, "sqlstore: append failed", err)
	}
	return evt, nil
}

func (s *eventStoreSQL) query(ctx context.Context, where string, args ...interface{}) ([]types.PersistedEvent, error) {
	q := `SELECT id, instance_id, component, machine, state_before, state_after, event, transition, payload, caused_by, persisted_at
		FROM fsm_events` + where + ` ORDER BY persisted_at ASC`
	rows, err := s.pool.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, types.Wrap(types.ErrPersistence, "sqlstore: query failed", err)
	}
	defer rows.Close()

	var out []types.PersistedEvent
	for rows.Next() {
		var e types.PersistedEvent
		var payload string
		var event, transition, causedBy sql.NullString
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Component, &e.Machine, &e.StateBefore, &e.StateAfter,
			&event, &transition, &payload, &causedBy, &e.PersistedAt); err != nil {
			return nil, types.Wrap(types.ErrPersistence, "sqlstore: scan failed", err)
		}
		e.Event = event.String
		e.Transition = transition.String
		e.CausedBy = causedBy.String
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *eventStoreSQL) ByInstance(ctx context.Context, instanceID string) ([]types.PersistedEvent, error) {
	return s.query(ctx, ` WHERE instance_id = `+s.dia.ph(1), instanceID)
}

func (s *eventStoreSQL) ByTimeRange(ctx context.Context, from, to time.Time) ([]types.PersistedEvent, error) {
	return s.query(ctx, fmt.Sprintf(` WHERE persisted_at >= %s AND persisted_at < %s`, s.dia.ph(1), s.dia.ph(2)), from, to)
}

func (s *eventStoreSQL) CausedBy(ctx context.Context, eventID string) ([]types.PersistedEvent, error) {
	return s.query(ctx, ` WHERE caused_by = `+s.dia.ph(1), eventID)
}

func (s *eventStoreSQL) All(ctx context.Context) ([]types.PersistedEvent, error) {
	return s.query(ctx, "")
}

func (s *eventStoreSQL) Close() error { return nil }

type snapshotStoreSQL Store

func (s *snapshotStoreSQL) Save(ctx context.Context, snap types.Snapshot) error {
	if snap.SnapshotAt.IsZero() {
		snap.SnapshotAt = time.Now().UTC()
	}
	context, err := json.Marshal(snap.Context)
	if err != nil {
		return types.Wrap(types.ErrPersistence, "sqlstore: context encode failed", err)
	}

	var q string
	switch {
	case s.dia.numberedPlaceholders:
		q = `INSERT INTO fsm_snapshots (instance_id, state, context, event_seq, snapshot_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (instance_id) DO UPDATE SET state = $2, context = $3, event_seq = $4, snapshot_at = $5`
	default:
		q = `INSERT INTO fsm_snapshots (instance_id, state, context, event_seq, snapshot_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (instance_id) DO UPDATE SET state = excluded.state, context = excluded.context,
				event_seq = excluded.event_seq, snapshot_at = excluded.snapshot_at`
	}

	_, err = s.pool.DB().ExecContext(ctx, q, snap.InstanceID, snap.State, string(context), snap.EventSeq, snap.SnapshotAt)
	if err != nil {
		return types.Wrap(types.ErrPersistence, "sqlstore: snapshot save failed", err)
	}
	return nil
}

func (s *snapshotStoreSQL) Get(ctx context.Context, instanceID string) (types.Snapshot, bool, error) {
	q := `SELECT instance_id, state, context, event_seq, snapshot_at FROM fsm_snapshots WHERE instance_id = ` + s.dia.ph(1)
	row := s.pool.DB().QueryRowContext(ctx, q, instanceID)
	var snap types.Snapshot
	var ctxJSON string
	if err := row.Scan(&snap.InstanceID, &snap.State, &ctxJSON, &snap.EventSeq, &snap.SnapshotAt); err != nil {
		if err == sql.ErrNoRows {
			return types.Snapshot{}, false, nil
		}
		return types.Snapshot{}, false, types.Wrap(types.ErrPersistence, "sqlstore: snapshot get failed", err)
	}
	_ = json.Unmarshal([]byte(ctxJSON), &snap.Context)
	return snap, true, nil
}

func (s *snapshotStoreSQL) All(ctx context.Context) ([]types.Snapshot, error) {
	rows, err := s.pool.DB().QueryContext(ctx, `SELECT instance_id, state, context, event_seq, snapshot_at FROM fsm_snapshots`)
	if err != nil {
		return nil, types.Wrap(types.ErrPersistence, "sqlstore: snapshot list failed", err)
	}
	defer rows.Close()

	var out []types.Snapshot
	for rows.Next() {
		var snap types.Snapshot
		var ctxJSON string
		if err := rows.Scan(&snap.InstanceID, &snap.State, &ctxJSON, &snap.EventSeq, &snap.SnapshotAt); err != nil {
			return nil, types.Wrap(types.ErrPersistence, "sqlstore: snapshot scan failed", err)
		}
		_ = json.Unmarshal([]byte(ctxJSON), &snap.Context)
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *snapshotStoreSQL) Delete(ctx context.Context, instanceID string) error {
	_, err := s.pool.DB().ExecContext(ctx, `DELETE FROM fsm_snapshots WHERE instance_id = `+s.dia.ph(1), instanceID)
	if err != nil {
		return types.Wrap(types.ErrPersistence, "sqlstore: snapshot delete failed", err)
	}
	return nil
}

func (s *snapshotStoreSQL) Close() error { return nil }
