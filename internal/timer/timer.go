// Package timer implements the per-instance-per-kind pending timer table
// backing timeout and auto transitions. Timers armed by Schedule fire
// asynchronously (via time.AfterFunc, never inline with the caller that
// armed them) so a transition's own commit always completes before any
// timer it schedules can fire. Resync is the exception: it fires
// already-expired restored timers synchronously, before it returns.
package timer

import (
	"sync"
	"time"

	"github.com/fluxorio/flowmesh/internal/corelog"
)

// Kind distinguishes the two transition flavors the timer service backs.
type Kind string

const (
	KindTimeout Kind = "timeout"
	KindAuto    Kind = "auto"
)

// Pending describes one armed timer.
type Pending struct {
	InstanceID string
	Component  string
	Machine    string
	State      string
	Kind       Kind
	Transition string
	DueAt      time.Time
}

type key struct {
	instanceID string
	state      string
	kind       Kind
	transition string
}

// FireFunc is invoked when a Pending timer elapses or is classified
// "expired" during Resync.
type FireFunc func(p Pending)

// Service manages the pending-timer table for one engine.
type Service struct {
	mu      sync.Mutex
	timers  map[key]*time.Timer
	pending map[key]Pending
	fire    FireFunc
	logger  corelog.Logger
}

// New constructs a Service. fire is invoked (off the scheduling
// goroutine) whenever a timer elapses.
func New(logger corelog.Logger, fire FireFunc) *Service {
	if logger == nil {
		logger = corelog.NewDefault()
	}
	return &Service{
		timers:  make(map[key]*time.Timer),
		pending: make(map[key]Pending),
		fire:    fire,
		logger:  logger,
	}
}

func keyOf(p Pending) key {
	return key{instanceID: p.InstanceID, state: p.State, kind: p.Kind, transition: p.Transition}
}

// Schedule arms (or rearms) a timer for p, due at p.DueAt.
func (s *Service) Schedule(p Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(keyOf(p))

	k := keyOf(p)
	delay := time.Until(p.DueAt)
	if delay < 0 {
		delay = 0
	}
	s.pending[k] = p
	s.timers[k] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, stillPending := s.pending[k]
		delete(s.pending, k)
		delete(s.timers, k)
		s.mu.Unlock()
		if stillPending && s.fire != nil {
			s.fire(p)
		}
	})
}

// CancelState cancels every timer armed for (instanceID, state) — called
// whenever the instance exits that state, regular transitions included.
func (s *Service) CancelState(instanceID, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.pending {
		if k.instanceID == instanceID && k.state == state {
			s.cancelLocked(k)
		}
	}
}

// CancelOne cancels a single specific timer, used when a self-loop
// re-arms a timer whose ResetOnSelfLoop is true while the rest of the
// state's timers are left running.
func (s *Service) CancelOne(instanceID, state string, kind Kind, transition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(key{instanceID: instanceID, state: state, kind: kind, transition: transition})
}

// HasPending reports whether a specific timer is currently armed.
func (s *Service) HasPending(instanceID, state string, kind Kind, transition string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key{instanceID: instanceID, state: state, kind: kind, transition: transition}]
	return ok
}

// PendingFor returns every timer currently armed for instanceID, for
// snapshotting.
func (s *Service) PendingFor(instanceID string) []Pending {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Pending
	for k, p := range s.pending {
		if k.instanceID == instanceID {
			out = append(out, p)
		}
	}
	return out
}

// CancelInstance cancels every timer armed for instanceID, used on
// disposal.
func (s *Service) CancelInstance(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.pending {
		if k.instanceID == instanceID {
			s.cancelLocked(k)
		}
	}
}

func (s *Service) cancelLocked(k key) {
	if t, ok := s.timers[k]; ok {
		t.Stop()
		delete(s.timers, k)
	}
	delete(s.pending, k)
}

// ResyncResult reports how a restart-time resync classified the restored
// pending timers.
type ResyncResult struct {
	Expired int
	Synced  int
}

// Resync re-arms a set of Pending timers restored from persistence at
// process restart. Entries whose DueAt has already passed are classified
// "expired" and fired immediately (synchronously, before Resync
// returns); the rest are classified "synced" and rescheduled normally.
func (s *Service) Resync(restored []Pending, now time.Time) ResyncResult {
	var res ResyncResult
	for _, p := range restored {
		if !p.DueAt.After(now) {
			res.Expired++
			if s.fire != nil {
				s.fire(p)
			}
			continue
		}
		res.Synced++
		s.Schedule(p)
	}
	return res
}
