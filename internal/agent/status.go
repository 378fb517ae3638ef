package agent

import (
	"sync"
	"time"
)

// State is the coarse availability of an agent.
type State string

const (
	StateIdle        State = "idle"
	StateBusy        State = "busy"
	StateError       State = "error"
	StateUnreachable State = "unreachable"
)

// AgentStatus is a point-in-time view of one agent.
type AgentStatus struct {
	Name          string    `json:"name"`
	State         State     `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Counters are the running totals reported by GET /status.
type Counters struct {
	InFlight  int    `json:"in_flight"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// tracker owns an agent's status. Only the owning Service writes to it.
// The error state holds until cooldown has elapsed since the last failure.
type tracker struct {
	mu         sync.Mutex
	name       string
	cooldown   time.Duration
	now        func() time.Time
	counters   Counters
	errorUntil time.Time
	heartbeat  time.Time
	reported   State
}

func newTracker(name string, cooldown time.Duration) *tracker {
	t := &tracker{name: name, cooldown: cooldown, now: time.Now}
	t.heartbeat = t.now()
	t.reported = StateIdle
	return t
}

func (t *tracker) stateLocked() State {
	switch {
	case t.counters.InFlight > 0:
		return StateBusy
	case t.now().Before(t.errorUntil):
		return StateError
	default:
		return StateIdle
	}
}

// changedLocked returns the current state and whether it differs from the
// last one returned.
func (t *tracker) changedLocked() (State, bool) {
	s := t.stateLocked()
	if s == t.reported {
		return s, false
	}
	t.reported = s
	return s, true
}

func (t *tracker) begin() (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters.InFlight++
	return t.changedLocked()
}

func (t *tracker) end(err error) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters.InFlight--
	if err != nil {
		t.counters.Failed++
		t.counters.LastError = err.Error()
		t.errorUntil = t.now().Add(t.cooldown)
	} else {
		t.counters.Processed++
	}
	return t.changedLocked()
}

// beat records a heartbeat and re-evaluates the cooldown.
func (t *tracker) beat() (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heartbeat = t.now()
	return t.changedLocked()
}

func (t *tracker) snapshot() (AgentStatus, Counters) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return AgentStatus{
		Name:          t.name,
		State:         t.stateLocked(),
		LastHeartbeat: t.heartbeat,
	}, t.counters
}
