package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// Actions lists the isolation side effects configured for the node.
// Which actions fire is a scheduler/orchestrator decision; the state
// machine only decides that isolation is needed.
type Actions struct {
	Cordon     bool
	Taint      bool
	EvictPods  bool
}

// Intent is emitted the moment a device first reaches Unhealthy. The
// scheduler consumes it to drive the orchestrator adapter and feeds
// isolation-actions-completed back once those actions succeed.
type Intent struct {
	CorrelationID string
	Device        device.Identity
	Reason        string
	Code          int // non-zero for FatalError-triggered intents
	Actions       Actions
	CreatedAt     time.Time
}

// Record is the FSM's committed view for one device.
type Record struct {
	Device               device.Identity
	State                State
	ConsecutiveFailures  int
	LastReason           string
	LastTransitionAt     time.Time
	IsolationActionsDone bool

	// pendingIntent is non-nil once the device reaches Unhealthy and
	// stays set until isolation-actions-completed is applied.
	pendingIntent *Intent
}

// Machine tracks one Record per device, keyed by device.Identity.Key(),
// and serializes all reads/writes behind a single mutex: state is never
// touched without holding it.
type Machine struct {
	mu      sync.Mutex
	records map[string]*Record
	actions Actions
	now     func() time.Time
}

// NewMachine creates an empty Machine. actions configures which
// isolation side effects an Unhealthy transition requests.
func NewMachine(actions Actions) *Machine {
	return &Machine{
		records: make(map[string]*Record),
		actions: actions,
		now:     time.Now,
	}
}

// Snapshot returns a copy of the current record for a device, creating a
// fresh Healthy record if none exists yet.
func (m *Machine) Snapshot(id device.Identity) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.recordLocked(id)
}

// All returns a copy of every tracked record, for metrics export and the
// startup device table.
func (m *Machine) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

func (m *Machine) recordLocked(id device.Identity) *Record {
	key := id.Key()
	r, ok := m.records[key]
	if !ok {
		r = &Record{Device: id, State: Healthy, LastTransitionAt: m.now()}
		m.records[key] = r
	}
	return r
}

// Apply feeds one detection outcome into a device's state machine per
// the transition table:
//
//	Healthy   + Pass            -> Healthy   (reset counter)
//	Healthy   + Fail/Timeout     -> Suspected (counter = 1)
//	Healthy   + FatalError       -> Unhealthy (emit intent)
//	Suspected + Pass             -> Healthy   (counter = 0)
//	Suspected + Fail/Timeout     -> Suspected|Unhealthy (increment, threshold T)
//	Suspected + FatalError       -> Unhealthy (emit intent)
//	Unhealthy + *                -> Unhealthy (no-op; actions pending)
//	Isolated  + *                -> Isolated  (no-op)
//
// Fatal vendor codes always short-circuit straight to Unhealthy
// regardless of the consecutive-failure counter. Apply returns the
// post-transition record and a non-nil Intent on the tick an Unhealthy
// transition first occurs, and again on every subsequent call while the
// record stays Unhealthy, so a scheduler that failed to complete
// isolation keeps retrying it until CompleteIsolation clears the intent.
func (m *Machine) Apply(id device.Identity, outcome device.CheckOutcome, threshold int) (Record, *Intent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.recordLocked(id)

	switch r.State {
	case Isolated:
		return *r, nil
	case Unhealthy:
		// Isolation actions haven't completed yet; re-surface the same
		// intent so the scheduler retries dispatchIsolation every tick
		// until CompleteIsolation clears it.
		return *r, r.pendingIntent
	}

	switch outcome.Kind {
	case device.CheckPass:
		r.ConsecutiveFailures = 0
		r.LastReason = ""
		m.transition(r, Healthy)
		return *r, nil

	case device.CheckFatalError:
		r.ConsecutiveFailures++
		r.LastReason = fmt.Sprintf("fatal:%d", outcome.Code)
		m.transition(r, Unhealthy)
		intent := m.newIntent(r, outcome.Code)
		return *r, intent

	case device.CheckFail, device.CheckTimeout:
		r.ConsecutiveFailures++
		reason := outcome.Reason
		if outcome.Kind == device.CheckTimeout {
			reason = "timeout"
		}
		r.LastReason = reason

		if r.ConsecutiveFailures >= threshold {
			m.transition(r, Unhealthy)
			intent := m.newIntent(r, 0)
			return *r, intent
		}
		m.transition(r, Suspected)
		return *r, nil

	default:
		return *r, nil
	}
}

// CompleteIsolation feeds isolation-actions-completed into the machine
// for a device, transitioning Unhealthy -> Isolated. It is a no-op if
// the device isn't currently Unhealthy (idempotent under retry).
func (m *Machine) CompleteIsolation(id device.Identity) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.recordLocked(id)
	if r.State != Unhealthy {
		return *r
	}
	r.IsolationActionsDone = true
	r.pendingIntent = nil
	m.transition(r, Isolated)
	return *r
}

func (m *Machine) transition(r *Record, to State) {
	if !canTransition(r.State, to) {
		// Should be unreachable given the switch above restricts inputs
		// to valid edges; guard anyway since a bad edge here would
		// silently corrupt isolation bookkeeping.
		return
	}
	if r.State != to {
		r.State = to
		r.LastTransitionAt = m.now()
	}
}

func (m *Machine) newIntent(r *Record, code int) *Intent {
	intent := &Intent{
		CorrelationID: uuid.NewString(),
		Device:        r.Device,
		Reason:        r.LastReason,
		Code:          code,
		Actions:       m.actions,
		CreatedAt:     m.now(),
	}
	r.pendingIntent = intent
	return intent
}
