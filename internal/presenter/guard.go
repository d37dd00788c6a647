package presenter

import (
	"errors"
	"fmt"
	"sync"
)

// GuardState is the lifecycle of one gated submission.
type GuardState int

const (
	StateIdle GuardState = iota
	StatePending
	StateConfirmed
	StateRolledBack
)

func (s GuardState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "idle"
	}
}

var (
	// ErrActionInFlight rejects a Begin while the same action is already
	// Pending.
	ErrActionInFlight = errors.New("action already in flight")

	// ErrInvalidTransition rejects moves the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid action state transition")
)

// ActionGuard is a single-flight state machine per action type:
// Idle -> Pending -> Confirmed | RolledBack, and back to Idle only via
// Reset. The adapter owns one guard per signed-in session, so a (user,
// action) pair can never have two submissions outstanding. Terminal states
// stay visible until Reset so the UI reconciles the outcome before the next
// attempt.
type ActionGuard struct {
	mu     sync.Mutex
	states map[string]GuardState
}

func NewActionGuard() *ActionGuard {
	return &ActionGuard{states: make(map[string]GuardState)}
}

// Begin moves action from Idle to Pending.
func (g *ActionGuard) Begin(action string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.states[action] {
	case StateIdle:
		g.states[action] = StatePending
		return nil
	case StatePending:
		return fmt.Errorf("%w: %s", ErrActionInFlight, action)
	default:
		return fmt.Errorf("%w: begin %s from %s", ErrInvalidTransition, action, g.states[action])
	}
}

// Confirm records that the pending action took effect on the server.
func (g *ActionGuard) Confirm(action string) error {
	return g.finish(action, StateConfirmed)
}

// Rollback records that the pending action did not take effect.
func (g *ActionGuard) Rollback(action string) error {
	return g.finish(action, StateRolledBack)
}

func (g *ActionGuard) finish(action string, to GuardState) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.states[action] != StatePending {
		return fmt.Errorf("%w: finish %s from %s", ErrInvalidTransition, action, g.states[action])
	}
	g.states[action] = to
	return nil
}

// Reset returns a terminal state to Idle. Resetting an idle action is a
// no-op; resetting a pending one is an error, because the outcome is still
// unknown.
func (g *ActionGuard) Reset(action string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.states[action] == StatePending {
		return fmt.Errorf("%w: reset %s while pending", ErrInvalidTransition, action)
	}
	g.states[action] = StateIdle
	return nil
}

// State reports the current state for action.
func (g *ActionGuard) State(action string) GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[action]
}
