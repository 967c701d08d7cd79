package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the position of a run in the stage sequence.
type State string

const (
	StateIdle          State = "idle"
	StateQuantRunning  State = "quant_running"
	StateQuantDone     State = "quant_done"
	StateVisualRunning State = "visual_running"
	StateVisualDone    State = "visual_done"
	StateIntegrating   State = "integrating"
	StateComplete      State = "complete"
	StateFailed        State = "failed"
)

// ErrInvalidTransition is returned when a run is moved out of order.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateIdle:          {StateQuantRunning, StateFailed},
	StateQuantRunning:  {StateQuantDone, StateFailed},
	StateQuantDone:     {StateVisualRunning},
	StateVisualRunning: {StateVisualDone, StateFailed},
	StateVisualDone:    {StateIntegrating},
	StateIntegrating:   {StateComplete, StateFailed},
}

// CanTransition reports whether a run may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// StateChange records one transition of a run.
type StateChange struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Run tracks one symbol/timeframe pipeline execution.
type Run struct {
	ID        string
	Symbol    string
	Timeframe string

	mu      sync.RWMutex
	state   State
	err     error
	history []StateChange
	now     func() time.Time
}

// NewRun creates a run in the idle state.
func NewRun(id, symbol, timeframe string) *Run {
	return &Run{
		ID:        id,
		Symbol:    symbol,
		Timeframe: timeframe,
		state:     StateIdle,
		now:       time.Now,
	}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Err returns the error that failed the run, if any.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// History returns a copy of the transitions taken so far.
func (r *Run) History() []StateChange {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StateChange, len(r.history))
	copy(out, r.history)
	return out
}

// Transition moves the run to the next state.
func (r *Run) Transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !CanTransition(r.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
	}
	r.history = append(r.history, StateChange{From: r.state, To: to, At: r.now()})
	r.state = to
	return nil
}

// Fail moves the run to Failed and records cause. A run that cannot fail
// from its current state is left unchanged and an error is returned.
func (r *Run) Fail(cause error) error {
	if err := r.Transition(StateFailed); err != nil {
		return err
	}
	r.mu.Lock()
	r.err = cause
	r.mu.Unlock()
	return nil
}
