package status

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/talk/internal/feed"
)

// State represents the sync engine's runtime state.
type State string

const (
	Booting      State = "BOOTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Degraded     State = "DEGRADED"
	AuthRequired State = "AUTH_REQUIRED"
	Stopped      State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {Syncing, AuthRequired, Stopped},
	Syncing:      {Ready, Degraded, AuthRequired, Stopped},
	Ready:        {Degraded, AuthRequired, Stopped},
	Degraded:     {Ready, AuthRequired, Stopped},
	AuthRequired: {Syncing, Stopped},
	Stopped:      {},
}

// Machine tracks and enforces engine state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	feed    *feed.Feed
}

// NewMachine creates a new state machine starting in Booting state. Changes
// are published on f when it is not nil.
func NewMachine(f *feed.Feed) *Machine {
	return &Machine{
		current: Booting,
		feed:    f,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is
// invalid. The change is published after the lock is released; callers must
// serialize transitions themselves if they need publication order to match.
func (m *Machine) Transition(ctx context.Context, to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.feed != nil {
		if _, err := m.feed.Publish(ctx, feed.Event{
			Kind:    feed.StatusChanged,
			Payload: StatusChange{From: from, To: to},
		}); err != nil {
			return fmt.Errorf("publish status: %w", err)
		}
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
