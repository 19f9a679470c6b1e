package status

import (
	"context"
	"testing"

	"github.com/matheus3301/talk/internal/feed"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Syncing},
		{Booting, AuthRequired},
		{Syncing, Ready},
		{Syncing, Degraded},
		{Ready, Degraded},
		{Degraded, Ready},
		{Ready, AuthRequired},
		{AuthRequired, Syncing},
		{Ready, Stopped},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(context.Background(), tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(context.Background(), Ready); err == nil {
		t.Error("Transition(BOOTING -> READY) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state = %s, want BOOTING (unchanged)", m.Current())
	}
}

func TestStoppedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Stopped)
	for _, to := range []State{Booting, Syncing, Ready, Degraded, AuthRequired} {
		if err := m.Transition(context.Background(), to); err == nil {
			t.Errorf("Transition(STOPPED -> %s) should fail", to)
		}
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	f := feed.New(10)
	sub := f.Subscribe("sync.")
	defer sub.Close()

	m := NewMachine(f)
	if err := m.Transition(context.Background(), AuthRequired); err != nil {
		t.Fatal(err)
	}

	evt := <-sub.C
	if evt.Kind != feed.StatusChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, feed.StatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != AuthRequired {
		t.Errorf("change = %v -> %v, want BOOTING -> AUTH_REQUIRED", change.From, change.To)
	}
}

// TestAuthRequiredResumesThroughSyncing verifies that fixing credentials
// goes back through SYNCING before the engine reports READY again.
func TestAuthRequiredResumesThroughSyncing(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, AuthRequired)

	if err := m.Transition(context.Background(), Ready); err == nil {
		t.Fatal("Transition(AUTH_REQUIRED -> READY) should fail; must go through SYNCING first")
	}
	for _, s := range []State{Syncing, Ready} {
		if err := m.Transition(context.Background(), s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// TestDegradedRecoveryCycle walks READY → DEGRADED → READY, the path taken
// when polls fail transiently and then recover.
func TestDegradedRecoveryCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Ready)

	for _, s := range []State{Degraded, Ready, Degraded, Ready} {
		if err := m.Transition(context.Background(), s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Booting:      {},
		Syncing:      {Syncing},
		Ready:        {Syncing, Ready},
		Degraded:     {Syncing, Degraded},
		AuthRequired: {AuthRequired},
		Stopped:      {Stopped},
	}
	for _, s := range paths[target] {
		if err := m.Transition(context.Background(), s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
