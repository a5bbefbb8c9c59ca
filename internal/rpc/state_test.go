package rpc

import (
	"testing"

	"github.com/trenchjob/tjchat/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want disconnected", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Open},
		{Connecting, Disconnected},
		{Open, Closing},
		{Open, Reconnecting},
		{Closing, Disconnected},
		{Reconnecting, Connecting},
		{Reconnecting, Exhausted},
		{Exhausted, Connecting},
		{Exhausted, Disconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
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
	if err := m.Transition(Open); err == nil {
		t.Error("Transition(disconnected -> open) should fail")
	}
	if m.Current() != Disconnected {
		t.Errorf("state = %s, want disconnected (should not have changed)", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindSessionState {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindSessionState)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want disconnected -> connecting", change.From, change.To)
	}
}

// TestReconnectCycle verifies the loop taken after an unexpected close:
// open -> reconnecting -> connecting -> open.
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Open)

	steps := []State{Reconnecting, Connecting, Open}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Open {
		t.Errorf("final state = %s, want open", m.Current())
	}
}

// TestExhaustedRecoversOnDial verifies that a fresh explicit Dial can leave
// the exhausted state.
func TestExhaustedRecoversOnDial(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Exhausted)

	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("exhausted -> connecting: %v", err)
	}
	if err := m.Transition(Open); err != nil {
		t.Fatalf("connecting -> open: %v", err)
	}
}

// TestExhaustedDoesNotReconnect verifies there is no path from exhausted back
// into the automatic reconnect loop.
func TestExhaustedDoesNotReconnect(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Exhausted)

	if err := m.Transition(Reconnecting); err == nil {
		t.Fatal("Transition(exhausted -> reconnecting) should fail")
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Open:         {Connecting, Open},
		Closing:      {Connecting, Open, Closing},
		Reconnecting: {Connecting, Open, Reconnecting},
		Exhausted:    {Connecting, Open, Reconnecting, Exhausted},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
