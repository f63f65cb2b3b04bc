package client

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestAllowedTransitions(t *testing.T) {
	states := []ConnectionState{StateDisconnected, StateConnecting, StateConfigHandshake, StateConnected, StateClosing}
	legal := map[[2]ConnectionState]bool{
		{StateDisconnected, StateConnecting}:    true,
		{StateConnecting, StateConfigHandshake}: true,
		{StateConfigHandshake, StateConnected}:  true,
		{StateConnecting, StateClosing}:         true,
		{StateConfigHandshake, StateClosing}:    true,
		{StateConnected, StateClosing}:          true,
		{StateClosing, StateDisconnected}:       true,
	}

	for _, from := range states {
		for _, to := range states {
			want := legal[[2]ConnectionState{from, to}]
			if got := allowed(from, to); got != want {
				t.Errorf("allowed(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransitionCompareAndSet(t *testing.T) {
	var m stateMachine
	if m.Transition(StateConnecting, StateConfigHandshake) {
		t.Errorf("transition from a state the machine is not in succeeded")
	}
	if !m.Transition(StateDisconnected, StateConnecting) {
		t.Fatalf("Disconnected -> Connecting failed")
	}
	if m.Transition(StateConnecting, StateConnected) {
		t.Errorf("skipping the handshake must not be allowed")
	}
	if m.Current() != StateConnecting {
		t.Errorf("state = %s, want connecting", m.Current())
	}
}

func TestSingleWinner(t *testing.T) {
	// config complete and the handshake timeout race for the same state
	for i := 0; i < 100; i++ {
		var m stateMachine
		m.Transition(StateDisconnected, StateConnecting)
		m.Transition(StateConnecting, StateConfigHandshake)

		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			if m.Transition(StateConfigHandshake, StateConnected) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if m.Transition(StateConfigHandshake, StateClosing) {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if _, ok := m.BeginClosing(); ok {
				wins.Add(1)
			}
		}()
		wg.Wait()

		// BeginClosing may follow a successful Connected transition
		if w := wins.Load(); w < 1 || w > 2 {
			t.Fatalf("round %d: %d winners", i, w)
		}
		if m.Current() != StateConnected && m.Current() != StateClosing {
			t.Fatalf("round %d: state = %s", i, m.Current())
		}
	}
}

func TestBeginClosingOnce(t *testing.T) {
	var m stateMachine
	var changes []string
	m.onChange = func(from, to ConnectionState) {
		changes = append(changes, from.String()+">"+to.String())
	}
	m.Transition(StateDisconnected, StateConnecting)

	prev, ok := m.BeginClosing()
	if !ok || prev != StateConnecting {
		t.Fatalf("BeginClosing = %s, %v", prev, ok)
	}
	if _, ok := m.BeginClosing(); ok {
		t.Errorf("second BeginClosing succeeded")
	}
	if !m.Transition(StateClosing, StateDisconnected) {
		t.Errorf("Closing -> Disconnected failed")
	}
	if _, ok := m.BeginClosing(); ok {
		t.Errorf("BeginClosing on a disconnected machine succeeded")
	}

	want := []string{"disconnected>connecting", "connecting>closing", "closing>disconnected"}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %s, want %s", i, changes[i], want[i])
		}
	}
}
