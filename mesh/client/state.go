package client

import (
	"sync"
)

// ConnectionState is the lifecycle state of a Connection
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConfigHandshake
	StateConnected
	StateClosing
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConfigHandshake:
		return "config-handshake"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Live reports whether the state can still move to Closing
func (s ConnectionState) Live() bool {
	return s == StateConnecting || s == StateConfigHandshake || s == StateConnected
}

// allowed reports whether from -> to is a legal transition. States only move
// forward: Disconnected -> Connecting -> ConfigHandshake -> Connected ->
// Closing -> Disconnected, and every live state may move to Closing.
func allowed(from, to ConnectionState) bool {
	switch to {
	case StateConnecting:
		return from == StateDisconnected
	case StateConfigHandshake:
		return from == StateConnecting
	case StateConnected:
		return from == StateConfigHandshake
	case StateClosing:
		return from.Live()
	case StateDisconnected:
		return from == StateClosing
	}
	return false
}

// stateMachine guards the state of a connection. Transitions are
// compare-and-set, so concurrent attempts (e.g. handshake timeout racing
// config complete) have exactly one winner.
type stateMachine struct {
	mu       sync.Mutex
	state    ConnectionState
	onChange func(from, to ConnectionState)
}

// Current returns the current state
func (m *stateMachine) Current() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves from -> to if the machine is in from and the transition
// is legal
func (m *stateMachine) Transition(from, to ConnectionState) bool {
	m.mu.Lock()
	if m.state != from || !allowed(from, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, to)
	}
	return true
}

// BeginClosing moves any live state to Closing and returns the previous
// state. ok is false if the machine was already closing or disconnected.
func (m *stateMachine) BeginClosing() (prev ConnectionState, ok bool) {
	m.mu.Lock()
	prev = m.state
	if !prev.Live() {
		m.mu.Unlock()
		return prev, false
	}
	m.state = StateClosing
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(prev, StateClosing)
	}
	return prev, true
}
