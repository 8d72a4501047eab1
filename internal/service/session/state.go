// Package session drives the recording lifecycle of one client connection
// and routes its audio through segmentation and transcription.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a recording session.
type State int

const (
	// StateIdle - no recording has been started.
	StateIdle State = iota
	// StateRecording - audio is accepted and transcripts are delivered.
	StateRecording
	// StateStopped - terminal; a new session id is needed to record again.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is STOPPED.
func (s State) IsTerminal() bool {
	return s == StateStopped
}

// Errors for invalid state transitions.
var (
	ErrNotRecording     = errors.New("session is not recording")
	ErrAlreadyRecording = errors.New("session is already recording")
	ErrSessionStopped   = errors.New("session is stopped")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → RECORDING → STOPPED
//	  │                   ▲
//	  └──── Stop() ───────┘   (disconnect before start)
type Lifecycle struct {
	mu        sync.RWMutex
	sessionID string
	state     State
}

// NewLifecycle creates a new session lifecycle in IDLE state.
func NewLifecycle(sessionID string) *Lifecycle {
	return &Lifecycle{
		sessionID: sessionID,
		state:     StateIdle,
	}
}

// SessionID returns the session ID.
func (l *Lifecycle) SessionID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionID
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsRecording returns true if audio and transcripts are accepted.
func (l *Lifecycle) IsRecording() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateRecording
}

// Start transitions IDLE to RECORDING.
func (l *Lifecycle) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle:
		l.state = StateRecording
		return nil
	case StateRecording:
		return ErrAlreadyRecording
	case StateStopped:
		return ErrSessionStopped
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Stop transitions to STOPPED from any state. It returns the previous state
// and false if the session was already stopped.
func (l *Lifecycle) Stop() (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state
	if prev.IsTerminal() {
		return prev, false
	}
	l.state = StateStopped
	return prev, true
}
