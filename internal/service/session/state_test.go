package session

import (
	"sync"
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateRecording, "RECORDING"},
		{StateStopped, "STOPPED"},
		{State(99), "UNKNOWN(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	l := NewLifecycle("sess-1")
	if l.State() != StateIdle {
		t.Fatalf("initial state = %v, want IDLE", l.State())
	}
	if l.SessionID() != "sess-1" {
		t.Errorf("session id = %q", l.SessionID())
	}

	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !l.IsRecording() {
		t.Error("should be recording after Start")
	}

	prev, ok := l.Stop()
	if !ok || prev != StateRecording {
		t.Errorf("Stop = (%v, %v), want (RECORDING, true)", prev, ok)
	}
	if !l.State().IsTerminal() {
		t.Error("STOPPED should be terminal")
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	l := NewLifecycle("sess-1")
	_ = l.Start()
	if err := l.Start(); err != ErrAlreadyRecording {
		t.Errorf("second Start = %v, want ErrAlreadyRecording", err)
	}

	l.Stop()
	if err := l.Start(); err != ErrSessionStopped {
		t.Errorf("Start after Stop = %v, want ErrSessionStopped", err)
	}
	if _, ok := l.Stop(); ok {
		t.Error("second Stop should report already stopped")
	}
}

func TestLifecycle_StopFromIdle(t *testing.T) {
	l := NewLifecycle("sess-1")
	prev, ok := l.Stop()
	if !ok || prev != StateIdle {
		t.Errorf("Stop = (%v, %v), want (IDLE, true)", prev, ok)
	}
}

func TestLifecycle_ConcurrentStop(t *testing.T) {
	l := NewLifecycle("sess-1")
	_ = l.Start()

	var wg sync.WaitGroup
	var mu sync.Mutex
	stopped := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.Stop(); ok {
				mu.Lock()
				stopped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if stopped != 1 {
		t.Errorf("%d goroutines stopped the session, want exactly 1", stopped)
	}
}
