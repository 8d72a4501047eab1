package stt

import (
	"errors"
	"fmt"
)

// Kind classifies backend failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindAcceleratorUnavailable
	KindOutOfMemory
	KindDriverMismatch
	KindModelNotFound
	KindUnavailable
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAcceleratorUnavailable:
		return "accelerator_unavailable"
	case KindOutOfMemory:
		return "out_of_memory"
	case KindDriverMismatch:
		return "driver_mismatch"
	case KindModelNotFound:
		return "model_not_found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String. Unrecognised values map to KindUnknown.
func ParseKind(s string) Kind {
	switch s {
	case "accelerator_unavailable":
		return KindAcceleratorUnavailable
	case "out_of_memory":
		return KindOutOfMemory
	case "driver_mismatch":
		return KindDriverMismatch
	case "model_not_found":
		return KindModelNotFound
	case "unavailable":
		return KindUnavailable
	default:
		return KindUnknown
	}
}

// ErrNotReady is returned by Transcribe before a model is loaded.
var ErrNotReady = errors.New("stt: engine not ready")

// BackendError is a typed backend failure.
type BackendError struct {
	Kind   Kind
	Op     string // probe, load or transcribe
	Device string
	Err    error
}

// NewError wraps err as a BackendError.
func NewError(kind Kind, op, device string, err error) *BackendError {
	return &BackendError{Kind: kind, Op: op, Device: device, Err: err}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("stt %s on %s: %s: %v", e.Op, e.Device, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first BackendError in err's chain.
func KindOf(err error) Kind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// IsAcceleratorFault reports whether err signals an accelerator problem that
// a CPU reload can recover from.
func IsAcceleratorFault(err error) bool {
	switch KindOf(err) {
	case KindAcceleratorUnavailable, KindOutOfMemory, KindDriverMismatch:
		return true
	}
	return false
}

// EngineError is returned when an utterance could not be transcribed. It
// carries the utterance bounds so the caller can still advance.
type EngineError struct {
	UtteranceID string
	Start       float64
	End         float64
	Err         error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("transcribe %s [%.2f-%.2f]: %v", e.UtteranceID, e.Start, e.End, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
