package vad

import (
	"errors"
	"math"
	"testing"
)

func constFrame(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestEnergyDetector_IsSpeech(t *testing.T) {
	d := NewEnergyDetector(0.01, 16000, 30)
	if d.FrameSize != 480 {
		t.Fatalf("expected 480 samples per frame, got %d", d.FrameSize)
	}

	tests := []struct {
		name  string
		frame []float32
		want  bool
	}{
		{"silence", constFrame(480, 0), false},
		{"quiet noise", constFrame(480, 0.001), false},
		{"just below threshold", constFrame(480, 0.0099), false},
		{"at threshold", constFrame(480, 0.01), true},
		{"loud", constFrame(480, 0.5), true},
		{"negative loud", constFrame(480, -0.5), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.IsSpeech(tt.frame)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsSpeech() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnergyDetector_Errors(t *testing.T) {
	d := NewEnergyDetector(0.01, 16000, 30)

	if _, err := d.IsSpeech(constFrame(100, 0.5)); !errors.Is(err, ErrFrameLength) {
		t.Errorf("expected ErrFrameLength, got %v", err)
	}
	if _, err := d.IsSpeech(nil); !errors.Is(err, ErrFrameLength) {
		t.Errorf("expected ErrFrameLength for empty frame, got %v", err)
	}

	bad := constFrame(480, 0.1)
	bad[10] = float32(math.NaN())
	if _, err := d.IsSpeech(bad); !errors.Is(err, ErrNonFinite) {
		t.Errorf("expected ErrNonFinite, got %v", err)
	}
}

func TestRMS(t *testing.T) {
	rms, err := RMS([]float32{3, 4, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	want := math.Sqrt((9 + 16 + 9 + 16) / 4.0)
	if math.Abs(rms-want) > 1e-9 {
		t.Errorf("RMS = %v, want %v", rms, want)
	}

	if rms, _ := RMS(nil); rms != 0 {
		t.Errorf("RMS of empty = %v, want 0", rms)
	}
}
