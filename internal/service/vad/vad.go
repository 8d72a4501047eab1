// Package vad classifies fixed-length audio frames as speech or silence.
package vad

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Detector classifies a single frame.
type Detector interface {
	IsSpeech(frame []float32) (bool, error)
}

var (
	// ErrFrameLength is returned for a frame of the wrong size.
	ErrFrameLength = errors.New("vad: unexpected frame length")
	// ErrNonFinite is returned when a frame contains NaN or Inf samples.
	ErrNonFinite = errors.New("vad: non-finite sample")
)

// EnergyDetector classifies a frame as speech when its RMS energy reaches Threshold.
type EnergyDetector struct {
	Threshold float64
	FrameSize int // samples per frame; 0 accepts any non-empty frame
}

// NewEnergyDetector returns a detector for frames of frameMs at sampleRate.
func NewEnergyDetector(threshold float64, sampleRate, frameMs int) *EnergyDetector {
	return &EnergyDetector{
		Threshold: threshold,
		FrameSize: sampleRate * frameMs / 1000,
	}
}

// IsSpeech implements Detector.
func (d *EnergyDetector) IsSpeech(frame []float32) (bool, error) {
	if len(frame) == 0 || (d.FrameSize > 0 && len(frame) != d.FrameSize) {
		return false, fmt.Errorf("%w: got %d, want %d", ErrFrameLength, len(frame), d.FrameSize)
	}
	rms, err := RMS(frame)
	if err != nil {
		return false, err
	}
	// Samples are float32, so the threshold is compared at that precision.
	return float32(rms) >= float32(d.Threshold), nil
}

// RMS returns the root-mean-square amplitude of samples.
func RMS(samples []float32) (float64, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	buf := make([]float64, len(samples))
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, ErrNonFinite
		}
		buf[i] = v
	}
	return math.Sqrt(floats.Dot(buf, buf) / float64(len(buf))), nil
}

// Func adapts a plain function to Detector.
type Func func(frame []float32) (bool, error)

// IsSpeech implements Detector.
func (f Func) IsSpeech(frame []float32) (bool, error) {
	return f(frame)
}
