// Package mock provides a simulated acoustic model backend for running the
// service without a model runtime. It returns canned meeting phrases,
// recognizes silence, and supports per-device failure injection.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/service/stt"
	"meeting-asr-service/internal/service/vad"
)

// SimulatedUtterance is one canned recognition result.
type SimulatedUtterance struct {
	Phrases    []string // one segment per phrase
	AvgLogProb float64
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{Phrases: []string{"Let's get started with the weekly sync."}, AvgLogProb: -0.21},
	{Phrases: []string{"I finished the migration yesterday", "and the dashboards look healthy."}, AvgLogProb: -0.34},
	{Phrases: []string{"Can you share the rollout plan", "before Friday?"}, AvgLogProb: -0.28},
	{Phrases: []string{"We still need sign-off from security."}, AvgLogProb: -0.42},
	{Phrases: []string{"Sounds good, thank you everyone.", "Thanks for watching!"}, AvgLogProb: -0.30},
}

// Responder overrides the canned output. call counts from 1.
type Responder func(audio stt.Audio, call int) (stt.Recognition, error)

// Backend implements stt.Backend with simulated models.
type Backend struct {
	mu             sync.Mutex
	utterances     []SimulatedUtterance
	next           int
	silenceRMS     float64
	delay          func(call int) time.Duration
	responder      Responder
	probeErr       map[string]error
	loadErr        map[string]error
	transcribeErr  map[string]error
	transcribeLeft map[string]int

	loads    []stt.LoadSpec
	lastOpts stt.DecodeOptions
	calls    int
	inflight int
	peak     int
}

// New creates a mock backend cycling through DefaultUtterances.
func New() *Backend {
	return &Backend{
		utterances:     DefaultUtterances,
		silenceRMS:     0.01,
		probeErr:       make(map[string]error),
		loadErr:        make(map[string]error),
		transcribeErr:  make(map[string]error),
		transcribeLeft: make(map[string]int),
	}
}

// Name implements stt.Backend.
func (b *Backend) Name() string {
	return "mock"
}

// FailProbe makes Probe on device fail with kind.
func (b *Backend) FailProbe(device string, kind stt.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeErr[device] = stt.NewError(kind, "probe", device, errors.New("simulated probe failure"))
}

// FailLoad makes Load fail with kind. key is a device name or a LoadSpec string.
func (b *Backend) FailLoad(key string, kind stt.Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loadErr[key] = stt.NewError(kind, "load", key, errors.New("simulated load failure"))
}

// FailTranscribe makes the next times calls on device fail with kind.
func (b *Backend) FailTranscribe(device string, kind stt.Kind, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcribeErr[device] = stt.NewError(kind, "transcribe", device, errors.New("simulated transcribe failure"))
	b.transcribeLeft[device] = times
}

// SetDelay sets a per-call processing delay.
func (b *Backend) SetDelay(fn func(call int) time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delay = fn
}

// SetResponder replaces the canned utterances.
func (b *Backend) SetResponder(fn Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responder = fn
}

// Loads returns every successful load in order.
func (b *Backend) Loads() []stt.LoadSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]stt.LoadSpec(nil), b.loads...)
}

// LastOptions returns the decode options of the latest call.
func (b *Backend) LastOptions() stt.DecodeOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastOpts
}

// Calls returns the number of Transcribe calls.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// PeakConcurrency returns the highest number of simultaneous Transcribe calls.
func (b *Backend) PeakConcurrency() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

// Probe implements stt.Backend.
func (b *Backend) Probe(ctx context.Context, device string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.probeErr[device]
}

// Load implements stt.Backend.
func (b *Backend) Load(ctx context.Context, spec stt.LoadSpec) (stt.Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.loadErr[spec.String()]; ok {
		return nil, err
	}
	if err, ok := b.loadErr[spec.Device]; ok {
		return nil, err
	}
	b.loads = append(b.loads, spec)
	return &model{backend: b, spec: spec}, nil
}

type model struct {
	backend *Backend
	spec    stt.LoadSpec
	closed  bool
}

// Transcribe implements stt.Model.
func (m *model) Transcribe(ctx context.Context, audio stt.Audio, opts stt.DecodeOptions) (stt.Recognition, error) {
	b := m.backend

	b.mu.Lock()
	if m.closed {
		b.mu.Unlock()
		return stt.Recognition{}, stt.NewError(stt.KindUnavailable, "transcribe", m.spec.Device, errors.New("model closed"))
	}
	b.calls++
	call := b.calls
	b.lastOpts = opts
	b.inflight++
	if b.inflight > b.peak {
		b.peak = b.inflight
	}
	delay := b.delay
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
	}()

	if delay != nil {
		if d := delay(call); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return stt.Recognition{}, ctx.Err()
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.transcribeLeft[m.spec.Device] > 0 {
		b.transcribeLeft[m.spec.Device]--
		return stt.Recognition{}, b.transcribeErr[m.spec.Device]
	}
	if b.responder != nil {
		return b.responder(audio, call)
	}

	if rms, err := vad.RMS(audio.Samples); err != nil || rms < b.silenceRMS {
		return stt.Recognition{Language: "en", LanguageProbability: 0.5}, nil
	}

	utt := b.utterances[b.next%len(b.utterances)]
	b.next++

	duration := 0.0
	if audio.SampleRate > 0 {
		duration = float64(len(audio.Samples)) / float64(audio.SampleRate)
	}
	step := duration / float64(len(utt.Phrases))
	segs := make([]models.TranscriptSegment, len(utt.Phrases))
	for i, p := range utt.Phrases {
		segs[i] = models.TranscriptSegment{
			Text:        p,
			StartOffset: float64(i) * step,
			EndOffset:   float64(i+1) * step,
			Confidence:  utt.AvgLogProb,
		}
	}
	return stt.Recognition{Segments: segs, Language: "en", LanguageProbability: 0.98}, nil
}

// Close implements stt.Model. Idempotent.
func (m *model) Close() error {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	m.closed = true
	return nil
}
