package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meeting-asr-service/internal/service/stt"
)

func loud(n int) stt.Audio {
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.3
	}
	return stt.Audio{Samples: s, SampleRate: 16000}
}

func loadCPU(t *testing.T, b *Backend) stt.Model {
	t.Helper()
	m, err := b.Load(context.Background(), stt.LoadSpec{ModelSize: "medium", Device: "cpu", ComputeType: "int8"})
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	return m
}

func TestBackend_CyclesThroughUtterances(t *testing.T) {
	b := New()
	m := loadCPU(t, b)

	for i := 0; i < len(DefaultUtterances)+1; i++ {
		rec, err := m.Transcribe(context.Background(), loud(16000), stt.DefaultDecodeOptions())
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		want := DefaultUtterances[i%len(DefaultUtterances)]
		if len(rec.Segments) != len(want.Phrases) {
			t.Fatalf("call %d: expected %d segments, got %d", i, len(want.Phrases), len(rec.Segments))
		}
		if rec.Segments[0].Text != want.Phrases[0] {
			t.Errorf("call %d: expected %q, got %q", i, want.Phrases[0], rec.Segments[0].Text)
		}
		last := rec.Segments[len(rec.Segments)-1]
		if last.EndOffset != 1 {
			t.Errorf("call %d: expected last segment to end at 1s, got %v", i, last.EndOffset)
		}
	}
}

func TestBackend_SilenceYieldsNoSegments(t *testing.T) {
	b := New()
	m := loadCPU(t, b)

	rec, err := m.Transcribe(context.Background(), stt.Audio{Samples: make([]float32, 16000), SampleRate: 16000}, stt.DefaultDecodeOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Segments) != 0 {
		t.Errorf("expected no segments for silence, got %d", len(rec.Segments))
	}
}

func TestBackend_FailureInjection(t *testing.T) {
	b := New()
	b.FailProbe("cuda", stt.KindDriverMismatch)
	b.FailLoad("cuda", stt.KindOutOfMemory)

	if err := b.Probe(context.Background(), "cuda"); stt.KindOf(err) != stt.KindDriverMismatch {
		t.Errorf("expected driver mismatch, got %v", err)
	}
	if err := b.Probe(context.Background(), "cpu"); err != nil {
		t.Errorf("expected cpu probe to succeed, got %v", err)
	}
	if _, err := b.Load(context.Background(), stt.LoadSpec{ModelSize: "medium", Device: "cuda"}); !stt.IsAcceleratorFault(err) {
		t.Errorf("expected accelerator fault, got %v", err)
	}

	b.FailTranscribe("cpu", stt.KindUnavailable, 1)
	m := loadCPU(t, b)
	if _, err := m.Transcribe(context.Background(), loud(160), stt.DefaultDecodeOptions()); stt.KindOf(err) != stt.KindUnavailable {
		t.Errorf("expected injected failure, got %v", err)
	}
	if _, err := m.Transcribe(context.Background(), loud(160), stt.DefaultDecodeOptions()); err != nil {
		t.Errorf("expected failure to be consumed, got %v", err)
	}
	if len(b.Loads()) != 1 {
		t.Errorf("expected 1 recorded load, got %d", len(b.Loads()))
	}
}

func TestBackend_RecordsDecodeOptions(t *testing.T) {
	b := New()
	m := loadCPU(t, b)

	opts := stt.DefaultDecodeOptions()
	opts.Language = "de"
	m.Transcribe(context.Background(), loud(160), opts)

	if got := b.LastOptions(); got.Language != "de" || got.BeamSize != 10 {
		t.Errorf("unexpected recorded options %+v", got)
	}
	if b.Calls() != 1 {
		t.Errorf("expected 1 call, got %d", b.Calls())
	}
}

func TestBackend_ClosedModel(t *testing.T) {
	b := New()
	m := loadCPU(t, b)
	m.Close()
	m.Close()

	_, err := m.Transcribe(context.Background(), loud(160), stt.DefaultDecodeOptions())
	var be *stt.BackendError
	if !errors.As(err, &be) || be.Kind != stt.KindUnavailable {
		t.Errorf("expected unavailable error after close, got %v", err)
	}
}

func TestBackend_DelayHonoursContext(t *testing.T) {
	b := New()
	b.SetDelay(func(int) time.Duration { return time.Second })
	m := loadCPU(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Transcribe(ctx, loud(160), stt.DefaultDecodeOptions()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBackend_ThreadSafety(t *testing.T) {
	b := New()
	m := loadCPU(t, b)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Transcribe(context.Background(), loud(1600), stt.DefaultDecodeOptions())
		}()
	}
	wg.Wait()

	if b.Calls() != 20 {
		t.Errorf("expected 20 calls, got %d", b.Calls())
	}
}
