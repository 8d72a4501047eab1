package stt_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/service/stt"
	"meeting-asr-service/internal/service/stt/mock"
)

func utterance(id string, seconds float64, amp float32) models.Utterance {
	s := make([]float32, int(seconds*16000))
	for i := range s {
		s[i] = amp
	}
	return models.Utterance{ID: id, Samples: s, Timestamp: 10, SampleRate: 16000}
}

func loadedEngine(t *testing.T, b *mock.Backend, cfg stt.Config) *stt.Engine {
	t.Helper()
	e := stt.NewEngine(b, cfg)
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	return e
}

func TestEngine_LoadsRequestedOnAccelerator(t *testing.T) {
	b := mock.New()
	e := loadedEngine(t, b, stt.DefaultConfig())

	cfg := e.Config()
	if cfg.Device != "cuda" || cfg.ModelSize != "medium" || cfg.ComputeType != "float16" || !cfg.IsReady {
		t.Errorf("unexpected active config %+v", cfg)
	}
}

func TestEngine_FallbackWhenAcceleratorLoadFails(t *testing.T) {
	b := mock.New()
	b.FailLoad("cuda", stt.KindOutOfMemory)
	e := loadedEngine(t, b, stt.DefaultConfig())

	cfg := e.Config()
	if cfg.Device != "cpu" {
		t.Errorf("expected cpu after fallback, got %s", cfg.Device)
	}
	if !cfg.IsReady {
		t.Error("expected engine ready after fallback")
	}
	if cfg.ComputeType != "int8" {
		t.Errorf("expected int8 on cpu, got %s", cfg.ComputeType)
	}
}

func TestEngine_ProbeFailureSkipsAccelerator(t *testing.T) {
	b := mock.New()
	b.FailProbe("cuda", stt.KindDriverMismatch)
	e := loadedEngine(t, b, stt.DefaultConfig())

	loads := b.Loads()
	if len(loads) != 1 || loads[0].Device != "cpu" {
		t.Errorf("expected a single cpu load, got %v", loads)
	}
	if e.Config().Device != "cpu" {
		t.Errorf("expected cpu, got %s", e.Config().Device)
	}
}

func TestEngine_ForceCPU(t *testing.T) {
	b := mock.New()
	b.FailProbe("cuda", stt.KindDriverMismatch)
	cfg := stt.DefaultConfig()
	cfg.ForceCPU = true
	e := loadedEngine(t, b, cfg)

	if e.Config().Device != "cpu" {
		t.Errorf("expected cpu, got %s", e.Config().Device)
	}
}

func TestEngine_SmallerModelFallback(t *testing.T) {
	b := mock.New()
	b.FailLoad("medium/cuda/float16", stt.KindOutOfMemory)
	b.FailLoad("medium/cpu/int8", stt.KindModelNotFound)
	e := loadedEngine(t, b, stt.DefaultConfig())

	if cfg := e.Config(); cfg.ModelSize != "small" || cfg.Device != "cpu" {
		t.Errorf("expected small/cpu, got %+v", cfg)
	}
}

func TestEngine_TotalLoadFailure(t *testing.T) {
	b := mock.New()
	b.FailLoad("cuda", stt.KindOutOfMemory)
	b.FailLoad("cpu", stt.KindModelNotFound)
	e := stt.NewEngine(b, stt.DefaultConfig())

	err := e.Load(context.Background())
	if err == nil {
		t.Fatal("expected load error")
	}
	if stt.KindOf(err) != stt.KindOutOfMemory {
		t.Errorf("expected first attempt's kind in chain, got %v", stt.KindOf(err))
	}
	if e.IsReady() {
		t.Error("expected engine not ready")
	}

	tr, err := e.Transcribe(context.Background(), utterance("u-1", 1, 0.3))
	if !errors.Is(err, stt.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if tr.Text != "" || tr.Start != 10 || tr.End != 11 {
		t.Errorf("expected empty transcript with bounds, got %+v", tr)
	}
}

func TestEngine_StartIsAsync(t *testing.T) {
	b := mock.New()
	e := stt.NewEngine(b, stt.DefaultConfig())
	if e.IsReady() {
		t.Fatal("expected not ready before Start")
	}

	e.Start(context.Background())
	select {
	case <-e.Ready():
	case <-time.After(time.Second):
		t.Fatal("engine did not finish loading")
	}
	if !e.IsReady() {
		t.Error("expected ready after load")
	}
	if err := e.Load(context.Background()); err != nil {
		t.Errorf("expected Load after Start to report success, got %v", err)
	}
	if len(b.Loads()) != 1 {
		t.Errorf("expected a single load, got %d", len(b.Loads()))
	}
}

func TestEngine_Transcribe(t *testing.T) {
	b := mock.New()
	e := loadedEngine(t, b, stt.DefaultConfig())

	tr, err := e.Transcribe(context.Background(), utterance("u-1", 1, 0.3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != mock.DefaultUtterances[0].Phrases[0] {
		t.Errorf("unexpected text %q", tr.Text)
	}
	if tr.Confidence != mock.DefaultUtterances[0].AvgLogProb {
		t.Errorf("expected confidence %v, got %v", mock.DefaultUtterances[0].AvgLogProb, tr.Confidence)
	}
	if tr.Start != 10 || tr.End != 11 || tr.UtteranceID != "u-1" {
		t.Errorf("unexpected bounds %+v", tr)
	}
	if tr.ModelInfo.Device != "cuda" || tr.ModelInfo.Backend != "mock" {
		t.Errorf("unexpected model info %+v", tr.ModelInfo)
	}

	opts := b.LastOptions()
	if opts.Temperature != 0 || opts.ConditionOnPreviousText || opts.BeamSize != 10 || opts.BestOf != 10 {
		t.Errorf("unexpected decode options %+v", opts)
	}
}

func TestEngine_FiltersHallucinations(t *testing.T) {
	b := mock.New()
	e := loadedEngine(t, b, stt.DefaultConfig())

	// The fifth default utterance ends with a hallucinated sign-off.
	var tr models.Transcript
	for i := 0; i < 5; i++ {
		tr, _ = e.Transcribe(context.Background(), utterance("u", 1, 0.3))
	}
	if tr.Text != "Sounds good, thank you everyone." {
		t.Errorf("unexpected text %q", tr.Text)
	}
	if tr.SegmentsFiltered != 1 {
		t.Errorf("expected 1 filtered segment, got %d", tr.SegmentsFiltered)
	}
}

func TestEngine_AllSegmentsFiltered(t *testing.T) {
	b := mock.New()
	b.SetResponder(func(stt.Audio, int) (stt.Recognition, error) {
		return stt.Recognition{Segments: []models.TranscriptSegment{
			{Text: "noise", Confidence: -2.5},
			{Text: "7", Confidence: -0.1},
		}}, nil
	})
	e := loadedEngine(t, b, stt.DefaultConfig())

	tr, err := e.Transcribe(context.Background(), utterance("u-1", 1, 0.3))
	if err != nil {
		t.Fatal(err)
	}
	if !tr.IsEmpty() || tr.Confidence != 0 || tr.SegmentsFiltered != 2 {
		t.Errorf("expected empty transcript with confidence 0, got %+v", tr)
	}
}

func TestEngine_RuntimeAcceleratorFaultReloadsOnCPU(t *testing.T) {
	b := mock.New()
	b.FailTranscribe("cuda", stt.KindOutOfMemory, 1)
	e := loadedEngine(t, b, stt.DefaultConfig())

	tr, err := e.Transcribe(context.Background(), utterance("u-1", 1, 0.3))
	if err != nil {
		t.Fatalf("expected retry on cpu to succeed, got %v", err)
	}
	if tr.Text == "" {
		t.Error("expected text from retry")
	}
	if !tr.ModelInfo.FallbackUsed || tr.ModelInfo.Device != "cpu" {
		t.Errorf("expected fallback to cpu in model info, got %+v", tr.ModelInfo)
	}
	if e.Config().Device != "cpu" || !e.FallbackUsed() {
		t.Errorf("expected active device cpu, got %+v", e.Config())
	}
	if b.Calls() != 2 {
		t.Errorf("expected exactly one retry, got %d calls", b.Calls())
	}
}

func TestEngine_RetryFailureReturnsEngineError(t *testing.T) {
	b := mock.New()
	b.FailTranscribe("cuda", stt.KindOutOfMemory, 1)
	e := loadedEngine(t, b, stt.DefaultConfig())
	b.FailTranscribe("cpu", stt.KindUnavailable, 1)

	tr, err := e.Transcribe(context.Background(), utterance("u-1", 1, 0.3))
	var ee *stt.EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	if ee.UtteranceID != "u-1" || ee.Start != 10 || ee.End != 11 {
		t.Errorf("unexpected error bounds %+v", ee)
	}
	if tr.Text != "" || tr.Start != 10 || tr.End != 11 {
		t.Errorf("expected empty transcript with bounds, got %+v", tr)
	}
	if b.Calls() != 2 {
		t.Errorf("expected one retry only, got %d calls", b.Calls())
	}
}

func TestEngine_NonAcceleratorErrorIsNotRetried(t *testing.T) {
	b := mock.New()
	b.FailTranscribe("cuda", stt.KindUnavailable, 1)
	e := loadedEngine(t, b, stt.DefaultConfig())

	if _, err := e.Transcribe(context.Background(), utterance("u-1", 1, 0.3)); err == nil {
		t.Fatal("expected error")
	}
	if b.Calls() != 1 || e.Config().Device != "cuda" {
		t.Errorf("expected no reload, calls=%d device=%s", b.Calls(), e.Config().Device)
	}
}

func TestEngine_SerializesModelCalls(t *testing.T) {
	b := mock.New()
	b.SetDelay(func(int) time.Duration { return 5 * time.Millisecond })
	e := loadedEngine(t, b, stt.DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Transcribe(context.Background(), utterance("u", 0.1, 0.3))
		}()
	}
	wg.Wait()

	if b.PeakConcurrency() != 1 {
		t.Errorf("expected serialized calls, peak concurrency %d", b.PeakConcurrency())
	}
}

func TestEngine_WatchdogDoesNotAbort(t *testing.T) {
	b := mock.New()
	b.SetDelay(func(int) time.Duration { return 30 * time.Millisecond })
	cfg := stt.DefaultConfig()
	cfg.Watchdog = 5 * time.Millisecond
	e := loadedEngine(t, b, cfg)

	tr, err := e.Transcribe(context.Background(), utterance("u-1", 1, 0.3))
	if err != nil || tr.Text == "" {
		t.Errorf("expected watchdog to only log, got err=%v text=%q", err, tr.Text)
	}
}

func TestEngine_RefilterIsIdempotent(t *testing.T) {
	b := mock.New()
	e := loadedEngine(t, b, stt.DefaultConfig())

	tr, _ := e.Transcribe(context.Background(), utterance("u-1", 1, 0.3))
	again := e.Refilter(tr)
	if again.Text != tr.Text || again.Confidence != tr.Confidence || again.SegmentsFiltered != tr.SegmentsFiltered {
		t.Errorf("refilter changed transcript: %+v vs %+v", again, tr)
	}
}
