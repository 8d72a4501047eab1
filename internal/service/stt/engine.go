package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/observability/logging"
	"meeting-asr-service/internal/observability/metrics"
)

// Config is the requested engine configuration.
type Config struct {
	ModelSize   string
	Device      string // auto, cuda or cpu
	ComputeType string
	ForceCPU    bool
	Decode      DecodeOptions
	Filter      FilterConfig
	// Watchdog logs a warning when a transcription runs longer; it never aborts.
	Watchdog time.Duration
}

// DefaultConfig returns medium/auto/float16 with default decoding and filtering.
func DefaultConfig() Config {
	return Config{
		ModelSize:   "medium",
		Device:      DeviceAuto,
		ComputeType: "float16",
		Decode:      DefaultDecodeOptions(),
		Filter:      DefaultFilterConfig(),
		Watchdog:    30 * time.Second,
	}
}

// Engine owns one loaded model and turns utterances into transcripts.
// Calls against the model are serialized.
type Engine struct {
	backend Backend
	cfg     Config
	filter  *Filter
	log     zerolog.Logger
	metrics *metrics.Metrics

	// modelMu guards model and is held for the whole of every model call.
	modelMu sync.Mutex
	model   Model

	mu           sync.RWMutex
	active       models.EngineConfig
	fallbackUsed bool
	loadErr      error

	startOnce sync.Once
	loaded    chan struct{}
}

// NewEngine creates an engine over backend. No model is loaded until Start or Load.
func NewEngine(backend Backend, cfg Config) *Engine {
	return &Engine{
		backend: backend,
		cfg:     cfg,
		filter:  NewFilter(cfg.Filter),
		log:     logging.WithComponent("stt").With().Str("backend", backend.Name()).Logger(),
		metrics: metrics.DefaultMetrics,
		active: models.EngineConfig{
			ModelSize:   cfg.ModelSize,
			Device:      cfg.Device,
			ComputeType: cfg.ComputeType,
			Backend:     backend.Name(),
		},
		loaded: make(chan struct{}),
	}
}

// Start loads the model in the background. Only the first call has effect.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go func() {
			if err := e.load(ctx); err != nil {
				e.log.Error().Err(err).Msg("Engine not ready, all load attempts failed")
			}
		}()
	})
}

// Load loads the model synchronously. Only the first call (of Load or Start)
// has effect; later calls wait for it and return its result.
func (e *Engine) Load(ctx context.Context) error {
	ran := false
	e.startOnce.Do(func() {
		ran = true
		e.load(ctx)
	})
	if !ran {
		select {
		case <-e.loaded:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadErr
}

// Ready is closed once loading has finished, successfully or not.
func (e *Engine) Ready() <-chan struct{} {
	return e.loaded
}

// IsReady reports whether a model is loaded.
func (e *Engine) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active.IsReady
}

// Config returns the active configuration, which may differ from the
// requested one after a fallback.
func (e *Engine) Config() models.EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

// FallbackUsed reports whether a runtime CPU reload happened.
func (e *Engine) FallbackUsed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fallbackUsed
}

func (e *Engine) load(ctx context.Context) error {
	defer close(e.loaded)

	accelerator := !e.cfg.ForceCPU && e.cfg.Device != DeviceCPU
	if accelerator {
		device := e.cfg.Device
		if device == DeviceAuto || device == "" {
			device = DeviceCUDA
		}
		if err := e.backend.Probe(ctx, device); err != nil {
			e.log.Warn().
				Err(err).
				Str("device", device).
				Str("kind", KindOf(err).String()).
				Msg("Accelerator probe failed, downgrading to CPU")
			e.metrics.RecordFallback("probe")
			accelerator = false
		}
	} else if e.cfg.ForceCPU {
		e.log.Info().Msg("CPU forced, skipping accelerator")
	}

	plan := LoadPlan(e.cfg.ModelSize, e.cfg.Device, e.cfg.ComputeType, accelerator)
	var errs []error
	for i, spec := range plan {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		e.log.Info().Str("spec", spec.String()).Int("attempt", i+1).Msg("Loading model")
		m, err := e.backend.Load(ctx, spec)
		if err != nil {
			e.log.Warn().
				Err(err).
				Str("spec", spec.String()).
				Str("kind", KindOf(err).String()).
				Msg("Model load attempt failed")
			e.metrics.RecordSTTError(e.backend.Name(), KindOf(err).String())
			errs = append(errs, fmt.Errorf("%s: %w", spec, err))
			continue
		}

		e.modelMu.Lock()
		e.model = m
		e.modelMu.Unlock()

		e.mu.Lock()
		e.active = models.EngineConfig{
			ModelSize:   spec.ModelSize,
			Device:      spec.Device,
			ComputeType: spec.ComputeType,
			Backend:     e.backend.Name(),
			IsReady:     true,
		}
		e.loadErr = nil
		e.mu.Unlock()

		if i > 0 {
			e.metrics.RecordFallback("load")
		}
		e.metrics.SetReady(true)
		e.log.Info().Str("spec", spec.String()).Msg("Model loaded")
		return nil
	}

	err := fmt.Errorf("stt: no model could be loaded: %w", errors.Join(errs...))
	e.mu.Lock()
	e.loadErr = err
	e.mu.Unlock()
	e.metrics.SetReady(false)
	return err
}

// Transcribe runs one utterance through the model and the post-decoding
// filter. On failure it returns an *EngineError together with an empty
// transcript spanning the utterance, so callers can always advance.
func (e *Engine) Transcribe(ctx context.Context, u models.Utterance) (models.Transcript, error) {
	empty := models.Transcript{
		UtteranceID: u.ID,
		Start:       u.Timestamp,
		End:         u.End(),
		Segments:    []models.TranscriptSegment{},
	}
	if !e.IsReady() {
		empty.ModelInfo = e.modelInfo()
		return empty, &EngineError{UtteranceID: u.ID, Start: empty.Start, End: empty.End, Err: ErrNotReady}
	}

	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	if e.model == nil {
		empty.ModelInfo = e.modelInfo()
		return empty, &EngineError{UtteranceID: u.ID, Start: empty.Start, End: empty.End, Err: ErrNotReady}
	}

	log := e.log.With().Str("utteranceId", u.ID).Logger()
	if e.cfg.Watchdog > 0 {
		watchdog := time.AfterFunc(e.cfg.Watchdog, func() {
			e.metrics.RecordWatchdog()
			log.Warn().Dur("watchdog", e.cfg.Watchdog).Msg("Transcription exceeding watchdog, still waiting")
		})
		defer watchdog.Stop()
	}

	audio := Audio{Samples: u.Samples, SampleRate: u.SampleRate}
	start := time.Now()
	rec, err := e.model.Transcribe(ctx, audio, e.cfg.Decode)
	if err != nil && IsAcceleratorFault(err) && e.Config().Device != DeviceCPU {
		log.Warn().Err(err).Str("kind", KindOf(err).String()).Msg("Accelerator fault during transcription, reloading on CPU")
		if rerr := e.reloadOnCPU(ctx); rerr != nil {
			log.Error().Err(rerr).Msg("CPU reload failed")
			err = errors.Join(err, rerr)
		} else {
			rec, err = e.model.Transcribe(ctx, audio, e.cfg.Decode)
		}
	}

	info := e.modelInfo()
	empty.ModelInfo = info
	if err != nil {
		e.metrics.RecordSTTError(e.backend.Name(), KindOf(err).String())
		log.Error().Err(err).Msg("Transcription failed")
		return empty, &EngineError{UtteranceID: u.ID, Start: empty.Start, End: empty.End, Err: err}
	}
	e.metrics.RecordSTTLatency(e.backend.Name(), info.Device, time.Since(start).Seconds())

	kept, stats := e.filter.Apply(rec.Segments)
	e.recordFiltered(stats)
	if stats.Total() > 0 {
		log.Debug().Int("filtered", stats.Total()).Int("total", len(rec.Segments)).Msg("Filtered low-quality segments")
	}

	t := models.Transcript{
		UtteranceID:         u.ID,
		Text:                JoinSegments(kept),
		Start:               u.Timestamp,
		End:                 u.End(),
		Confidence:          MeanConfidence(kept),
		Segments:            kept,
		SegmentsFiltered:    stats.Total(),
		Language:            rec.Language,
		LanguageProbability: rec.LanguageProbability,
		ModelInfo:           info,
	}
	e.metrics.RecordTranscript(t.IsEmpty())
	return t, nil
}

// Refilter re-applies the engine's post-decoding filter to t.
func (e *Engine) Refilter(t models.Transcript) models.Transcript {
	return e.filter.Refilter(t)
}

// reloadOnCPU swaps the model for the same size on CPU. Callers hold modelMu.
// The old model is kept if the CPU load fails.
func (e *Engine) reloadOnCPU(ctx context.Context) error {
	active := e.Config()
	spec := LoadSpec{ModelSize: active.ModelSize, Device: DeviceCPU, ComputeType: ComputeCPU}
	m, err := e.backend.Load(ctx, spec)
	if err != nil {
		return err
	}
	if cerr := e.model.Close(); cerr != nil {
		e.log.Warn().Err(cerr).Msg("Error closing accelerator model")
	}
	e.model = m

	e.mu.Lock()
	e.active.Device = spec.Device
	e.active.ComputeType = spec.ComputeType
	e.fallbackUsed = true
	e.mu.Unlock()

	e.metrics.RecordFallback("transcribe")
	e.log.Warn().Str("spec", spec.String()).Msg("Reloaded model on CPU")
	return nil
}

func (e *Engine) modelInfo() models.ModelInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return models.ModelInfo{
		ModelSize:    e.active.ModelSize,
		Device:       e.active.Device,
		ComputeType:  e.active.ComputeType,
		Backend:      e.active.Backend,
		FallbackUsed: e.fallbackUsed,
	}
}

func (e *Engine) recordFiltered(s FilterStats) {
	for name, n := range map[string]int{
		"low_confidence": s.LowConfidence,
		"empty":          s.Empty,
		"numeric":        s.Numeric,
		"short":          s.Short,
		"hallucination":  s.Hallucination,
	} {
		for i := 0; i < n; i++ {
			e.metrics.RecordSegmentFiltered(name)
		}
	}
}

// Close releases the loaded model.
func (e *Engine) Close() error {
	e.modelMu.Lock()
	defer e.modelMu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Close()
	e.model = nil
	e.mu.Lock()
	e.active.IsReady = false
	e.mu.Unlock()
	e.metrics.SetReady(false)
	return err
}
