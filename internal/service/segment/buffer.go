// Package segment turns a stream of audio chunks into bounded utterances.
package segment

import (
	"time"

	"github.com/rs/zerolog"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/observability/logging"
	"meeting-asr-service/internal/observability/metrics"
	"meeting-asr-service/internal/service/vad"
)

// Emission reasons recorded on Utterance.Reason.
const (
	ReasonOverflow = "overflow"
	ReasonVAD      = "vad"
	ReasonDuration = "duration"
	ReasonCount    = "count"
	ReasonFlush    = "flush"
)

// Config holds the boundary policy parameters.
type Config struct {
	SampleRate        int
	SegmentDuration   time.Duration
	MaxBufferDuration time.Duration
	Frame             time.Duration
	MinSpeech         time.Duration
	MaxSilence        time.Duration
	// MaxChunks is the chunk-count ceiling; 0 derives it as SegmentDuration / 100ms.
	MaxChunks int
}

// DefaultConfig returns 16 kHz, 3 s segments, 15 s overflow, 30 ms frames,
// 200 ms minimum speech and 500 ms trailing silence.
func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		SegmentDuration:   3 * time.Second,
		MaxBufferDuration: 15 * time.Second,
		Frame:             30 * time.Millisecond,
		MinSpeech:         200 * time.Millisecond,
		MaxSilence:        500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.SegmentDuration <= 0 {
		c.SegmentDuration = d.SegmentDuration
	}
	if c.MaxBufferDuration <= 0 {
		c.MaxBufferDuration = d.MaxBufferDuration
	}
	if c.Frame <= 0 {
		c.Frame = d.Frame
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = d.MinSpeech
	}
	if c.MaxSilence <= 0 {
		c.MaxSilence = d.MaxSilence
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = int(c.SegmentDuration / (100 * time.Millisecond))
		if c.MaxChunks < 1 {
			c.MaxChunks = 1
		}
	}
	return c
}

// FrameSamples returns the number of samples in one VAD sub-frame.
func (c Config) FrameSamples() int {
	return int(int64(c.SampleRate) * c.Frame.Milliseconds() / 1000)
}

// MinSpeechFrames returns MinSpeech expressed in whole frames.
func (c Config) MinSpeechFrames() int {
	return int(c.MinSpeech / c.Frame)
}

// MaxSilenceFrames returns MaxSilence expressed in whole frames.
func (c Config) MaxSilenceFrames() int {
	return int(c.MaxSilence / c.Frame)
}

// Buffer accumulates audio for one session and decides utterance boundaries.
// It is not safe for concurrent use; the owning session serializes calls.
type Buffer struct {
	cfg       Config
	detector  vad.Detector
	ids       *Generator
	sessionID string
	log       zerolog.Logger
	metrics   *metrics.Metrics

	frameSamples     int
	minSpeechFrames  int
	maxSilenceFrames int
	maxSamples       int
	segmentSamples   int

	samples       []float32
	start         float64
	chunks        int
	speaker       string
	speechFrames  int
	silenceFrames int
}

// NewBuffer creates a buffer for sessionID. Zero fields in cfg take defaults.
func NewBuffer(sessionID string, cfg Config, detector vad.Detector) *Buffer {
	cfg = cfg.withDefaults()
	return &Buffer{
		cfg:              cfg,
		detector:         detector,
		ids:              NewGenerator(),
		sessionID:        sessionID,
		log:              logging.WithSession(sessionID, "").With().Str("component", "segment").Logger(),
		metrics:          metrics.DefaultMetrics,
		frameSamples:     cfg.FrameSamples(),
		minSpeechFrames:  cfg.MinSpeechFrames(),
		maxSilenceFrames: cfg.MaxSilenceFrames(),
		maxSamples:       durationSamples(cfg.MaxBufferDuration, cfg.SampleRate),
		segmentSamples:   durationSamples(cfg.SegmentDuration, cfg.SampleRate),
	}
}

func durationSamples(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

// Config returns the effective configuration.
func (b *Buffer) Config() Config {
	return b.cfg
}

// AddChunk appends a chunk and reports the utterance it completes, if any.
// Chunks at a different sample rate are resampled first.
func (b *Buffer) AddChunk(chunk models.AudioChunk) (models.Utterance, bool) {
	samples := chunk.Samples
	if chunk.SampleRate > 0 && chunk.SampleRate != b.cfg.SampleRate {
		samples = Resample(samples, chunk.SampleRate, b.cfg.SampleRate)
	}

	if b.chunks == 0 {
		b.start = chunk.Timestamp
	}
	b.samples = append(b.samples, samples...)
	b.chunks++
	if chunk.Speaker != "" {
		b.speaker = chunk.Speaker
	}

	if len(b.samples) >= b.maxSamples {
		b.log.Warn().
			Int("samples", len(b.samples)).
			Dur("maxBufferDuration", b.cfg.MaxBufferDuration).
			Msg("Buffer overflow, forcing utterance")
		return b.emitOverflow()
	}

	b.classify(samples)

	switch {
	case b.speechFrames >= b.minSpeechFrames && b.silenceFrames >= b.maxSilenceFrames:
		return b.emit(ReasonVAD)
	case len(b.samples) >= b.segmentSamples:
		return b.emit(ReasonDuration)
	case b.chunks >= b.cfg.MaxChunks:
		return b.emit(ReasonCount)
	}
	return models.Utterance{}, false
}

// classify runs VAD over whole sub-frames of samples. A trailing partial
// frame is kept as audio but not classified.
func (b *Buffer) classify(samples []float32) {
	if b.detector == nil || b.frameSamples <= 0 {
		return
	}
	for off := 0; off+b.frameSamples <= len(samples); off += b.frameSamples {
		speech, err := b.detector.IsSpeech(samples[off : off+b.frameSamples])
		if err != nil {
			b.log.Debug().Err(err).Int("offset", off).Msg("VAD error, treating frame as speech")
			b.metrics.RecordVADError()
			speech = true
		}
		if speech {
			b.speechFrames++
			b.silenceFrames = 0
		} else {
			// speechFrames is cumulative across silence until emission.
			b.silenceFrames++
		}
	}
}

// Flush emits whatever is buffered.
func (b *Buffer) Flush() (models.Utterance, bool) {
	return b.emit(ReasonFlush)
}

// Discard drops the buffered audio and returns the number of samples dropped.
func (b *Buffer) Discard() int {
	n := len(b.samples)
	b.reset()
	return n
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Duration returns the buffered audio duration.
func (b *Buffer) Duration() time.Duration {
	return time.Duration(float64(len(b.samples)) / float64(b.cfg.SampleRate) * float64(time.Second))
}

// Counters returns the current speech and silence frame counters.
func (b *Buffer) Counters() (speech, silence int) {
	return b.speechFrames, b.silenceFrames
}

func (b *Buffer) emit(reason string) (models.Utterance, bool) {
	if len(b.samples) == 0 {
		b.reset()
		return models.Utterance{}, false
	}

	u := models.Utterance{
		ID:         b.ids.Next(b.sessionID),
		Samples:    b.samples,
		Timestamp:  b.start,
		SampleRate: b.cfg.SampleRate,
		Speaker:    b.speaker,
		Reason:     reason,
		ChunkCount: b.chunks,
	}
	b.reset()

	b.metrics.RecordUtterance(reason, u.Duration())
	b.log.Debug().
		Str("utteranceId", u.ID).
		Str("reason", reason).
		Int("chunks", u.ChunkCount).
		Float64("duration", u.Duration()).
		Msg("Utterance emitted")
	return u, true
}

// emitOverflow emits exactly maxSamples and keeps the rest buffered as the
// start of the next utterance.
func (b *Buffer) emitOverflow() (models.Utterance, bool) {
	var rest []float32
	if len(b.samples) > b.maxSamples {
		rest = append([]float32(nil), b.samples[b.maxSamples:]...)
		b.samples = b.samples[:b.maxSamples]
	}
	start, speaker := b.start, b.speaker

	u, ok := b.emit(ReasonOverflow)
	if len(rest) > 0 {
		b.samples = rest
		b.start = start + float64(b.maxSamples)/float64(b.cfg.SampleRate)
		b.chunks = 1
		b.speaker = speaker
	}
	return u, ok
}

func (b *Buffer) reset() {
	b.samples = nil
	b.chunks = 0
	b.start = 0
	b.speaker = ""
	b.speechFrames = 0
	b.silenceFrames = 0
}
