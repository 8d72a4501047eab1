// Package stt wraps an acoustic model backend with device selection,
// fallback and post-decoding filtering.
package stt

import (
	"context"

	"meeting-asr-service/internal/models"
)

// Device names.
const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
	DeviceAuto = "auto"
)

// ComputeCPU is the precision used for every CPU attempt.
const ComputeCPU = "int8"

// Backend loads acoustic models. Implementations report failures as
// *BackendError so the engine can dispatch on Kind.
type Backend interface {
	Name() string
	// Probe performs a cheap round-trip on device before any model load.
	Probe(ctx context.Context, device string) error
	Load(ctx context.Context, spec LoadSpec) (Model, error)
}

// Model is a loaded acoustic model. It is not assumed to be safe for
// concurrent use.
type Model interface {
	Transcribe(ctx context.Context, audio Audio, opts DecodeOptions) (Recognition, error)
	Close() error
}

// LoadSpec is one model/device/precision combination.
type LoadSpec struct {
	ModelSize   string
	Device      string
	ComputeType string
}

func (s LoadSpec) String() string {
	return s.ModelSize + "/" + s.Device + "/" + s.ComputeType
}

// Audio is mono float PCM handed to a model.
type Audio struct {
	Samples    []float32
	SampleRate int
}

// DecodeOptions controls decoding. The engine always decodes
// deterministically with no conditioning on previous text.
type DecodeOptions struct {
	Language                string
	Temperature             float64
	BeamSize                int
	BestOf                  int
	Patience                float64
	ConditionOnPreviousText bool
	NoRepeatNgramSize       int
	WordTimestamps          bool
}

// DefaultDecodeOptions returns the accuracy-first decoding settings.
func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{
		Language:                "en",
		Temperature:             0,
		BeamSize:                10,
		BestOf:                  10,
		Patience:                1.3,
		ConditionOnPreviousText: false,
		NoRepeatNgramSize:       3,
		WordTimestamps:          true,
	}
}

// Recognition is the raw, unfiltered model output for one utterance.
// Segment confidence is the model's average log probability.
type Recognition struct {
	Segments            []models.TranscriptSegment
	Language            string
	LanguageProbability float64
}

// smallerModels lists fallback sizes in preference order.
var smallerModels = map[string][]string{
	"large-v3": {"medium", "small", "base"},
	"large-v2": {"medium", "small", "base"},
	"large":    {"medium", "small", "base"},
	"medium":   {"small", "base"},
	"small":    {"base"},
	"base":     {"tiny"},
}

// LoadPlan returns the load attempts in preference order: the requested
// model on the accelerator (when allowed), the requested model on CPU, then
// smaller models on CPU. Duplicates are removed.
func LoadPlan(modelSize, device, computeType string, accelerator bool) []LoadSpec {
	var plan []LoadSpec
	seen := make(map[LoadSpec]bool)
	add := func(s LoadSpec) {
		if !seen[s] {
			seen[s] = true
			plan = append(plan, s)
		}
	}

	if accelerator && device != DeviceCPU {
		accel := device
		if accel == DeviceAuto || accel == "" {
			accel = DeviceCUDA
		}
		add(LoadSpec{ModelSize: modelSize, Device: accel, ComputeType: computeType})
	}
	add(LoadSpec{ModelSize: modelSize, Device: DeviceCPU, ComputeType: ComputeCPU})
	for _, size := range smallerModels[modelSize] {
		add(LoadSpec{ModelSize: size, Device: DeviceCPU, ComputeType: ComputeCPU})
	}
	return plan
}
