// Package google provides a Google Cloud Speech-to-Text backend.
// Cloud Speech has no local accelerator, so the engine always runs it as cpu.
package google

import (
	"context"
	"errors"
	"math"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/service/stt"
)

// Config holds Google Speech-to-Text configuration.
type Config struct {
	LanguageCode  string
	SampleRateHz  int
	AudioEncoding string
	Endpoint      string // optional API endpoint override
}

// DefaultConfig returns default Google STT configuration.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
	}
}

// recognizer is the subset of the Speech client used here.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type clientRecognizer struct {
	client *speech.Client
}

func (c clientRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return c.client.Recognize(ctx, req)
}

func (c clientRecognizer) Close() error {
	return c.client.Close()
}

// Backend implements stt.Backend on Cloud Speech Recognize.
type Backend struct {
	cfg Config

	mu        sync.Mutex
	newClient func(ctx context.Context) (recognizer, error)
}

// New creates a Google backend. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS when the client is first needed.
func New(cfg Config) *Backend {
	b := &Backend{cfg: cfg}
	b.newClient = func(ctx context.Context) (recognizer, error) {
		var opts []option.ClientOption
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
		}
		c, err := speech.NewClient(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return clientRecognizer{client: c}, nil
	}
	return b
}

// Name implements stt.Backend.
func (b *Backend) Name() string {
	return "google"
}

// Probe implements stt.Backend. Only cpu is available.
func (b *Backend) Probe(ctx context.Context, device string) error {
	if device != stt.DeviceCPU {
		return stt.NewError(stt.KindAcceleratorUnavailable, "probe", device, errors.New("cloud backend has no local accelerator"))
	}
	return nil
}

// Load implements stt.Backend.
func (b *Backend) Load(ctx context.Context, spec stt.LoadSpec) (stt.Model, error) {
	if spec.Device != stt.DeviceCPU {
		return nil, stt.NewError(stt.KindAcceleratorUnavailable, "load", spec.Device, errors.New("cloud backend has no local accelerator"))
	}

	b.mu.Lock()
	newClient := b.newClient
	b.mu.Unlock()

	client, err := newClient(ctx)
	if err != nil {
		return nil, stt.NewError(classify(err), "load", spec.Device, err)
	}
	return &model{client: client, cfg: b.cfg, name: modelFor(spec.ModelSize)}, nil
}

// modelFor maps a model size to a Cloud Speech recognition model.
func modelFor(size string) string {
	switch size {
	case "large", "large-v2", "large-v3", "medium":
		return "latest_long"
	case "small":
		return "latest_short"
	default:
		return "default"
	}
}

type model struct {
	client recognizer
	cfg    Config
	name   string
}

// Transcribe implements stt.Model.
func (m *model) Transcribe(ctx context.Context, audio stt.Audio, opts stt.DecodeOptions) (stt.Recognition, error) {
	rate := audio.SampleRate
	if rate <= 0 {
		rate = m.cfg.SampleRateHz
	}
	lang := m.cfg.LanguageCode
	if lang == "" {
		lang = opts.Language
	}

	resp, err := m.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:              parseAudioEncoding(m.cfg.AudioEncoding),
			SampleRateHertz:       int32(rate),
			LanguageCode:          lang,
			MaxAlternatives:       1,
			EnableWordTimeOffsets: opts.WordTimestamps,
			Model:                 m.name,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: stt.EncodePCM16(audio.Samples)},
		},
	})
	if err != nil {
		return stt.Recognition{}, stt.NewError(classify(err), "transcribe", stt.DeviceCPU, err)
	}
	return toRecognition(resp, lang), nil
}

// toRecognition converts results to segments. Cloud confidence in (0, 1] is
// mapped to a log probability so the engine's floor applies uniformly; an
// unset confidence maps to 0.
func toRecognition(resp *speechpb.RecognizeResponse, lang string) stt.Recognition {
	rec := stt.Recognition{Language: lang}
	prevEnd := 0.0
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		end := prevEnd
		if d := r.GetResultEndTime(); d != nil {
			end = d.AsDuration().Seconds()
		}
		conf := 0.0
		if c := float64(alt.GetConfidence()); c > 0 {
			conf = math.Log(c)
		}
		rec.Segments = append(rec.Segments, models.TranscriptSegment{
			Text:        alt.GetTranscript(),
			StartOffset: prevEnd,
			EndOffset:   end,
			Confidence:  conf,
		})
		if r.GetLanguageCode() != "" {
			rec.Language = r.GetLanguageCode()
		}
		prevEnd = end
	}
	if len(rec.Segments) > 0 {
		rec.LanguageProbability = 1
	}
	return rec
}

// Close implements stt.Model.
func (m *model) Close() error {
	return m.client.Close()
}

func classify(err error) stt.Kind {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return stt.KindUnavailable
	case codes.NotFound:
		return stt.KindModelNotFound
	default:
		return stt.KindUnknown
	}
}

// parseAudioEncoding converts string encoding to speechpb enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
