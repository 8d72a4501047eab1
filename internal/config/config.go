// Package config loads service configuration from defaults, an optional TOML
// file and environment variables, in that order of precedence (env wins).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

// Configuration is the complete service configuration.
type Configuration struct {
	Service       ServiceConfig       `toml:"service"`
	Segment       SegmentConfig       `toml:"segment"`
	VAD           VADConfig           `toml:"vad"`
	STT           STTConfig           `toml:"stt"`
	Whisper       WhisperConfig       `toml:"whisper"`
	Google        GoogleConfig        `toml:"google"`
	Workers       WorkerConfig        `toml:"workers"`
	Kafka         KafkaConfig         `toml:"kafka"`
	Observability ObservabilityConfig `toml:"observability"`
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal   string `toml:"principal"`
	HTTPPort    string `toml:"http_port"`
	GRPCPort    string `toml:"grpc_port"`
	MetricsPort string `toml:"metrics_port"`
}

// SegmentConfig holds Segmenting Buffer parameters.
type SegmentConfig struct {
	SampleRateHz      int           `toml:"sample_rate_hz"`
	Duration          time.Duration `toml:"duration"`
	MaxBufferDuration time.Duration `toml:"max_buffer_duration"`
	MaxChunks         int           `toml:"max_chunks"` // 0 derives the ceiling from Duration
}

// VADConfig holds voice activity detection parameters.
type VADConfig struct {
	Frame           time.Duration `toml:"frame"`
	MinSpeech       time.Duration `toml:"min_speech"`
	MaxSilence      time.Duration `toml:"max_silence"`
	EnergyThreshold float64       `toml:"energy_threshold"`
}

// STTConfig holds the requested engine configuration and decoding policy.
type STTConfig struct {
	Provider         string        `toml:"provider"`
	ModelSize        string        `toml:"model_size"`
	Device           string        `toml:"device"`
	ComputeType      string        `toml:"compute_type"`
	ForceCPU         bool          `toml:"force_cpu"`
	LanguageCode     string        `toml:"language_code"`
	BeamSize         int           `toml:"beam_size"`
	BestOf           int           `toml:"best_of"`
	Patience         float64       `toml:"patience"`
	MinConfidence    float64       `toml:"min_confidence"`
	MinSegmentChars  int           `toml:"min_segment_chars"`
	Watchdog         time.Duration `toml:"watchdog"`
	UnwantedPhrases  []string      `toml:"unwanted_phrases"`
	HallucinationSet []string      `toml:"hallucination_phrases"`
}

// WhisperConfig configures the HTTP whisper inference worker backend.
type WhisperConfig struct {
	Endpoint string        `toml:"endpoint"`
	APIKey   string        `toml:"api_key"`
	Timeout  time.Duration `toml:"timeout"`
}

// GoogleConfig configures the Cloud Speech backend.
type GoogleConfig struct {
	Endpoint string `toml:"endpoint"`
}

// WorkerConfig bounds transcription concurrency.
type WorkerConfig struct {
	PoolSize  int `toml:"pool_size"`
	QueueSize int `toml:"queue_size"`
}

// KafkaConfig configures the collaborator fan-out.
type KafkaConfig struct {
	Enabled         bool     `toml:"enabled"`
	Brokers         []string `toml:"brokers"`
	TopicTranscript string   `toml:"topic_transcript"`
	TopicSession    string   `toml:"topic_session"`
	Principal       string   `toml:"principal"`
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:   "svc-meeting-asr",
			HTTPPort:    "8000",
			GRPCPort:    "50051",
			MetricsPort: "9090",
		},
		Segment: SegmentConfig{
			SampleRateHz:      16000,
			Duration:          3 * time.Second,
			MaxBufferDuration: 15 * time.Second,
		},
		VAD: VADConfig{
			Frame:           30 * time.Millisecond,
			MinSpeech:       200 * time.Millisecond,
			MaxSilence:      500 * time.Millisecond,
			EnergyThreshold: 0.01,
		},
		STT: STTConfig{
			Provider:        "mock",
			ModelSize:       "medium",
			Device:          "auto",
			ComputeType:     "float16",
			LanguageCode:    "en-US",
			BeamSize:        10,
			BestOf:          10,
			Patience:        1.3,
			MinConfidence:   -1.0,
			MinSegmentChars: 4,
			Watchdog:        30 * time.Second,
		},
		Whisper: WhisperConfig{
			Timeout: 60 * time.Second,
		},
		Workers: WorkerConfig{
			PoolSize:  2,
			QueueSize: 8,
		},
		Kafka: KafkaConfig{
			TopicTranscript: "meeting.transcript.final",
			TopicSession:    "meeting.session.completed",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration. A CONFIG_FILE that cannot be decoded is
// logged and ignored.
func Load() *Configuration {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to decode config file, using defaults")
			cfg = Default()
		}
	}

	s := &cfg.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.MetricsPort = envOrDefault("METRICS_PORT", s.MetricsPort)

	seg := &cfg.Segment
	seg.SampleRateHz = envOrDefaultInt("AUDIO_SAMPLE_RATE_HZ", seg.SampleRateHz)
	seg.Duration = envOrDefaultDuration("SEGMENT_DURATION", seg.Duration)
	seg.MaxBufferDuration = envOrDefaultDuration("SEGMENT_MAX_BUFFER_DURATION", seg.MaxBufferDuration)
	seg.MaxChunks = envOrDefaultInt("SEGMENT_MAX_CHUNKS", seg.MaxChunks)

	v := &cfg.VAD
	v.Frame = envOrDefaultDuration("VAD_FRAME", v.Frame)
	v.MinSpeech = envOrDefaultDuration("VAD_MIN_SPEECH", v.MinSpeech)
	v.MaxSilence = envOrDefaultDuration("VAD_MAX_SILENCE", v.MaxSilence)
	v.EnergyThreshold = envOrDefaultFloat("VAD_ENERGY_THRESHOLD", v.EnergyThreshold)

	st := &cfg.STT
	st.Provider = envOrDefault("STT_PROVIDER", st.Provider)
	st.ModelSize = envOrDefault("STT_MODEL_SIZE", st.ModelSize)
	st.Device = envOrDefault("STT_DEVICE", st.Device)
	st.ComputeType = envOrDefault("STT_COMPUTE_TYPE", st.ComputeType)
	st.ForceCPU = envOrDefaultBool("STT_FORCE_CPU", st.ForceCPU)
	st.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", st.LanguageCode)
	st.BeamSize = envOrDefaultInt("STT_BEAM_SIZE", st.BeamSize)
	st.BestOf = envOrDefaultInt("STT_BEST_OF", st.BestOf)
	st.Patience = envOrDefaultFloat("STT_PATIENCE", st.Patience)
	st.MinConfidence = envOrDefaultFloat("STT_MIN_CONFIDENCE", st.MinConfidence)
	st.MinSegmentChars = envOrDefaultInt("STT_MIN_SEGMENT_CHARS", st.MinSegmentChars)
	st.Watchdog = envOrDefaultDuration("STT_WATCHDOG", st.Watchdog)

	w := &cfg.Whisper
	w.Endpoint = envOrDefault("WHISPER_ENDPOINT", w.Endpoint)
	w.APIKey = envOrDefault("WHISPER_API_KEY", w.APIKey)
	w.Timeout = envOrDefaultDuration("WHISPER_TIMEOUT", w.Timeout)

	cfg.Google.Endpoint = envOrDefault("GOOGLE_SPEECH_ENDPOINT", cfg.Google.Endpoint)

	cfg.Workers.PoolSize = envOrDefaultInt("WORKER_POOL_SIZE", cfg.Workers.PoolSize)
	cfg.Workers.QueueSize = envOrDefaultInt("WORKER_QUEUE_SIZE", cfg.Workers.QueueSize)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	k.Brokers = envOrDefaultList("KAFKA_BROKERS", k.Brokers)
	k.TopicTranscript = envOrDefault("KAFKA_TOPIC_TRANSCRIPT", k.TopicTranscript)
	k.TopicSession = envOrDefault("KAFKA_TOPIC_SESSION", k.TopicSession)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	o := &cfg.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)

	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
