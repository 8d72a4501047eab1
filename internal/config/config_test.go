package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT", "METRICS_PORT",
		"AUDIO_SAMPLE_RATE_HZ", "SEGMENT_DURATION", "SEGMENT_MAX_BUFFER_DURATION", "SEGMENT_MAX_CHUNKS",
		"VAD_FRAME", "VAD_MIN_SPEECH", "VAD_MAX_SILENCE", "VAD_ENERGY_THRESHOLD",
		"STT_PROVIDER", "STT_MODEL_SIZE", "STT_DEVICE", "STT_COMPUTE_TYPE", "STT_FORCE_CPU",
		"STT_LANGUAGE_CODE", "STT_BEAM_SIZE", "STT_BEST_OF", "STT_PATIENCE",
		"STT_MIN_CONFIDENCE", "STT_MIN_SEGMENT_CHARS", "STT_WATCHDOG",
		"WHISPER_ENDPOINT", "WHISPER_API_KEY", "WHISPER_TIMEOUT", "GOOGLE_SPEECH_ENDPOINT",
		"WORKER_POOL_SIZE", "WORKER_QUEUE_SIZE",
		"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_TRANSCRIPT", "KAFKA_TOPIC_SESSION", "KAFKA_PRINCIPAL",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		if old, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, old) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Service.Principal != "svc-meeting-asr" {
		t.Errorf("expected default principal 'svc-meeting-asr', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8000" || cfg.Service.GRPCPort != "50051" || cfg.Service.MetricsPort != "9090" {
		t.Errorf("unexpected default ports: %+v", cfg.Service)
	}

	if cfg.Segment.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Segment.SampleRateHz)
	}
	if cfg.Segment.Duration != 3*time.Second || cfg.Segment.MaxBufferDuration != 15*time.Second {
		t.Errorf("unexpected segment durations: %+v", cfg.Segment)
	}
	if cfg.Segment.MaxChunks != 0 {
		t.Errorf("expected derived max chunks (0), got %d", cfg.Segment.MaxChunks)
	}

	if cfg.VAD.Frame != 30*time.Millisecond || cfg.VAD.MinSpeech != 200*time.Millisecond || cfg.VAD.MaxSilence != 500*time.Millisecond {
		t.Errorf("unexpected VAD defaults: %+v", cfg.VAD)
	}

	st := cfg.STT
	if st.Provider != "mock" || st.ModelSize != "medium" || st.Device != "auto" || st.ComputeType != "float16" {
		t.Errorf("unexpected engine defaults: %+v", st)
	}
	if st.BeamSize != 10 || st.BestOf != 10 || st.Patience != 1.3 {
		t.Errorf("unexpected decode defaults: %+v", st)
	}
	if st.MinConfidence != -1.0 || st.MinSegmentChars != 4 || st.Watchdog != 30*time.Second {
		t.Errorf("unexpected filter defaults: %+v", st)
	}

	if cfg.Workers.PoolSize != 2 || cfg.Workers.QueueSize != 8 {
		t.Errorf("unexpected worker defaults: %+v", cfg.Workers)
	}

	if cfg.Kafka.Enabled {
		t.Error("expected kafka disabled by default")
	}
	if cfg.Kafka.Principal != "svc-meeting-asr" {
		t.Errorf("expected kafka principal to follow service principal, got %s", cfg.Kafka.Principal)
	}

	if cfg.Observability.LogLevel != "info" || cfg.Observability.LogFormat != "json" {
		t.Errorf("unexpected observability defaults: %+v", cfg.Observability)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "svc-custom")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("SEGMENT_DURATION", "2s")
	t.Setenv("SEGMENT_MAX_CHUNKS", "40")
	t.Setenv("VAD_ENERGY_THRESHOLD", "0.02")
	t.Setenv("STT_PROVIDER", "whisper")
	t.Setenv("STT_FORCE_CPU", "true")
	t.Setenv("STT_MIN_CONFIDENCE", "-0.8")
	t.Setenv("WHISPER_ENDPOINT", "http://whisper:9000")
	t.Setenv("WORKER_POOL_SIZE", "4")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.Service.Principal != "svc-custom" || cfg.Service.HTTPPort != "9000" {
		t.Errorf("service = %+v", cfg.Service)
	}
	if cfg.Segment.Duration != 2*time.Second || cfg.Segment.MaxChunks != 40 {
		t.Errorf("segment = %+v", cfg.Segment)
	}
	if cfg.VAD.EnergyThreshold != 0.02 {
		t.Errorf("energy threshold = %v", cfg.VAD.EnergyThreshold)
	}
	if cfg.STT.Provider != "whisper" || !cfg.STT.ForceCPU || cfg.STT.MinConfidence != -0.8 {
		t.Errorf("stt = %+v", cfg.STT)
	}
	if cfg.Whisper.Endpoint != "http://whisper:9000" {
		t.Errorf("whisper endpoint = %q", cfg.Whisper.Endpoint)
	}
	if cfg.Workers.PoolSize != 4 {
		t.Errorf("pool size = %d", cfg.Workers.PoolSize)
	}
	if !cfg.Kafka.Enabled || !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if cfg.Kafka.Principal != "svc-custom" {
		t.Errorf("kafka principal = %q", cfg.Kafka.Principal)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUDIO_SAMPLE_RATE_HZ", "fast")
	t.Setenv("SEGMENT_DURATION", "3")
	t.Setenv("STT_FORCE_CPU", "maybe")
	t.Setenv("STT_PATIENCE", "high")

	cfg := Load()

	if cfg.Segment.SampleRateHz != 16000 {
		t.Errorf("sample rate = %d, want default", cfg.Segment.SampleRateHz)
	}
	if cfg.Segment.Duration != 3*time.Second {
		t.Errorf("duration = %v, want default", cfg.Segment.Duration)
	}
	if cfg.STT.ForceCPU {
		t.Error("force cpu should keep default false")
	}
	if cfg.STT.Patience != 1.3 {
		t.Errorf("patience = %v, want default", cfg.STT.Patience)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "asr.toml")
	content := `
[service]
principal = "svc-from-file"

[segment]
sample_rate_hz = 48000

[stt]
provider = "google"
model_size = "small"
unwanted_phrases = ["thank you for watching"]

[kafka]
brokers = ["file-broker:9092"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("STT_MODEL_SIZE", "large-v3")

	cfg := Load()

	if cfg.Service.Principal != "svc-from-file" {
		t.Errorf("principal = %q", cfg.Service.Principal)
	}
	if cfg.Segment.SampleRateHz != 48000 {
		t.Errorf("sample rate = %d", cfg.Segment.SampleRateHz)
	}
	if cfg.STT.Provider != "google" {
		t.Errorf("provider = %q", cfg.STT.Provider)
	}
	if cfg.STT.ModelSize != "large-v3" {
		t.Errorf("env should win over file, model size = %q", cfg.STT.ModelSize)
	}
	if len(cfg.STT.UnwantedPhrases) != 1 {
		t.Errorf("unwanted phrases = %v", cfg.STT.UnwantedPhrases)
	}
	if cfg.STT.BeamSize != 10 {
		t.Errorf("unset file keys should keep defaults, beam size = %d", cfg.STT.BeamSize)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"file-broker:9092"}) {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_BadConfigFileIgnored(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("[stt\nprovider = "), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg := Load()
	if cfg.STT.Provider != "mock" {
		t.Errorf("provider = %q, want default after bad file", cfg.STT.Provider)
	}
}

func TestEnvOrDefaultList(t *testing.T) {
	tests := []struct {
		value string
		want  []string
	}{
		{"", []string{"default"}},
		{"a", []string{"a"}},
		{" a , b ,, c ", []string{"a", "b", "c"}},
		{" , ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_LIST", tt.value)
			got := envOrDefaultList("TEST_LIST", []string{"default"})
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("envOrDefaultList(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
