package schema

import (
	"errors"
	"math"
	"testing"
	"time"

	"meeting-asr-service/internal/models"
)

func TestDecode_Valid(t *testing.T) {
	v := New(0)
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, m Message)
	}{
		{
			name: "handshake",
			raw:  `{"type":"handshake","data":{"client_id":"laptop-7"}}`,
			check: func(t *testing.T, m Message) {
				if m.Handshake == nil || m.Handshake.ClientID != "laptop-7" {
					t.Errorf("handshake = %+v", m.Handshake)
				}
			},
		},
		{
			name: "handshake without data",
			raw:  `{"type":"handshake"}`,
			check: func(t *testing.T, m Message) {
				if m.Handshake == nil || m.Handshake.ClientID != "" {
					t.Errorf("handshake = %+v", m.Handshake)
				}
			},
		},
		{
			name: "start recording",
			raw:  `{"type":"start_recording","data":{"captureMode":"screen"}}`,
			check: func(t *testing.T, m Message) {
				if m.Start == nil || m.Start.CaptureMode != "screen" {
					t.Errorf("start = %+v", m.Start)
				}
			},
		},
		{
			name: "audio chunk",
			raw:  `{"type":"audio_chunk","data":{"audio":[0.1,-0.2,0.3],"timestamp":12.5,"speaker":"you","sample_rate":48000}}`,
			check: func(t *testing.T, m Message) {
				c := m.Chunk
				if c == nil || len(c.Audio) != 3 || c.Speaker != "you" || c.SampleRate != 48000 || c.Timestamp == nil || *c.Timestamp != 12.5 {
					t.Errorf("chunk = %+v", c)
				}
			},
		},
		{
			name: "audio data alias",
			raw:  `{"type":"audio_data","data":{"audio":[0.5]}}`,
			check: func(t *testing.T, m Message) {
				if m.Chunk == nil || m.Type != models.TypeAudioData {
					t.Errorf("message = %+v", m)
				}
			},
		},
		{
			name:  "stop recording",
			raw:   `{"type":"stop_recording"}`,
			check: func(t *testing.T, m Message) {},
		},
		{
			name:  "video frame",
			raw:   `{"type":"video_frame","data":{"frame":"..."}}`,
			check: func(t *testing.T, m Message) {},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := v.Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	v := New(4)
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"not json", `{"type":`, ""},
		{"missing type", `{"data":{}}`, "type"},
		{"unknown type", `{"type":"dance"}`, ""},
		{"malformed data", `{"type":"handshake","data":"oops"}`, "data"},
		{"empty audio", `{"type":"audio_chunk","data":{"audio":[]}}`, "audio"},
		{"missing audio", `{"type":"audio_chunk","data":{}}`, "audio"},
		{"too many samples", `{"type":"audio_chunk","data":{"audio":[0,0,0,0,0]}}`, "audio"},
		{"audio not numbers", `{"type":"audio_chunk","data":{"audio":["a"]}}`, "data"},
		{"negative sample rate", `{"type":"audio_chunk","data":{"audio":[0],"sample_rate":-1}}`, "sample_rate"},
		{"tiny sample rate", `{"type":"audio_chunk","data":{"audio":[0],"sample_rate":100}}`, "sample_rate"},
		{"huge sample rate", `{"type":"audio_chunk","data":{"audio":[0],"sample_rate":500000}}`, "sample_rate"},
		{"negative timestamp", `{"type":"audio_chunk","data":{"audio":[0],"timestamp":-4}}`, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Decode([]byte(tt.raw))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Decode error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if verr.Error() == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestToChunk(t *testing.T) {
	now := time.Unix(1700000000, 500000000)

	ts := 3.25
	c := ToChunk(&models.AudioChunkRequest{Audio: []float32{0.1}, Timestamp: &ts, SampleRate: 48000, Speaker: "other"}, now, 16000)
	if c.Timestamp != 3.25 || c.SampleRate != 48000 || c.Speaker != "other" || len(c.Samples) != 1 {
		t.Errorf("chunk = %+v", c)
	}

	d := ToChunk(&models.AudioChunkRequest{Audio: []float32{0.1}}, now, 16000)
	if math.Abs(d.Timestamp-1700000000.5) > 1e-3 || d.SampleRate != 16000 {
		t.Errorf("defaults = %+v", d)
	}
}
