// Package schema decodes and validates inbound client messages.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"meeting-asr-service/internal/models"
)

// Bounds on the sample_rate a client may declare. Zero means the service rate.
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
)

// ValidationError reports a malformed inbound message.
type ValidationError struct {
	Type   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Type != "" && e.Field != "":
		return fmt.Sprintf("invalid %s message: %s %s", e.Type, e.Field, e.Reason)
	case e.Type != "":
		return fmt.Sprintf("invalid %s message: %s", e.Type, e.Reason)
	default:
		return "invalid message: " + e.Reason
	}
}

// Message is a decoded inbound envelope. Exactly one payload field is set
// for handshake, start_recording and audio messages.
type Message struct {
	Type      string
	Handshake *models.HandshakeRequest
	Start     *models.StartRecordingRequest
	Chunk     *models.AudioChunkRequest
}

// Validator decodes inbound envelopes.
type Validator struct {
	maxSamples int
}

// New returns a validator that rejects audio chunks above maxSamples
// samples. Zero disables the check.
func New(maxSamples int) *Validator {
	return &Validator{maxSamples: maxSamples}
}

// Decode parses raw into a Message. Failures are *ValidationError.
func (v *Validator) Decode(raw []byte) (Message, error) {
	var in models.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Message{}, &ValidationError{Reason: "invalid JSON format"}
	}
	if in.Type == "" {
		return Message{}, &ValidationError{Field: "type", Reason: "is required"}
	}

	msg := Message{Type: in.Type}
	switch in.Type {
	case models.TypeHandshake:
		var req models.HandshakeRequest
		if err := decodeData(in, &req); err != nil {
			return Message{}, err
		}
		msg.Handshake = &req
	case models.TypeStartRecording:
		var req models.StartRecordingRequest
		if err := decodeData(in, &req); err != nil {
			return Message{}, err
		}
		msg.Start = &req
	case models.TypeAudioChunk, models.TypeAudioData:
		var req models.AudioChunkRequest
		if err := decodeData(in, &req); err != nil {
			return Message{}, err
		}
		if err := v.validateChunk(in.Type, &req); err != nil {
			return Message{}, err
		}
		msg.Chunk = &req
	case models.TypeStopRecording, models.TypeVideoFrame:
	default:
		return Message{}, &ValidationError{Type: in.Type, Reason: "unknown message type"}
	}

	log.Debug().Str("type", msg.Type).Msg("Inbound message validated")
	return msg, nil
}

func (v *Validator) validateChunk(msgType string, req *models.AudioChunkRequest) error {
	if len(req.Audio) == 0 {
		return &ValidationError{Type: msgType, Field: "audio", Reason: "must not be empty"}
	}
	if v.maxSamples > 0 && len(req.Audio) > v.maxSamples {
		return &ValidationError{Type: msgType, Field: "audio", Reason: fmt.Sprintf("exceeds %d samples", v.maxSamples)}
	}
	for _, s := range req.Audio {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return &ValidationError{Type: msgType, Field: "audio", Reason: "contains non-finite samples"}
		}
	}
	if req.SampleRate != 0 && (req.SampleRate < MinSampleRate || req.SampleRate > MaxSampleRate) {
		return &ValidationError{Type: msgType, Field: "sample_rate", Reason: fmt.Sprintf("must be between %d and %d", MinSampleRate, MaxSampleRate)}
	}
	if req.Timestamp != nil && (math.IsNaN(*req.Timestamp) || *req.Timestamp < 0) {
		return &ValidationError{Type: msgType, Field: "timestamp", Reason: "must be a non-negative number"}
	}
	return nil
}

// decodeData unmarshals the data object. Absent or null data leaves dst zero.
func decodeData(in models.Inbound, dst any) error {
	data := bytes.TrimSpace(in.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &ValidationError{Type: in.Type, Field: "data", Reason: "is malformed"}
	}
	return nil
}

// ToChunk converts a validated request into an AudioChunk. A missing
// timestamp becomes now and a missing sample rate becomes defaultRate.
func ToChunk(req *models.AudioChunkRequest, now time.Time, defaultRate int) models.AudioChunk {
	ts := float64(now.UnixNano()) / float64(time.Second)
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	rate := req.SampleRate
	if rate == 0 {
		rate = defaultRate
	}
	return models.AudioChunk{
		Samples:    req.Audio,
		Timestamp:  ts,
		SampleRate: rate,
		Speaker:    req.Speaker,
	}
}
