package models

import "encoding/json"

// Inbound message types.
const (
	TypeHandshake      = "handshake"
	TypeStartRecording = "start_recording"
	TypeAudioChunk     = "audio_chunk"
	TypeAudioData      = "audio_data"
	TypeStopRecording  = "stop_recording"
	TypeVideoFrame     = "video_frame"
)

// Outbound message types.
const (
	TypeStatus           = "status"
	TypeRecordingStarted = "recording_started"
	TypeTranscript       = "transcript"
	TypeRecordingStopped = "recording_stopped"
	TypeError            = "error"
)

// Inbound is a decoded client envelope; Data is decoded per type by the schema package.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Envelope is an outbound message.
type Envelope struct {
	Type      string  `json:"type"`
	Data      any     `json:"data"`
	Timestamp float64 `json:"timestamp"`
}

// HandshakeRequest is the data of a handshake message.
type HandshakeRequest struct {
	ClientID string `json:"client_id"`
}

// StartRecordingRequest is the data of a start_recording message.
type StartRecordingRequest struct {
	CaptureMode string `json:"captureMode"`
}

// AudioChunkRequest is the data of an audio_chunk / audio_data message.
type AudioChunkRequest struct {
	Audio      []float32 `json:"audio"`
	Timestamp  *float64  `json:"timestamp"`
	Speaker    string    `json:"speaker"`
	SampleRate int       `json:"sample_rate"`
}

// StatusEvent answers a handshake.
type StatusEvent struct {
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
	ASRReady bool   `json:"asr_ready"`
}

// RecordingStartedEvent acknowledges start_recording.
type RecordingStartedEvent struct {
	SessionID     string `json:"session_id"`
	CaptureMode   string `json:"capture_mode"`
	RecordingType string `json:"recording_type"`
	ASREnabled    bool   `json:"asr_enabled"`
}

// TranscriptEvent is broadcast to every registered connection.
type TranscriptEvent struct {
	SessionID   string  `json:"session_id"`
	UtteranceID string  `json:"utterance_id"`
	Speaker     string  `json:"speaker"`
	Text        string  `json:"text"`
	LabeledText string  `json:"labeled_text"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Confidence  float64 `json:"confidence"`
}

// TranscriptAnalysis carries the raw and combined transcript. Analysis fields
// filled by downstream NLP/sentiment collaborators are opaque here.
type TranscriptAnalysis struct {
	OriginalTranscript string `json:"original_transcript"`
	CombinedTranscript string `json:"combined_transcript"`
}

// CompleteTranscripts lists every logged and every valid transcript.
type CompleteTranscripts struct {
	Transcripts      []SessionTranscript `json:"transcripts"`
	ValidTranscripts []SessionTranscript `json:"valid_transcripts"`
	SessionStats     SessionStats        `json:"session_stats"`
	TotalCount       int                 `json:"total_count"`
}

// RecordingStoppedEvent carries the aggregated session artifact.
type RecordingStoppedEvent struct {
	SessionID           string               `json:"session_id"`
	QualityMetrics      QualityMetrics       `json:"quality_metrics"`
	ValidationStatus    TranscriptValidation `json:"validation_status"`
	CompleteTranscripts CompleteTranscripts  `json:"complete_transcripts"`
	Analysis            TranscriptAnalysis   `json:"enhanced_transcript_analysis"`
}

// NewRecordingStopped builds the recording_stopped payload from an artifact.
func NewRecordingStopped(a SessionArtifact) RecordingStoppedEvent {
	return RecordingStoppedEvent{
		SessionID:        a.SessionID,
		QualityMetrics:   a.QualityMetrics,
		ValidationStatus: a.Validation,
		CompleteTranscripts: CompleteTranscripts{
			Transcripts:      a.Transcripts,
			ValidTranscripts: a.ValidTranscripts,
			SessionStats:     a.Stats,
			TotalCount:       len(a.Transcripts),
		},
		Analysis: TranscriptAnalysis{
			OriginalTranscript: a.OriginalTranscript,
			CombinedTranscript: a.FormattedTranscript,
		},
	}
}

// ErrorEvent reports a rejected client message.
type ErrorEvent struct {
	Message string `json:"message"`
}

// SessionCompletedEvent is published to downstream collaborators when a session ends.
type SessionCompletedEvent struct {
	EventType string          `json:"eventType"`
	Principal string          `json:"principal"`
	Reason    string          `json:"reason"` // stop or disconnect
	Artifact  SessionArtifact `json:"artifact"`
	Timestamp int64           `json:"timestamp"`
}

// TranscriptFinal is published to downstream collaborators for every accepted transcript.
type TranscriptFinal struct {
	EventType   string  `json:"eventType"`
	SessionID   string  `json:"sessionId"`
	ClientID    string  `json:"clientId"`
	UtteranceID string  `json:"utteranceId"`
	Speaker     string  `json:"speaker"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Timestamp   int64   `json:"timestamp"`
}
