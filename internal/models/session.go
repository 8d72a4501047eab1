package models

import "time"

// Session is the state of one recording, from start_recording to stop or disconnect.
type Session struct {
	SessionID       string
	ClientID        string
	CaptureMode     string
	StartTime       time.Time
	EndTime         time.Time
	Transcripts     []SessionTranscript
	AudioChunkCount int
	// FirstChunkAt is the client timestamp of the first audio chunk; formatted
	// transcript offsets are relative to it.
	FirstChunkAt float64
	HasAudio     bool
}

// QualityMetrics summarises a session transcript.
type QualityMetrics struct {
	SegmentCount      int    `json:"segment_count"`
	ValidSegmentCount int    `json:"valid_segment_count"`
	CharacterCount    int    `json:"character_count"`
	WordCount         int    `json:"word_count"`
	Quality           string `json:"quality"`
}

// Quality tiers.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// SessionStats are bookkeeping counters for a finished session.
type SessionStats struct {
	Duration             float64 `json:"duration_seconds"`
	AudioChunks          int     `json:"audio_chunks"`
	TranscriptCount      int     `json:"transcript_count"`
	ValidTranscriptCount int     `json:"valid_transcript_count"`
	QualityRatio         float64 `json:"quality_ratio"`
}

// TranscriptValidation reports content checks on the joined transcript.
type TranscriptValidation struct {
	HasContent       bool    `json:"has_content"`
	SufficientLength bool    `json:"sufficient_length"`
	ContainsText     bool    `json:"contains_text"`
	QualityScore     float64 `json:"quality_score"`
}

// SessionArtifact is the aggregated, validated result of a session.
type SessionArtifact struct {
	SessionID           string               `json:"session_id"`
	ClientID            string               `json:"client_id"`
	CaptureMode         string               `json:"capture_mode,omitempty"`
	StartedAt           time.Time            `json:"started_at"`
	EndedAt             time.Time            `json:"ended_at"`
	OriginalTranscript  string               `json:"original_transcript"`
	FormattedTranscript string               `json:"formatted_transcript"`
	QualityMetrics      QualityMetrics       `json:"quality_metrics"`
	Stats               SessionStats         `json:"session_stats"`
	Validation          TranscriptValidation `json:"validation_status"`
	Transcripts         []SessionTranscript  `json:"transcripts"`
	ValidTranscripts    []SessionTranscript  `json:"valid_transcripts"`
}
