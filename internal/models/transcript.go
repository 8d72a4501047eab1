// Package models defines the audio, transcript and session data structures
// shared by the pipeline and the wire protocol.
package models

// AudioChunk is one timestamped block of mono float PCM as delivered by the client.
type AudioChunk struct {
	Samples    []float32
	Timestamp  float64 // client clock, seconds
	SampleRate int
	Speaker    string
}

// Duration returns the chunk length in seconds.
func (c AudioChunk) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Utterance is one contiguous audio segment selected for transcription.
// It is never mutated after the Segmenting Buffer emits it.
type Utterance struct {
	ID         string
	Samples    []float32
	Timestamp  float64 // timestamp of the first chunk
	SampleRate int
	Speaker    string // speaker of the chunk that closed the segment
	Reason     string // overflow, vad, duration, count or flush
	ChunkCount int
}

// Duration returns the utterance length in seconds.
func (u Utterance) Duration() float64 {
	if u.SampleRate <= 0 {
		return 0
	}
	return float64(len(u.Samples)) / float64(u.SampleRate)
}

// End returns the timestamp of the last sample.
func (u Utterance) End() float64 {
	return u.Timestamp + u.Duration()
}

// TranscriptSegment is one recognized phrase inside an Utterance.
type TranscriptSegment struct {
	Text        string  `json:"text"`
	StartOffset float64 `json:"start"`
	EndOffset   float64 `json:"end"`
	Confidence  float64 `json:"confidence"`
}

// ModelInfo describes the configuration that produced a Transcript.
type ModelInfo struct {
	ModelSize    string `json:"model_size"`
	Device       string `json:"device"`
	ComputeType  string `json:"compute_type"`
	Backend      string `json:"backend"`
	FallbackUsed bool   `json:"fallback_used,omitempty"`
}

// Transcript is the engine result for one Utterance.
type Transcript struct {
	UtteranceID         string              `json:"utterance_id"`
	Text                string              `json:"text"`
	Start               float64             `json:"start"`
	End                 float64             `json:"end"`
	Confidence          float64             `json:"confidence"`
	Segments            []TranscriptSegment `json:"segments"`
	SegmentsFiltered    int                 `json:"segments_filtered"`
	Language            string              `json:"language,omitempty"`
	LanguageProbability float64             `json:"language_probability,omitempty"`
	ModelInfo           ModelInfo           `json:"model_info"`
}

// IsEmpty reports whether the transcript carries no text.
func (t Transcript) IsEmpty() bool {
	return t.Text == ""
}

// EngineConfig is the active engine configuration. It may differ from the
// requested configuration after a fallback.
type EngineConfig struct {
	ModelSize   string `json:"model_size"`
	Device      string `json:"device"`
	ComputeType string `json:"compute_type"`
	Backend     string `json:"backend"`
	IsReady     bool   `json:"is_ready"`
}

// SessionTranscript is one accepted entry of a session's transcript log.
type SessionTranscript struct {
	UtteranceID string  `json:"utterance_id"`
	Timestamp   float64 `json:"timestamp"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	LabeledText string  `json:"labeled_text"`
	Speaker     string  `json:"speaker"`
	Confidence  float64 `json:"confidence"`
}
