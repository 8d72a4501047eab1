// Package aggregate turns a finished session's transcript log into a
// validated artifact.
package aggregate

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"meeting-asr-service/internal/models"
)

// Quality thresholds on the joined transcript length.
const (
	HighQualityChars   = 100
	MediumQualityChars = 50

	minValidChars      = 3
	sufficientLength   = 20
	ruleWidth          = 50
	sectionRuleWidth   = 30
	generatedTimestamp = "2006-01-02 15:04:05"
)

var errorMarkers = []string{"error", "failed", "timeout"}

// IsValid reports whether a logged transcript text counts towards the artifact.
func IsValid(text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minValidChars {
		return false
	}
	if text == "..." || text == "null" || isDigits(text) {
		return false
	}
	lower := strings.ToLower(text)
	for _, m := range errorMarkers {
		if strings.HasPrefix(lower, m) {
			return false
		}
	}
	return true
}

// Aggregate builds the artifact for s. It never fails; a session without
// valid transcripts yields empty text and low quality.
func Aggregate(s models.Session, now time.Time) models.SessionArtifact {
	end := s.EndTime
	if end.IsZero() {
		end = now
	}
	duration := end.Sub(s.StartTime).Seconds()
	if duration < 0 {
		duration = 0
	}

	valid := make([]models.SessionTranscript, 0, len(s.Transcripts))
	texts := make([]string, 0, len(s.Transcripts))
	for _, t := range s.Transcripts {
		if !IsValid(t.Text) {
			continue
		}
		valid = append(valid, t)
		texts = append(texts, strings.TrimSpace(t.Text))
	}

	original := strings.Join(texts, " ")
	if !hasLetter(original) {
		original = ""
	}

	words := strings.Fields(original)
	chars := utf8.RuneCountInString(original)

	transcripts := s.Transcripts
	if transcripts == nil {
		transcripts = []models.SessionTranscript{}
	}

	return models.SessionArtifact{
		SessionID:           s.SessionID,
		ClientID:            s.ClientID,
		CaptureMode:         s.CaptureMode,
		StartedAt:           s.StartTime,
		EndedAt:             end,
		OriginalTranscript:  original,
		FormattedTranscript: Format(s, valid, original, duration, now),
		QualityMetrics: models.QualityMetrics{
			SegmentCount:      len(s.Transcripts),
			ValidSegmentCount: len(valid),
			CharacterCount:    chars,
			WordCount:         len(words),
			Quality:           Quality(chars),
		},
		Stats: models.SessionStats{
			Duration:             duration,
			AudioChunks:          s.AudioChunkCount,
			TranscriptCount:      len(s.Transcripts),
			ValidTranscriptCount: len(valid),
			QualityRatio:         float64(len(valid)) / float64(max(len(s.Transcripts), 1)),
		},
		Validation:       Validate(original),
		Transcripts:      transcripts,
		ValidTranscripts: valid,
	}
}

// Quality maps a character count to a tier.
func Quality(chars int) string {
	switch {
	case chars >= HighQualityChars:
		return models.QualityHigh
	case chars >= MediumQualityChars:
		return models.QualityMedium
	default:
		return models.QualityLow
	}
}

// Validate runs the content checks on a joined transcript.
func Validate(text string) models.TranscriptValidation {
	text = strings.TrimSpace(text)
	v := models.TranscriptValidation{
		HasContent:       text != "",
		SufficientLength: utf8.RuneCountInString(text) >= sufficientLength,
		ContainsText:     hasLetter(text),
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return v
	}
	alpha := 0
	for _, w := range words {
		if isAlpha(w) {
			alpha++
		}
	}
	v.QualityScore = float64(alpha) / float64(len(words))
	return v
}

// Format renders the human-readable transcript. It is empty when there are
// no valid transcripts.
func Format(s models.Session, valid []models.SessionTranscript, original string, duration float64, now time.Time) string {
	if len(valid) == 0 {
		return ""
	}
	rule := strings.Repeat("=", ruleWidth)
	thin := strings.Repeat("-", ruleWidth)

	var b strings.Builder
	b.WriteString("MEETING TRANSCRIPT REPORT\n")
	b.WriteString(rule + "\n\n")

	b.WriteString("SESSION INFORMATION:\n")
	b.WriteString(strings.Repeat("-", sectionRuleWidth) + "\n")
	fmt.Fprintf(&b, "   Session ID: %s\n", s.SessionID)
	fmt.Fprintf(&b, "   Duration: %.1f seconds (%s)\n", duration, minutesSeconds(duration))
	fmt.Fprintf(&b, "   Valid Segments: %d\n", len(valid))
	fmt.Fprintf(&b, "   Total Content: %d characters\n", utf8.RuneCountInString(original))
	fmt.Fprintf(&b, "   Generated: %s\n\n", now.Format(generatedTimestamp))

	b.WriteString("CONVERSATION TRANSCRIPT:\n")
	b.WriteString(strings.Repeat("-", sectionRuleWidth) + "\n\n")

	for i, t := range valid {
		offset := t.Start - s.FirstChunkAt
		if t.Start == 0 {
			offset = t.Timestamp - s.FirstChunkAt
		}
		fmt.Fprintf(&b, "%2d. %s %s:\n", i+1, Clock(offset), SpeakerLabel(t.Speaker, i))
		fmt.Fprintf(&b, "    \"%s\"\n\n", strings.Join(strings.Fields(t.Text), " "))
	}

	b.WriteString(thin + "\n")
	b.WriteString("TRANSCRIPT SUMMARY:\n")
	fmt.Fprintf(&b, "   Total Segments: %d\n", len(valid))
	fmt.Fprintf(&b, "   Total Duration: %.1f seconds\n", duration)
	fmt.Fprintf(&b, "   Word Count: ~%d words\n", len(strings.Fields(original)))
	fmt.Fprintf(&b, "   Character Count: %d characters\n", utf8.RuneCountInString(original))
	b.WriteString(thin + "\n")
	return b.String()
}

// Clock formats seconds as [mm:ss]; negative offsets clamp to zero.
func Clock(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("[%02d:%02d]", total/60, total%60)
}

// SpeakerLabel maps a logged speaker to its display label; index is the
// zero-based line number.
func SpeakerLabel(speaker string, index int) string {
	switch strings.ToLower(speaker) {
	case "you", "user":
		return "You"
	case "other", "speaker":
		return "Speaker"
	}
	if utf8.RuneCountInString(speaker) > 1 {
		return cases.Title(language.Und).String(speaker)
	}
	return fmt.Sprintf("Speaker %d", index+1)
}

func minutesSeconds(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%dm %ds", total/60, total%60)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return s != ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
