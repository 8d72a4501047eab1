package stt

import (
	"regexp"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/stat"

	"meeting-asr-service/internal/models"
)

// DefaultUnwantedPhrases are stripped from recognized text.
var DefaultUnwantedPhrases = []string{
	"subscribe", "bell icon", "channel", "like and share", "thanks for watching",
	"follow me on", "social media", "instagram", "twitter", "facebook",
	"don't forget to", "smash that", "notification", "comment below",
}

// DefaultHallucinationPhrases cause a whole segment to be dropped.
var DefaultHallucinationPhrases = []string{
	"thanks for watching", "thank you for watching", "subtitles by",
	"amara.org", "captions by", "transcription by", "copyright",
	"all rights reserved", "see you in the next video", "like and subscribe",
}

// FilterConfig parameterises post-decoding filtering.
type FilterConfig struct {
	MinConfidence  float64
	MinChars       int
	Unwanted       []string
	Hallucinations []string
}

// DefaultFilterConfig returns the avg_logprob floor of -1.0, a four
// character minimum and the default phrase lists.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinConfidence:  -1.0,
		MinChars:       4,
		Unwanted:       DefaultUnwantedPhrases,
		Hallucinations: DefaultHallucinationPhrases,
	}
}

// FilterStats counts segments removed by each filter stage.
type FilterStats struct {
	LowConfidence int
	Empty         int
	Numeric       int
	Short         int
	Hallucination int
}

// Total returns the number of dropped segments.
func (s FilterStats) Total() int {
	return s.LowConfidence + s.Empty + s.Numeric + s.Short + s.Hallucination
}

// Filter applies confidence, phrase and length filtering to recognized segments.
type Filter struct {
	cfg            FilterConfig
	unwanted       *regexp.Regexp
	hallucinations []string
}

// NewFilter compiles cfg.
func NewFilter(cfg FilterConfig) *Filter {
	f := &Filter{cfg: cfg}
	if len(cfg.Unwanted) > 0 {
		alts := make([]string, 0, len(cfg.Unwanted))
		for _, p := range cfg.Unwanted {
			if p = strings.TrimSpace(p); p != "" {
				alts = append(alts, regexp.QuoteMeta(p))
			}
		}
		if len(alts) > 0 {
			f.unwanted = regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
		}
	}
	for _, p := range cfg.Hallucinations {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			f.hallucinations = append(f.hallucinations, p)
		}
	}
	return f
}

// Clean strips unwanted phrases until none remain and collapses whitespace.
func (f *Filter) Clean(text string) string {
	for {
		next := text
		if f.unwanted != nil {
			next = f.unwanted.ReplaceAllString(next, " ")
		}
		next = strings.Join(strings.Fields(next), " ")
		if next == text {
			return text
		}
		text = next
	}
}

// Apply filters segs in order: confidence floor, phrase stripping,
// empty/numeric/short text, hallucination block list. Survivors carry
// their cleaned text.
func (f *Filter) Apply(segs []models.TranscriptSegment) ([]models.TranscriptSegment, FilterStats) {
	var stats FilterStats
	kept := make([]models.TranscriptSegment, 0, len(segs))
	for _, seg := range segs {
		if seg.Confidence < f.cfg.MinConfidence {
			stats.LowConfidence++
			continue
		}
		text := f.Clean(seg.Text)
		switch {
		case text == "":
			stats.Empty++
			continue
		case isDigits(text):
			stats.Numeric++
			continue
		case len([]rune(text)) < f.cfg.MinChars:
			stats.Short++
			continue
		case f.isHallucination(text):
			stats.Hallucination++
			continue
		}
		seg.Text = text
		kept = append(kept, seg)
	}
	return kept, stats
}

// Refilter re-applies the filter to a transcript's surviving segments and
// rebuilds its text and confidence. Filtering is idempotent, so an already
// filtered transcript comes back unchanged.
func (f *Filter) Refilter(t models.Transcript) models.Transcript {
	kept, stats := f.Apply(t.Segments)
	t.Segments = kept
	t.SegmentsFiltered += stats.Total()
	t.Text = JoinSegments(kept)
	t.Confidence = MeanConfidence(kept)
	return t
}

func (f *Filter) isHallucination(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range f.hallucinations {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// JoinSegments space-joins segment texts.
func JoinSegments(segs []models.TranscriptSegment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}

// MeanConfidence returns the mean segment confidence, or 0 for no segments.
func MeanConfidence(segs []models.TranscriptSegment) float64 {
	if len(segs) == 0 {
		return 0
	}
	xs := make([]float64, len(segs))
	for i, s := range segs {
		xs[i] = s.Confidence
	}
	return stat.Mean(xs, nil)
}
