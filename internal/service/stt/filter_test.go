package stt

import (
	"reflect"
	"testing"

	"meeting-asr-service/internal/models"
)

func seg(text string, conf float64) models.TranscriptSegment {
	return models.TranscriptSegment{Text: text, Confidence: conf}
}

func TestFilter_Clean(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	tests := []struct {
		in   string
		want string
	}{
		{"  hello   world ", "hello world"},
		{"Please SUBSCRIBE to the Channel now", "Please to the now"},
		{"hit the bell icon", "hit the"},
		{"channels are fine", "channels are fine"},
		{"subscribe subscribe", ""},
		{"bell \n icon", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := f.Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilter_Apply(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	in := []models.TranscriptSegment{
		seg("We shipped the release.", -0.2),
		seg("Low confidence words", -1.5),
		seg("subscribe", -0.1),
		seg("12345", -0.1),
		seg("ok", -0.1),
		seg("Subtitles by the Amara.org community", -0.1),
		seg("Next item is hiring.", -0.4),
	}

	kept, stats := f.Apply(in)

	if len(kept) != 2 {
		t.Fatalf("expected 2 surviving segments, got %d: %+v", len(kept), kept)
	}
	if kept[0].Text != "We shipped the release." || kept[1].Text != "Next item is hiring." {
		t.Errorf("unexpected survivors %+v", kept)
	}
	want := FilterStats{LowConfidence: 1, Empty: 1, Numeric: 1, Short: 1, Hallucination: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if stats.Total() != 5 {
		t.Errorf("expected 5 dropped, got %d", stats.Total())
	}
}

func TestFilter_ConfidenceFloorIsInclusive(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())
	kept, _ := f.Apply([]models.TranscriptSegment{seg("exactly at floor", -1.0)})
	if len(kept) != 1 {
		t.Error("expected segment at the floor to survive")
	}
}

func TestFilter_Idempotent(t *testing.T) {
	f := NewFilter(DefaultFilterConfig())

	tr := models.Transcript{
		UtteranceID: "s-utt-1",
		Segments: []models.TranscriptSegment{
			seg("Thanks  for watching the demo of the channel", -0.3),
			seg("bell \t icon ringing loudly", -0.2),
			seg("Facebook and Instagram updates", -0.5),
			seg("42", -0.1),
		},
	}

	once := f.Refilter(tr)
	twice := f.Refilter(once)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("filter not idempotent:\n once=%+v\ntwice=%+v", once, twice)
	}
	if once.Text == "" {
		t.Error("expected some text to survive")
	}
	if once.SegmentsFiltered != 1 {
		t.Errorf("expected 1 filtered segment, got %d", once.SegmentsFiltered)
	}
}

func TestMeanConfidence(t *testing.T) {
	if got := MeanConfidence(nil); got != 0 {
		t.Errorf("expected 0 for no segments, got %v", got)
	}
	got := MeanConfidence([]models.TranscriptSegment{seg("a", -0.2), seg("b", -0.4)})
	if got < -0.3000001 || got > -0.2999999 {
		t.Errorf("expected -0.3, got %v", got)
	}
}

func TestJoinSegments(t *testing.T) {
	got := JoinSegments([]models.TranscriptSegment{seg("one", 0), seg("", 0), seg("two", 0)})
	if got != "one two" {
		t.Errorf("JoinSegments = %q", got)
	}
}

func TestLoadPlan(t *testing.T) {
	tests := []struct {
		name        string
		size        string
		device      string
		accelerator bool
		want        []string
	}{
		{
			name: "accelerator available", size: "medium", device: "auto", accelerator: true,
			want: []string{"medium/cuda/float16", "medium/cpu/int8", "small/cpu/int8", "base/cpu/int8"},
		},
		{
			name: "accelerator unavailable", size: "medium", device: "cuda", accelerator: false,
			want: []string{"medium/cpu/int8", "small/cpu/int8", "base/cpu/int8"},
		},
		{
			name: "cpu requested", size: "small", device: "cpu", accelerator: true,
			want: []string{"small/cpu/int8", "base/cpu/int8"},
		},
		{
			name: "unknown size", size: "custom", device: "cpu", accelerator: false,
			want: []string{"custom/cpu/int8"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := LoadPlan(tt.size, tt.device, "float16", tt.accelerator)
			var got []string
			for _, s := range plan {
				got = append(got, s.String())
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LoadPlan = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKind_RoundTrip(t *testing.T) {
	for _, k := range []Kind{KindUnknown, KindAcceleratorUnavailable, KindOutOfMemory, KindDriverMismatch, KindModelNotFound, KindUnavailable} {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
}
