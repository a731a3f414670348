package transcript_test

import (
	"slices"
	"testing"

	"github.com/halvard/vesper/internal/transcript"
)

func TestNormalize_LowercaseAndPunctuation(t *testing.T) {
	t.Parallel()
	n := transcript.New()
	got := n.Normalize("Play  Thunderstruck, NOW!")
	want := []string{"play", "thunderstruck", "now"}
	if !slices.Equal(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
}

func TestNormalize_StripsFillers(t *testing.T) {
	t.Parallel()
	n := transcript.New()
	got := n.Normalize("um okay turn off the lights")
	want := []string{"turn", "off", "lights"}
	if !slices.Equal(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
}

func TestNormalize_CustomFillers(t *testing.T) {
	t.Parallel()
	n := transcript.New(transcript.WithFillers([]string{"please"}))
	got := n.Normalize("please play the song")
	// "the" is no longer a filler once the set is replaced.
	want := []string{"play", "the", "song"}
	if !slices.Equal(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
}

func TestNormalize_EmptyFillersDisablesRemoval(t *testing.T) {
	t.Parallel()
	n := transcript.New(transcript.WithFillers(nil))
	got := n.Normalize("um the lights")
	want := []string{"um", "the", "lights"}
	if !slices.Equal(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
}

func TestNormalize_OnlyPunctuationAndFillers(t *testing.T) {
	t.Parallel()
	n := transcript.New()
	if got := n.Normalize("um... okay, hmm!"); len(got) != 0 {
		t.Errorf("Normalize() = %v, want empty", got)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()
	n := transcript.New()
	inputs := []string{
		"Set a timer for twenty three minutes",
		"volume to one hundred and five",
		"play track seven, please",
	}
	for _, raw := range inputs {
		once := n.NormalizeText(raw)
		twice := n.NormalizeText(once)
		if once != twice {
			t.Errorf("normalization of %q not idempotent: %q != %q", raw, once, twice)
		}
	}
}

func TestNormalize_NumberFolding(t *testing.T) {
	t.Parallel()
	n := transcript.New(transcript.WithFillers(nil))
	tests := []struct {
		raw  string
		want string
	}{
		{"twenty three", "23"},
		{"zero", "0"},
		{"set volume to seven", "set volume to 7"},
		{"one hundred and five", "105"},
		{"two thousand twenty six", "2026"},
		{"three million", "3000000"},
		{"twenty-three", "23"},
		// "three twenty" is not a single well-formed number: the longest
		// parseable window is just "three".
		{"three twenty", "3 20"},
		// "and" between standalone numbers stays.
		{"five and five", "5 and 5"},
		// Scale word with nothing in front is opaque.
		{"hundred acre wood", "hundred acre wood"},
		{"track nineteen please", "track 19 please"},
	}
	for _, tt := range tests {
		if got := n.NormalizeText(tt.raw); got != tt.want {
			t.Errorf("NormalizeText(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalize_NonASCIITokensSurvive(t *testing.T) {
	t.Parallel()
	n := transcript.New()
	got := n.Normalize("play Für Elise")
	want := []string{"play", "für", "elise"}
	if !slices.Equal(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}
}
