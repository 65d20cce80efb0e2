package wake_test

import (
	"testing"

	"github.com/pkarolyi/coachvox/internal/wake"
)

func newTestDetector(opts ...wake.Option) *wake.Detector {
	return wake.NewDetector(wake.DefaultVocabularies(), opts...)
}

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		transcript string
		mode       string
		want       bool
	}{
		{name: "exact phrase", transcript: "hey fifa", mode: "fifa", want: true},
		{name: "noisy phrase above threshold", transcript: "hey fee fa", mode: "fifa", want: true},
		{name: "phrase buried in longer speech", transcript: "um okay so hey fifa what do you think", mode: "fifa", want: true},
		{name: "mode is case insensitive", transcript: "hey fifa", mode: "FIFA", want: true},
		{name: "unrelated speech", transcript: "pass it to the striker now", mode: "fifa", want: false},
		{name: "wrong mode vocabulary", transcript: "hey lol", mode: "fifa", want: false},
		// "league" contains the "ea" fallback token, a preserved false
		// positive of the loose substring detector.
		{name: "fallback ea inside league", transcript: "hey league", mode: "fifa", want: true},
		{name: "empty transcript", transcript: "", mode: "fifa", want: false},
		{name: "unknown mode", transcript: "hey fifa", mode: "starcraft", want: false},
		{name: "league phrase", transcript: "hey league", mode: "lol", want: true},
		// The substring fallbacks are deliberately loose; short tokens
		// inside ordinary words still trigger.
		{name: "fallback keyword inside word", transcript: "the weather is nice", mode: "fifa", want: true},
		{name: "fallback fc", transcript: "watch the fc highlights", mode: "fifa", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := newTestDetector()
			if got := d.Detect(tt.transcript, tt.mode); got != tt.want {
				t.Errorf("Detect(%q, %q) = %v, want %v", tt.transcript, tt.mode, got, tt.want)
			}
		})
	}
}

func TestDetectAnyPrefersCurrentMode(t *testing.T) {
	t.Parallel()

	// "lol" is a fallback keyword for the lol mode, and "fifa" for fifa.
	// A transcript hitting both must resolve to the current mode.
	d := newTestDetector()
	mode, ok := d.DetectAny("fifa lol", "lol")
	if !ok || mode != "lol" {
		t.Fatalf("DetectAny(%q, lol) = (%q, %v), want (lol, true)", "fifa lol", mode, ok)
	}
	mode, ok = d.DetectAny("fifa lol", "fifa")
	if !ok || mode != "fifa" {
		t.Fatalf("DetectAny(%q, fifa) = (%q, %v), want (fifa, true)", "fifa lol", mode, ok)
	}
}

func TestDetectAnySwitchesMode(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	mode, ok := d.DetectAny("hey lol", "fifa")
	if !ok || mode != "lol" {
		t.Fatalf("DetectAny(hey lol, fifa) = (%q, %v), want (lol, true)", mode, ok)
	}
	if _, ok := d.DetectAny("completely unrelated speech", "fifa"); ok {
		t.Fatal("DetectAny matched unrelated speech")
	}
}

func TestDetectHonorsThresholdOption(t *testing.T) {
	t.Parallel()

	strict := wake.NewDetector([]wake.Vocabulary{
		{Mode: "fifa", Phrases: []string{"hey fifa"}},
	}, wake.WithThreshold(0.95))
	if strict.Detect("hey fee fa", "fifa") {
		t.Fatal("strict detector matched a noisy transcript")
	}
	loose := wake.NewDetector([]wake.Vocabulary{
		{Mode: "fifa", Phrases: []string{"hey fifa"}},
	}, wake.WithThreshold(0.65))
	if !loose.Detect("hey fee fa", "fifa") {
		t.Fatal("default-threshold detector missed a noisy transcript")
	}
}

func TestDetectPhoneticFallback(t *testing.T) {
	t.Parallel()

	vocab := []wake.Vocabulary{{Mode: "fifa", Phrases: []string{"fifa"}}}

	plain := wake.NewDetector(vocab)
	phonetic := wake.NewDetector(vocab, wake.WithPhoneticFallback(0.60))

	// "fypha" shares the FF metaphone code with "fifa" but its edit
	// distance is too large for the fuzzy threshold.
	const heard = "fypha"
	if plain.Detect(heard, "fifa") {
		t.Fatalf("Detect(%q) without phonetic fallback = true, want false", heard)
	}
	if !phonetic.Detect(heard, "fifa") {
		t.Fatalf("Detect(%q) with phonetic fallback = false, want true", heard)
	}
}

func TestModes(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	modes := d.Modes()
	if len(modes) != 2 || modes[0] != "fifa" || modes[1] != "lol" {
		t.Fatalf("Modes() = %v, want [fifa lol]", modes)
	}
	if !d.HasMode("FIFA") {
		t.Fatal("HasMode(FIFA) = false")
	}
	if d.HasMode("starcraft") {
		t.Fatal("HasMode(starcraft) = true")
	}
}

func TestReloadSwapsVocabularies(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	if !d.Detect("hey fifa", "fifa") {
		t.Fatal("Detect(hey fifa) = false before reload")
	}

	d.Reload([]wake.Vocabulary{
		{Mode: "rocket", Phrases: []string{"hey rocket"}, Fallbacks: []string{"rocket"}},
	})

	if d.HasMode("fifa") {
		t.Error("HasMode(fifa) = true after reload dropped it")
	}
	if !d.Detect("hey rocket", "rocket") {
		t.Error("Detect(hey rocket) = false after reload")
	}
	if got := d.Modes(); len(got) != 1 || got[0] != "rocket" {
		t.Errorf("Modes() = %v, want [rocket]", got)
	}
}

func TestSetThreshold(t *testing.T) {
	t.Parallel()

	d := newTestDetector()
	// "hey fee fa" only clears the default threshold, not a strict one.
	if !d.Detect("hey fee fa", "fifa") {
		t.Fatal("Detect(hey fee fa) = false at default threshold")
	}
	d.SetThreshold(0.95)
	if d.Detect("hey fee fa", "fifa") {
		t.Error("Detect(hey fee fa) = true at threshold 0.95")
	}
	d.SetThreshold(0)
	if !d.Detect("hey fee fa", "fifa") {
		t.Error("Detect(hey fee fa) = false after restoring default threshold")
	}
}
