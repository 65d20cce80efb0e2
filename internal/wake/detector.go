package wake

import (
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

const defaultThreshold = 0.65

// Option is a functional option for configuring a [Detector].
type Option func(*Detector)

// WithThreshold sets the minimum similarity score for a fuzzy phrase match.
// Default: 0.65.
func WithThreshold(threshold float64) Option {
	return func(d *Detector) {
		d.threshold = threshold
	}
}

// WithPhoneticFallback enables a phonetic second chance: a transcript whose
// fuzzy score misses the threshold still matches when it shares a Double
// Metaphone code with a phrase and scores at least the given Jaro-Winkler
// similarity against it. Disabled by default.
func WithPhoneticFallback(minJaroWinkler float64) Option {
	return func(d *Detector) {
		d.phonetic = true
		d.phoneticMin = minJaroWinkler
	}
}

// Detector matches noisy transcripts against per-mode wake vocabularies.
// Safe for concurrent use; vocabularies can be swapped at runtime with
// Reload.
type Detector struct {
	mu          sync.RWMutex
	threshold   float64
	phonetic    bool
	phoneticMin float64

	byMode map[string]Vocabulary
	order  []string
}

// NewDetector builds a Detector over the given vocabularies. Mode lookup is
// case-insensitive. Later vocabularies with a duplicate mode name replace
// earlier ones.
func NewDetector(vocabularies []Vocabulary, opts ...Option) *Detector {
	d := &Detector{
		threshold: defaultThreshold,
		byMode:    make(map[string]Vocabulary, len(vocabularies)),
	}
	for _, v := range vocabularies {
		key := strings.ToLower(v.Mode)
		if _, seen := d.byMode[key]; !seen {
			d.order = append(d.order, key)
		}
		d.byMode[key] = v
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Reload replaces the full vocabulary set. Mode lookup rules match
// NewDetector.
func (d *Detector) Reload(vocabularies []Vocabulary) {
	byMode := make(map[string]Vocabulary, len(vocabularies))
	var order []string
	for _, v := range vocabularies {
		key := strings.ToLower(v.Mode)
		if _, seen := byMode[key]; !seen {
			order = append(order, key)
		}
		byMode[key] = v
	}

	d.mu.Lock()
	d.byMode = byMode
	d.order = order
	d.mu.Unlock()
}

// SetThreshold replaces the similarity threshold. Zero restores the default.
func (d *Detector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	d.mu.Lock()
	d.threshold = threshold
	d.mu.Unlock()
}

// Modes returns the known mode names in registration order.
func (d *Detector) Modes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// HasMode reports whether mode has a vocabulary.
func (d *Detector) HasMode(mode string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byMode[strings.ToLower(mode)]
	return ok
}

// Detect reports whether transcript contains the wake phrase for mode.
// The mode's phrases are tested in order by fuzzy similarity against the
// whole transcript and against each transcript n-gram of the phrase's word
// length; when none scores at or above the threshold the coarse keyword
// fallbacks decide.
func (d *Detector) Detect(transcript, mode string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.byMode[strings.ToLower(mode)]
	if !ok {
		return false
	}
	return d.detect(transcript, v)
}

// DetectAny tests the current mode's vocabulary first, then every other
// mode in registration order. It returns the matched mode name and true on
// a hit.
func (d *Detector) DetectAny(transcript, currentMode string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	current := strings.ToLower(currentMode)
	if v, ok := d.byMode[current]; ok && d.detect(transcript, v) {
		return v.Mode, true
	}
	for _, key := range d.order {
		if key == current {
			continue
		}
		if v := d.byMode[key]; d.detect(transcript, v) {
			return v.Mode, true
		}
	}
	return "", false
}

// detect runs with d.mu held for reading.
func (d *Detector) detect(transcript string, v Vocabulary) bool {
	t := strings.ToLower(strings.TrimSpace(transcript))
	if t == "" {
		return false
	}

	tokens := strings.Fields(t)
	for _, phrase := range v.Phrases {
		p := strings.ToLower(strings.TrimSpace(phrase))
		if p == "" {
			continue
		}
		if Similarity(t, p) >= d.threshold {
			return true
		}
		// A long transcript can bury the wake phrase; test every window of
		// the phrase's word length.
		width := len(strings.Fields(p))
		for _, gram := range ngrams(tokens, width) {
			if Similarity(gram, p) >= d.threshold {
				return true
			}
			if d.phonetic && phoneticHit(gram, p, d.phoneticMin) {
				return true
			}
		}
	}

	return v.containsFallback(t)
}

// ngrams returns every space-joined window of width consecutive tokens.
func ngrams(tokens []string, width int) []string {
	if width <= 0 || width > len(tokens) {
		return nil
	}
	out := make([]string, 0, len(tokens)-width+1)
	for i := 0; i+width <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+width], " "))
	}
	return out
}

// phoneticHit reports whether gram and phrase share a Double Metaphone code
// on any token pair and score at least min by Jaro-Winkler on the full
// strings.
func phoneticHit(gram, phrase string, min float64) bool {
	if !codesOverlap(codesFor(gram), codesFor(phrase)) {
		return false
	}
	return matchr.JaroWinkler(gram, phrase, false) >= min
}

func codesFor(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 4)
	for _, tok := range strings.Fields(s) {
		p, sec := matchr.DoubleMetaphone(tok)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
