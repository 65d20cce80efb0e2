package wake

import "strings"

// Vocabulary is the accepted wake material for one coaching mode: an ordered
// list of full phrases matched fuzzily, plus a small set of coarse keyword
// fallbacks matched by substring when fuzzy matching on short utterances
// fails. Immutable after construction.
type Vocabulary struct {
	// Mode names the coaching context this vocabulary belongs to.
	Mode string

	// Phrases is the ordered list of accepted wake phrases.
	Phrases []string

	// Fallbacks are short keywords checked by substring containment as a
	// second-chance detector. Known to produce occasional false positives on
	// very short tokens; kept deliberately loose so a half-heard wake phrase
	// still triggers.
	Fallbacks []string
}

// DefaultVocabularies returns the built-in per-mode wake vocabularies used
// when the configuration provides none.
func DefaultVocabularies() []Vocabulary {
	return []Vocabulary{
		{
			Mode:      "fifa",
			Phrases:   []string{"hey fifa", "fifa coach", "okay fifa", "fifa"},
			Fallbacks: []string{"fifa", "ea", "fc"},
		},
		{
			Mode:      "lol",
			Phrases:   []string{"hey league", "league coach", "okay league", "hey lol"},
			Fallbacks: []string{"league", "lol", "rift"},
		},
	}
}

// containsFallback reports whether transcript contains any fallback keyword.
// Matching is case-insensitive substring containment.
func (v Vocabulary) containsFallback(transcript string) bool {
	t := strings.ToLower(transcript)
	for _, kw := range v.Fallbacks {
		if kw == "" {
			continue
		}
		if strings.Contains(t, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
