package divergence

import (
	"math"
	"strings"

	"chart-analyst/internal/models"
)

// Reading is the result of scanning one analysis text against a vocabulary.
type Reading struct {
	Sentiment models.Sentiment
	Bullish   float64
	Bearish   float64
	Neutral   int
	// Terms lists every matched cue once, in vocabulary order.
	Terms     []string
	Caution   []string
	Certainty int
	Hedging   int
}

// Strength is how one-sided the directional cues are, from 0 (balanced or
// none) to 1 (all cues point the same way).
func (r Reading) Strength() float64 {
	total := r.Bullish + r.Bearish
	if total == 0 {
		return 0
	}
	return math.Abs(r.Bullish-r.Bearish) / total
}

// Has reports whether term was matched.
func (r Reading) Has(term string) bool {
	for _, t := range r.Terms {
		if t == term {
			return true
		}
	}
	return false
}

// Extract scans text using the default vocabulary.
func Extract(text string) Reading {
	v := DefaultVocabulary()
	return v.Extract(text)
}

// Extract classifies text. Matching is case-insensitive, respects word
// boundaries and ignores a cue directly preceded by a negation word.
func (v *Vocabulary) Extract(text string) Reading {
	lower := strings.ToLower(text)
	var r Reading

	for _, c := range v.Bullish {
		if n := v.count(lower, c.Term); n > 0 {
			r.Bullish += c.Weight * float64(n)
			r.Terms = append(r.Terms, c.Term)
		}
	}
	for _, c := range v.Bearish {
		if n := v.count(lower, c.Term); n > 0 {
			r.Bearish += c.Weight * float64(n)
			r.Terms = append(r.Terms, c.Term)
		}
	}
	for _, term := range v.Neutral {
		if n := v.count(lower, term); n > 0 {
			r.Neutral += n
			r.Terms = append(r.Terms, term)
		}
	}
	for _, term := range v.Caution {
		if v.count(lower, term) > 0 {
			r.Caution = append(r.Caution, term)
		}
	}
	for _, term := range v.Certainty {
		r.Certainty += v.count(lower, term)
	}
	for _, term := range v.Hedging {
		r.Hedging += v.count(lower, term)
	}

	switch {
	case r.Bullish > r.Bearish:
		r.Sentiment = models.Bullish
	case r.Bearish > r.Bullish:
		r.Sentiment = models.Bearish
	case r.Bullish > 0 || r.Neutral > 0:
		r.Sentiment = models.Neutral
	default:
		r.Sentiment = models.Unknown
	}
	return r
}

// count returns the number of non-negated whole-word occurrences of term in text.
func (v *Vocabulary) count(text, term string) int {
	n := 0
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			break
		}
		start := offset + i
		end := start + len(term)
		offset = end

		if start > 0 && isWordByte(text[start-1]) {
			continue
		}
		if end < len(text) && isWordByte(text[end]) {
			continue
		}
		if v.negated(text[:start]) {
			continue
		}
		n++
	}
	return n
}

func (v *Vocabulary) negated(before string) bool {
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return false
	}
	prev := strings.Trim(fields[len(fields)-1], ".,;:!?()\"*")
	for _, neg := range v.Negations {
		if prev == neg {
			return true
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '-' || b == '_' || b == '\'' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
