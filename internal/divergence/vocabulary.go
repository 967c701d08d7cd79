// Package divergence reconciles the quantitative and visual analyses into an
// integrated verdict. Everything in it is pure: the same two inputs always
// produce the same verdict.
package divergence

// Cue is a vocabulary term with the weight it contributes to a reading.
type Cue struct {
	Term   string
	Weight float64
}

// Contradiction is a pair of cues that should not appear together. When both
// terms occur across the two analyses the Risk text is added to the verdict.
type Contradiction struct {
	A, B string
	Risk string
}

// Vocabulary is the keyword table used for sentiment extraction. Terms are
// lower case and may span several words.
type Vocabulary struct {
	Bullish        []Cue
	Bearish        []Cue
	Neutral        []string
	Caution        []string
	Negations      []string
	Certainty      []string
	Hedging        []string
	Contradictions []Contradiction
}

// DefaultVocabulary returns the built-in keyword table.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Bullish: []Cue{
			{"bullish", 2},
			{"uptrend", 2},
			{"breakout", 2},
			{"higher highs", 1},
			{"higher lows", 1},
			{"oversold", 1},
			{"bounce", 1},
			{"support holding", 1},
			{"golden cross", 1},
			{"accumulation", 1},
			{"buying pressure", 1},
			{"long", 1},
			{"buy", 1},
		},
		Bearish: []Cue{
			{"bearish", 2},
			{"downtrend", 2},
			{"breakdown", 2},
			{"lower highs", 1},
			{"lower lows", 1},
			{"overbought", 1},
			{"rejection", 1},
			{"death cross", 1},
			{"distribution", 1},
			{"selling pressure", 1},
			{"sell-off", 1},
			{"short", 1},
			{"sell", 1},
		},
		Neutral:   []string{"neutral", "sideways", "consolidation", "range-bound", "indecision", "choppy"},
		Caution:   []string{"reversal"},
		Negations: []string{"not", "no", "without", "never", "isn't", "lacks"},
		Certainty: []string{"strong", "strongly", "confirmed", "clear", "clearly", "high confidence", "decisive"},
		Hedging:   []string{"may", "might", "possibly", "uncertain", "unclear", "could", "low confidence"},
		Contradictions: []Contradiction{
			{A: "oversold", B: "breakdown", Risk: "Reversal caution: oversold readings alongside a breakdown; the move may exhaust or reverse"},
			{A: "overbought", B: "breakout", Risk: "Exhaustion risk: breakout while overbought; the move may fail or retrace"},
			{A: "bullish", B: "bearish", Risk: "Directional conflict: both bullish and bearish cues are present"},
			{A: "uptrend", B: "downtrend", Risk: "Trend conflict: both an uptrend and a downtrend are cited"},
			{A: "support holding", B: "breakdown", Risk: "Level conflict: support is described as holding and as breaking down"},
			{A: "golden cross", B: "death cross", Risk: "Moving average conflict: golden cross and death cross both cited"},
		},
	}
}
