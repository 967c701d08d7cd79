package divergence

import (
	"fmt"
	"strings"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
)

// Confidence bands per alignment.
const (
	alignedMin   = 8
	alignedMax   = 10
	partialMin   = 4
	partialMax   = 7
	divergentMin = 1
	divergentMax = 3

	strongReading = 0.75
	weakReading   = 0.5
)

// Integrator produces verdicts from a fixed vocabulary. It holds no mutable
// state and is safe for concurrent use.
type Integrator struct {
	vocab Vocabulary
}

// NewIntegrator creates an integrator using vocab.
func NewIntegrator(vocab Vocabulary) *Integrator {
	return &Integrator{vocab: vocab}
}

// NewDefaultIntegrator creates an integrator using the built-in vocabulary.
func NewDefaultIntegrator() *Integrator {
	return NewIntegrator(DefaultVocabulary())
}

// Classify maps the two stage sentiments to an alignment.
func Classify(quant, visual models.Sentiment) models.Alignment {
	switch {
	case quant.IsDirectional() && quant == visual:
		return models.Aligned
	case quant.Opposes(visual):
		return models.Divergent
	default:
		return models.Partial
	}
}

// Integrate combines the quantitative and visual results for the same symbol
// and timeframe. Inputs are not modified.
func (in *Integrator) Integrate(quant *models.QuantResult, visual *models.VisualResult) (*models.IntegratedVerdict, error) {
	if quant == nil || visual == nil {
		return nil, apperrors.NewValidationError("integration", nil, "both quantitative and visual results are required")
	}
	if quant.Symbol != visual.Symbol || quant.Timeframe != visual.Timeframe {
		return nil, apperrors.NewValidationError("integration",
			fmt.Sprintf("%s %s / %s %s", quant.Symbol, quant.Timeframe, visual.Symbol, visual.Timeframe),
			"results belong to different symbols or timeframes")
	}

	q := in.vocab.Extract(quant.Analysis)
	v := in.vocab.Extract(visual.Analysis)
	alignment := Classify(q.Sentiment, v.Sentiment)
	setup := ParseTradeSetup(visual.Analysis)

	contradictions := in.contradictions(q, v)
	risks := make([]string, 0, len(contradictions)+4)
	risks = append(risks, contradictions...)
	risks = append(risks, stageRisks(alignment, q, v, setup)...)

	return &models.IntegratedVerdict{
		Alignment:       alignment,
		Confidence:      confidence(alignment, q, v, len(contradictions)),
		QuantSentiment:  q.Sentiment,
		VisualSentiment: v.Sentiment,
		TradeSetup:      setup,
		Risks:           dedupe(risks),
		Recommendation:  recommendation(alignment, q.Sentiment, v.Sentiment, setup),
		Notes:           notes(alignment, q.Sentiment, v.Sentiment),
	}, nil
}

func (in *Integrator) contradictions(q, v Reading) []string {
	var out []string
	for _, c := range in.vocab.Contradictions {
		hasA := q.Has(c.A) || v.Has(c.A)
		hasB := q.Has(c.B) || v.Has(c.B)
		if hasA && hasB {
			out = append(out, c.Risk)
		}
	}
	return out
}

func stageRisks(alignment models.Alignment, q, v Reading, setup models.TradeSetup) []string {
	var out []string

	if alignment == models.Divergent {
		out = append(out, fmt.Sprintf(
			"Divergence: quantitative analysis reads %s while the chart reads %s; wait for confirmation",
			q.Sentiment, v.Sentiment))
	}
	for _, term := range q.Caution {
		out = append(out, fmt.Sprintf("Quantitative analysis mentions %s; the current move may not hold", term))
	}
	for _, term := range v.Caution {
		out = append(out, fmt.Sprintf("Visual analysis mentions %s; the current move may not hold", term))
	}

	if dir := sentimentOf(setup.Direction); dir.Opposes(q.Sentiment) {
		out = append(out, fmt.Sprintf("Trade setup direction %s opposes the %s quantitative reading", setup.Direction, q.Sentiment))
	}
	if setup.Direction == models.DirectionLong && setup.StopLoss > 0 && setup.Entry > 0 && setup.StopLoss >= setup.Entry {
		out = append(out, "Stop loss is not below entry for a LONG setup")
	}
	if setup.Direction == models.DirectionShort && setup.StopLoss > 0 && setup.Entry > 0 && setup.StopLoss <= setup.Entry {
		out = append(out, "Stop loss is not above entry for a SHORT setup")
	}
	return out
}

// confidence maps a verdict to 1..10. Each alignment has a band (aligned 8-10,
// partial 4-7, divergent 1-3). Within the band the score moves with how
// one-sided the readings are, with certainty versus hedging language, and
// down by one per contradictory cue pair.
func confidence(alignment models.Alignment, q, v Reading, contradictions int) int {
	tone := sign((q.Certainty + v.Certainty) - (q.Hedging + v.Hedging))

	var score, lo, hi int
	switch alignment {
	case models.Aligned:
		lo, hi = alignedMin, alignedMax
		score = 8 + tone
		if (q.Strength()+v.Strength())/2 >= strongReading {
			score++
		}
	case models.Divergent:
		lo, hi = divergentMin, divergentMax
		score = 2
		switch {
		case q.Strength() >= strongReading && v.Strength() >= strongReading:
			score--
		case min(q.Strength(), v.Strength()) < weakReading:
			score++
		}
	default:
		lo, hi = partialMin, partialMax
		directional := q
		if !q.Sentiment.IsDirectional() {
			directional = v
		}
		if !directional.Sentiment.IsDirectional() {
			return partialMin
		}
		score = 5 + tone
		if directional.Strength() >= strongReading {
			score++
		}
	}

	score -= contradictions
	return max(lo, min(hi, score))
}

func recommendation(alignment models.Alignment, q, v models.Sentiment, setup models.TradeSetup) string {
	var rec string
	switch alignment {
	case models.Aligned:
		side := "LONG"
		if q == models.Bearish {
			side = "SHORT"
		}
		rec = fmt.Sprintf("Consider %s: quantitative and visual analyses agree on a %s bias.", side, q)
	case models.Divergent:
		rec = fmt.Sprintf("Stand aside: the quantitative (%s) and visual (%s) analyses conflict. Wait for alignment before taking a position.", q, v)
	default:
		switch {
		case q.IsDirectional():
			rec = fmt.Sprintf("Wait for confirmation: only the quantitative analysis shows a %s bias.", q)
		case v.IsDirectional():
			rec = fmt.Sprintf("Wait for confirmation: only the chart shows a %s bias.", v)
		default:
			rec = "No clear direction from either analysis; stay flat."
		}
	}

	if alignment != models.Divergent && !setup.IsEmpty() && setup.Entry > 0 {
		rec += " " + describeSetup(setup)
	}
	return rec
}

func describeSetup(s models.TradeSetup) string {
	parts := []string{}
	if s.Direction != models.DirectionNone {
		parts = append(parts, string(s.Direction))
	}
	parts = append(parts, fmt.Sprintf("entry %g", s.Entry))
	if s.StopLoss > 0 {
		parts = append(parts, fmt.Sprintf("stop %g", s.StopLoss))
	}
	if s.TakeProfit1 > 0 {
		parts = append(parts, fmt.Sprintf("TP1 %g", s.TakeProfit1))
	}
	if s.TakeProfit2 > 0 {
		parts = append(parts, fmt.Sprintf("TP2 %g", s.TakeProfit2))
	}
	if s.RiskReward > 0 {
		parts = append(parts, fmt.Sprintf("R:R %g", s.RiskReward))
	}
	return "Setup: " + strings.Join(parts, ", ") + "."
}

func notes(alignment models.Alignment, q, v models.Sentiment) string {
	switch alignment {
	case models.Aligned:
		return "ALIGNMENT: both quantitative and visual analyses support similar conclusions. This increases confidence in the trade setup."
	case models.Divergent:
		return "DIVERGENCE DETECTED: quantitative and visual analyses show conflicting signals. This may indicate a market transition or a setup that needs extra caution. Consider waiting for alignment before taking positions."
	default:
		return fmt.Sprintf("PARTIAL: directional cues are incomplete (quantitative %s, visual %s). Treat the setup as unconfirmed.", q, v)
	}
}

func sentimentOf(d models.Direction) models.Sentiment {
	switch d {
	case models.DirectionLong:
		return models.Bullish
	case models.DirectionShort:
		return models.Bearish
	case models.DirectionNeutral:
		return models.Neutral
	default:
		return models.Unknown
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
