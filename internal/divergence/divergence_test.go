package divergence

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
)

func results(quantText, visualText string) (*models.QuantResult, *models.VisualResult) {
	return &models.QuantResult{Symbol: "BTC/USDT", Timeframe: "4h", Analysis: quantText},
		&models.VisualResult{Symbol: "BTC/USDT", Timeframe: "4h", Analysis: visualText, ChartPath: "charts/BTC_USDT_4h.png"}
}

func integrate(t *testing.T, quantText, visualText string) *models.IntegratedVerdict {
	t.Helper()
	q, v := results(quantText, visualText)
	verdict, err := NewDefaultIntegrator().Integrate(q, v)
	if err != nil {
		t.Fatalf("Integrate() error = %v", err)
	}
	return verdict
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.Sentiment
	}{
		{"bullish", "Bullish momentum building", models.Bullish},
		{"bearish", "Bearish breakdown below support", models.Bearish},
		{"neutral term", "Price is consolidating in a sideways range", models.Neutral},
		{"balanced", "bullish on the daily, bearish on the 4h", models.Neutral},
		{"nothing", "Volume averaged 1,200 contracts", models.Unknown},
		{"negated", "The structure is not bullish yet", models.Unknown},
		{"word boundary", "A shortage of buyers, prolonged range", models.Unknown},
		{"hyphenated", "Short-term and long-term averages converge", models.Unknown},
		{"sell-off", "A sharp sell-off followed", models.Bearish},
		{"multi word", "Higher highs and support holding", models.Bullish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.text).Sentiment; got != tt.want {
				t.Errorf("Extract(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		q, v models.Sentiment
		want models.Alignment
	}{
		{models.Bullish, models.Bullish, models.Aligned},
		{models.Bearish, models.Bearish, models.Aligned},
		{models.Bullish, models.Bearish, models.Divergent},
		{models.Bearish, models.Bullish, models.Divergent},
		{models.Bullish, models.Neutral, models.Partial},
		{models.Unknown, models.Bearish, models.Partial},
		{models.Neutral, models.Neutral, models.Partial},
		{models.Unknown, models.Unknown, models.Partial},
	}
	for _, tt := range tests {
		if got := Classify(tt.q, tt.v); got != tt.want {
			t.Errorf("Classify(%s, %s) = %s, want %s", tt.q, tt.v, got, tt.want)
		}
	}
}

func TestIntegrateReversalCaution(t *testing.T) {
	v := integrate(t,
		"Bullish momentum, RSI oversold at 27.",
		"Bearish breakdown below support. Direction: SHORT Entry: 41,800 Stop Loss: 42,600 TP1: 40,500")

	if v.Alignment != models.Divergent {
		t.Fatalf("Alignment = %s, want divergent", v.Alignment)
	}
	if !v.DivergenceDetected() {
		t.Error("DivergenceDetected() should be true")
	}
	if v.Confidence < 1 || v.Confidence > 3 {
		t.Errorf("Confidence = %d, want 1..3", v.Confidence)
	}
	if len(v.Risks) == 0 || !strings.HasPrefix(v.Risks[0], "Reversal caution") {
		t.Errorf("Risks = %v, want a reversal caution first", v.Risks)
	}
	if v.TradeSetup.Direction != models.DirectionShort || v.TradeSetup.Entry != 41800 {
		t.Errorf("TradeSetup = %+v", v.TradeSetup)
	}
	if !strings.HasPrefix(v.Recommendation, "Stand aside") {
		t.Errorf("Recommendation = %q", v.Recommendation)
	}
}

func TestIntegrateAlignedConfidence(t *testing.T) {
	plain := integrate(t, "bullish", "bullish")
	if plain.Alignment != models.Aligned || plain.Confidence != 9 {
		t.Errorf("plain aligned: %s %d, want aligned 9", plain.Alignment, plain.Confidence)
	}
	if len(plain.Risks) != 0 {
		t.Errorf("plain aligned risks = %v", plain.Risks)
	}

	certain := integrate(t, "Strong bullish trend, confirmed breakout", "Clear uptrend, bullish")
	if certain.Confidence != 10 {
		t.Errorf("certain aligned confidence = %d, want 10", certain.Confidence)
	}

	hedged := integrate(t, "Possibly bullish, but it might fade", "bullish, may be uncertain")
	if hedged.Alignment != models.Aligned {
		t.Fatalf("hedged alignment = %s", hedged.Alignment)
	}
	if hedged.Confidence != 8 {
		t.Errorf("hedged aligned confidence = %d, want 8", hedged.Confidence)
	}
}

func TestIntegratePartial(t *testing.T) {
	none := integrate(t, "Volume is average.", "The chart shows candles.")
	if none.Alignment != models.Partial || none.Confidence != 4 {
		t.Errorf("no cues: %s %d, want partial 4", none.Alignment, none.Confidence)
	}

	one := integrate(t, "Bearish structure with lower lows", "Sideways consolidation")
	if one.Alignment != models.Partial {
		t.Fatalf("Alignment = %s", one.Alignment)
	}
	if one.Confidence < 4 || one.Confidence > 7 {
		t.Errorf("Confidence = %d, want 4..7", one.Confidence)
	}
	if !strings.Contains(one.Recommendation, "only the quantitative analysis") {
		t.Errorf("Recommendation = %q", one.Recommendation)
	}
}

func TestIntegrateCautionAndSetupRisks(t *testing.T) {
	v := integrate(t, "Bearish, watch for a reversal", "Bearish. Direction: LONG Entry: 100 Stop Loss: 105")

	joined := strings.Join(v.Risks, "\n")
	for _, want := range []string{
		"Quantitative analysis mentions reversal",
		"Trade setup direction LONG opposes the bearish quantitative reading",
		"Stop loss is not below entry for a LONG setup",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("risks missing %q:\n%s", want, joined)
		}
	}
}

func TestIntegrateRejectsMismatchedInputs(t *testing.T) {
	q, v := results("bullish", "bullish")
	v.Timeframe = "1h"

	_, err := NewDefaultIntegrator().Integrate(q, v)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if _, err := NewDefaultIntegrator().Integrate(nil, v); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("nil input: expected ErrValidation, got %v", err)
	}
}

func TestIntegrateDoesNotMutateInputs(t *testing.T) {
	q, v := results("bullish oversold", "bearish breakdown")
	qCopy, vCopy := *q, *v

	if _, err := NewDefaultIntegrator().Integrate(q, v); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(*q, qCopy) || !reflect.DeepEqual(*v, vCopy) {
		t.Error("Integrate modified its inputs")
	}
}

func TestParseTradeSetup(t *testing.T) {
	text := `**TRADE SETUP**
- **Direction:** LONG
- **Entry price:** $43,150.50
- **Stop Loss:** 42,300 (1.97% from entry)
- **Take Profit 1 (conservative):** 44,800
- TP2: 46,000
- Risk/Reward: 1:2.4
Confidence level (1-10): 7`

	got := ParseTradeSetup(text)
	want := models.TradeSetup{
		Direction:       models.DirectionLong,
		Entry:           43150.50,
		StopLoss:        42300,
		TakeProfit1:     44800,
		TakeProfit2:     46000,
		RiskReward:      2.4,
		ModelConfidence: 7,
	}
	if got != want {
		t.Errorf("ParseTradeSetup() =\n%+v\nwant\n%+v", got, want)
	}

	if s := ParseTradeSetup("no levels here"); !s.IsEmpty() {
		t.Errorf("expected empty setup, got %+v", s)
	}
	if s := ParseTradeSetup("Confidence: 42"); s.ModelConfidence != 0 {
		t.Errorf("out of range confidence should be ignored, got %d", s.ModelConfidence)
	}
}
