package models

import "time"

// QuantResult is the output of the quantitative stage.
type QuantResult struct {
	Symbol          string             `json:"symbol"`
	Timeframe       string             `json:"timeframe"`
	Model           string             `json:"model"`
	PeriodsAnalyzed int                `json:"periods_analyzed"`
	LatestPrice     float64            `json:"latest_price"`
	LatestVolume    float64            `json:"latest_volume"`
	Indicators      map[string]float64 `json:"indicators,omitempty"`
	Analysis        string             `json:"analysis"`
	CompletedAt     time.Time          `json:"completed_at"`
}

// VisualResult is the output of the visual stage.
type VisualResult struct {
	Symbol          string    `json:"symbol"`
	Timeframe       string    `json:"timeframe"`
	Model           string    `json:"model"`
	ChartPath       string    `json:"chart_path"`
	HasQuantContext bool      `json:"has_quant_context"`
	Analysis        string    `json:"analysis"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Alignment classifies agreement between the two stages.
type Alignment string

const (
	Aligned   Alignment = "aligned"
	Divergent Alignment = "divergent"
	Partial   Alignment = "partial"
)

// Sentiment is the directional reading extracted from free text.
type Sentiment string

const (
	Bullish Sentiment = "bullish"
	Bearish Sentiment = "bearish"
	Neutral Sentiment = "neutral"
	Unknown Sentiment = "unknown"
)

// IsDirectional reports whether the sentiment points up or down.
func (s Sentiment) IsDirectional() bool {
	return s == Bullish || s == Bearish
}

// Opposes reports whether s and other point in opposite directions.
func (s Sentiment) Opposes(other Sentiment) bool {
	return (s == Bullish && other == Bearish) || (s == Bearish && other == Bullish)
}

// Direction is the trade direction stated by the visual model.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
	DirectionNone    Direction = ""
)

// TradeSetup holds the levels the visual model proposed, when present.
type TradeSetup struct {
	Direction       Direction `json:"direction,omitempty"`
	Entry           float64   `json:"entry,omitempty"`
	StopLoss        float64   `json:"stop_loss,omitempty"`
	TakeProfit1     float64   `json:"take_profit_1,omitempty"`
	TakeProfit2     float64   `json:"take_profit_2,omitempty"`
	RiskReward      float64   `json:"risk_reward,omitempty"`
	ModelConfidence int       `json:"model_confidence,omitempty"`
}

// IsEmpty reports whether no field of the setup was recognised.
func (t TradeSetup) IsEmpty() bool {
	return t == TradeSetup{}
}

// IntegratedVerdict combines the quantitative and visual results.
type IntegratedVerdict struct {
	Alignment       Alignment  `json:"alignment"`
	Confidence      int        `json:"confidence"`
	QuantSentiment  Sentiment  `json:"quant_sentiment"`
	VisualSentiment Sentiment  `json:"visual_sentiment"`
	TradeSetup      TradeSetup `json:"trade_setup"`
	Risks           []string   `json:"risks"`
	Recommendation  string     `json:"recommendation"`
	Notes           string     `json:"notes"`
}

// DivergenceDetected reports whether the stages disagreed on direction.
func (v *IntegratedVerdict) DivergenceDetected() bool {
	return v.Alignment == Divergent
}
