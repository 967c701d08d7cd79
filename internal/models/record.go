package models

import (
	"fmt"
	"time"
)

// RecordTimeLayout is used in record keys and file names.
const RecordTimeLayout = "20060102_150405"

// AnalysisRecord is the persisted artifact of one completed pipeline run.
type AnalysisRecord struct {
	Metadata    RecordMetadata    `json:"metadata"`
	DataSummary DataSummary       `json:"data_summary"`
	Quant       QuantSection      `json:"quantitative_analysis"`
	Visual      VisualSection     `json:"visual_analysis"`
	Integrated  IntegratedSection `json:"integrated_analysis"`
}

// RecordMetadata identifies a record.
type RecordMetadata struct {
	RunID      string     `json:"run_id"`
	Symbol     string     `json:"symbol"`
	Timeframe  string     `json:"timeframe"`
	Timestamp  time.Time  `json:"timestamp"`
	DataSource DataSource `json:"data_source"`
	ChartImage string     `json:"chart_image"`
}

// QuantSection is the quantitative part of a record.
type QuantSection struct {
	Model           string             `json:"model"`
	PeriodsAnalyzed int                `json:"periods_analyzed"`
	LatestPrice     float64            `json:"latest_price"`
	LatestVolume    float64            `json:"latest_volume"`
	Indicators      map[string]float64 `json:"indicators,omitempty"`
	Analysis        string             `json:"analysis"`
}

// VisualSection is the visual part of a record.
type VisualSection struct {
	Model           string `json:"model"`
	ChartPath       string `json:"chart_path"`
	HasQuantContext bool   `json:"has_quant_context"`
	Analysis        string `json:"analysis"`
}

// IntegratedSection is the verdict part of a record.
type IntegratedSection struct {
	Alignment          Alignment  `json:"alignment"`
	Confidence         int        `json:"confidence"`
	QuantSentiment     Sentiment  `json:"quant_sentiment"`
	VisualSentiment    Sentiment  `json:"visual_sentiment"`
	DivergenceDetected bool       `json:"divergence_detected"`
	TradeSetup         TradeSetup `json:"trade_setup"`
	Risks              []string   `json:"risks"`
	Recommendation     string     `json:"recommendation"`
	Notes              string     `json:"notes"`
}

// NewAnalysisRecord assembles a record from the results of a completed run.
func NewAnalysisRecord(meta RecordMetadata, summary DataSummary, q *QuantResult, v *VisualResult, verdict *IntegratedVerdict) *AnalysisRecord {
	risks := make([]string, len(verdict.Risks))
	copy(risks, verdict.Risks)

	indicators := make(map[string]float64, len(q.Indicators))
	for k, val := range q.Indicators {
		indicators[k] = val
	}

	return &AnalysisRecord{
		Metadata:    meta,
		DataSummary: summary,
		Quant: QuantSection{
			Model:           q.Model,
			PeriodsAnalyzed: q.PeriodsAnalyzed,
			LatestPrice:     q.LatestPrice,
			LatestVolume:    q.LatestVolume,
			Indicators:      indicators,
			Analysis:        q.Analysis,
		},
		Visual: VisualSection{
			Model:           v.Model,
			ChartPath:       v.ChartPath,
			HasQuantContext: v.HasQuantContext,
			Analysis:        v.Analysis,
		},
		Integrated: IntegratedSection{
			Alignment:          verdict.Alignment,
			Confidence:         verdict.Confidence,
			QuantSentiment:     verdict.QuantSentiment,
			VisualSentiment:    verdict.VisualSentiment,
			DivergenceDetected: verdict.DivergenceDetected(),
			TradeSetup:         verdict.TradeSetup,
			Risks:              risks,
			Recommendation:     verdict.Recommendation,
			Notes:              verdict.Notes,
		},
	}
}

// Key returns the unique symbol+timeframe+timestamp key of the record.
func (r *AnalysisRecord) Key() string {
	return fmt.Sprintf("%s_%s_%s",
		NormalizeSymbol(r.Metadata.Symbol),
		r.Metadata.Timeframe,
		r.Metadata.Timestamp.UTC().Format(RecordTimeLayout))
}

// BatchStatus is the outcome of one symbol in a batch run.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchFailed  BatchStatus = "failed"
	BatchSkipped BatchStatus = "skipped"
)

// BatchEntry is the per-symbol line of a batch summary.
type BatchEntry struct {
	Symbol     string      `json:"symbol"`
	Status     BatchStatus `json:"status"`
	OutputFile string      `json:"output_file,omitempty"`
	Alignment  Alignment   `json:"alignment,omitempty"`
	Confidence int         `json:"confidence,omitempty"`
	Divergence bool        `json:"divergence"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// BatchSummary is persisted after a batch run.
type BatchSummary struct {
	RunID        string       `json:"run_id"`
	Timestamp    time.Time    `json:"timestamp"`
	TotalSymbols int          `json:"total_symbols"`
	Successful   int          `json:"successful"`
	Failed       int          `json:"failed"`
	Skipped      int          `json:"skipped"`
	Timeframe    string       `json:"timeframe"`
	DataSource   DataSource   `json:"data_source"`
	Results      []BatchEntry `json:"results"`
}
