package agents

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"chart-analyst/internal/config"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/indicators"
	"chart-analyst/internal/inference"
	"chart-analyst/internal/logging"
	"chart-analyst/internal/models"
)

// QuantConfig holds the quantitative stage settings.
type QuantConfig struct {
	Model         config.ModelConfig
	MinPeriods    int
	Periods       int
	PromptPeriods int
}

// QuantConfigFrom extracts the quantitative stage settings from cfg.
func QuantConfigFrom(cfg *config.Config) QuantConfig {
	return QuantConfig{
		Model:         cfg.Models.Quantitative,
		MinPeriods:    cfg.Analysis.MinPeriods,
		Periods:       cfg.Analysis.Periods,
		PromptPeriods: cfg.Analysis.PromptPeriods,
	}
}

// QuantAgent summarizes numeric market data with a text model.
type QuantAgent struct {
	client inference.Client
	engine *indicators.Engine
	cfg    QuantConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewQuantAgent creates a new quantitative agent.
func NewQuantAgent(client inference.Client, cfg QuantConfig, logger zerolog.Logger) *QuantAgent {
	if cfg.MinPeriods <= 0 {
		cfg.MinPeriods = 100
	}
	if cfg.Periods < cfg.MinPeriods {
		cfg.Periods = cfg.MinPeriods
	}
	if cfg.PromptPeriods <= 0 {
		cfg.PromptPeriods = 50
	}
	return &QuantAgent{
		client: client,
		engine: indicators.NewDefaultEngine(),
		cfg:    cfg,
		logger: logging.WithStage(logger, StageQuantitative),
		now:    time.Now,
	}
}

func (a *QuantAgent) Name() string {
	return StageQuantitative
}

// MinPeriods returns the minimum snapshot length the agent accepts.
func (a *QuantAgent) MinPeriods() int {
	return a.cfg.MinPeriods
}

// Analyze runs the quantitative stage. Snapshots shorter than MinPeriods are
// rejected before any inference call is made.
func (a *QuantAgent) Analyze(ctx context.Context, snap *models.MarketSnapshot) (*models.QuantResult, error) {
	if snap == nil {
		return nil, apperrors.NewValidationError("snapshot", nil, "market snapshot is required")
	}
	if snap.Len() < a.cfg.MinPeriods {
		return nil, apperrors.NewInsufficientDataError(snap.Symbol(), snap.Timeframe(), snap.Len(), a.cfg.MinPeriods)
	}

	candles := snap.Tail(a.cfg.Periods)
	latest := candles[len(candles)-1]

	digest, err := a.engine.Digest(ctx, candles)
	if err != nil {
		return nil, err
	}

	prompt := buildQuantPrompt(snap.Symbol(), snap.Timeframe(), candles, a.cfg.PromptPeriods, digest)

	start := a.now()
	analysis, err := complete(ctx, a.client, inference.Request{
		Model: a.cfg.Model.Name,
		Messages: []inference.Message{
			{Role: inference.RoleSystem, Content: quantSystemPrompt},
			{Role: inference.RoleUser, Content: prompt},
		},
		Options: inference.OptionsFromModel(a.cfg.Model),
	}, "quantitative analysis")
	logging.LogStage(a.logger, StageQuantitative, a.cfg.Model.Name, a.now().Sub(start), err)
	if err != nil {
		return nil, err
	}

	return &models.QuantResult{
		Symbol:          snap.Symbol(),
		Timeframe:       snap.Timeframe(),
		Model:           a.cfg.Model.Name,
		PeriodsAnalyzed: len(candles),
		LatestPrice:     latest.Close,
		LatestVolume:    latest.Volume,
		Indicators:      digest,
		Analysis:        analysis,
		CompletedAt:     a.now().UTC(),
	}, nil
}
