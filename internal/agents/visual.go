package agents

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"chart-analyst/internal/config"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/inference"
	"chart-analyst/internal/logging"
	"chart-analyst/internal/models"
)

// VisualConfig holds the visual stage settings.
type VisualConfig struct {
	Model            config.ModelConfig
	StrictChartNames bool
}

// VisualConfigFrom extracts the visual stage settings from cfg.
func VisualConfigFrom(cfg *config.Config) VisualConfig {
	return VisualConfig{
		Model:            cfg.Models.Visual,
		StrictChartNames: cfg.Analysis.StrictChartNames,
	}
}

// VisualRequest is the input of the visual stage.
type VisualRequest struct {
	Symbol    string
	Timeframe string
	ChartPath string
	// Quant is the quantitative result for the same symbol and timeframe.
	Quant *models.QuantResult
}

// VisualAgent reads a chart image with a vision-capable model.
type VisualAgent struct {
	client inference.Client
	cfg    VisualConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewVisualAgent creates a new visual agent.
func NewVisualAgent(client inference.Client, cfg VisualConfig, logger zerolog.Logger) *VisualAgent {
	return &VisualAgent{
		client: client,
		cfg:    cfg,
		logger: logging.WithStage(logger, StageVisual),
		now:    time.Now,
	}
}

func (a *VisualAgent) Name() string {
	return StageVisual
}

// Analyze runs the visual stage.
func (a *VisualAgent) Analyze(ctx context.Context, req VisualRequest) (*models.VisualResult, error) {
	if err := CheckChart(req.ChartPath); err != nil {
		return nil, err
	}
	if req.Quant != nil && (req.Quant.Symbol != req.Symbol || req.Quant.Timeframe != req.Timeframe) {
		return nil, apperrors.NewValidationError("quant_result",
			req.Quant.Symbol+" "+req.Quant.Timeframe,
			"quantitative result belongs to a different symbol or timeframe than "+req.Symbol+" "+req.Timeframe)
	}
	if a.cfg.StrictChartNames {
		if err := ValidateChartName(req.ChartPath, req.Symbol, req.Timeframe); err != nil {
			return nil, err
		}
	}

	image, err := os.ReadFile(req.ChartPath)
	if err != nil {
		return nil, apperrors.NewChartNotFoundError(req.ChartPath, err)
	}

	start := a.now()
	analysis, err := complete(ctx, a.client, inference.Request{
		Model: a.cfg.Model.Name,
		Messages: []inference.Message{
			{Role: inference.RoleSystem, Content: visualSystemPrompt},
			{Role: inference.RoleUser, Content: buildVisualPrompt(req.Symbol, req.Timeframe, req.Quant), Images: [][]byte{image}},
		},
		Options: inference.OptionsFromModel(a.cfg.Model),
	}, "visual analysis")
	logging.LogStage(a.logger, StageVisual, a.cfg.Model.Name, a.now().Sub(start), err)
	if err != nil {
		return nil, err
	}

	return &models.VisualResult{
		Symbol:          req.Symbol,
		Timeframe:       req.Timeframe,
		Model:           a.cfg.Model.Name,
		ChartPath:       req.ChartPath,
		HasQuantContext: req.Quant != nil,
		Analysis:        analysis,
		CompletedAt:     a.now().UTC(),
	}, nil
}
