package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"chart-analyst/internal/agents"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
	"chart-analyst/internal/notify"
	"chart-analyst/internal/security"
)

// Analyzer runs a single-symbol analysis. *Pipeline implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// SummaryWriter persists batch summaries. *store.JSONSink implements it.
type SummaryWriter interface {
	SaveSummary(ctx context.Context, summary *models.BatchSummary) (string, error)
}

// BatchConfig holds batch settings.
type BatchConfig struct {
	Timeframe   string
	ChartFolder string
	Workers     int
	Periods     int
	DataSource  models.DataSource
}

// BatchRunner analyzes many symbols on a bounded worker pool.
type BatchRunner struct {
	analyzer  Analyzer
	summaries SummaryWriter
	notifier  notify.Notifier
	cfg       BatchConfig
	logger    zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewBatchRunner creates a batch runner. summaries and notifier may be nil.
func NewBatchRunner(analyzer Analyzer, summaries SummaryWriter, notifier notify.Notifier, cfg BatchConfig, logger zerolog.Logger) *BatchRunner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}
	return &BatchRunner{
		analyzer:  analyzer,
		summaries: summaries,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With().Str("component", "batch").Logger(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// BatchResult is the outcome of a batch run.
type BatchResult struct {
	Summary *models.BatchSummary
	// SummaryPath is where the summary was written, if anywhere.
	SummaryPath string
}

// Run analyzes symbols concurrently. Failures are isolated per symbol.
// Once ctx is cancelled no further symbols start; those are reported as
// skipped while symbols already running finish on their own timeouts.
func (b *BatchRunner) Run(ctx context.Context, symbols []string) (*BatchResult, error) {
	symbols = UniqueSymbols(symbols)
	if len(symbols) == 0 {
		return nil, apperrors.NewValidationError("symbols", nil, "no symbols to analyze")
	}

	runID := b.newID()
	logger := b.logger.With().Str("batch_id", runID).Logger()
	logger.Info().
		Int("symbols", len(symbols)).
		Str("timeframe", b.cfg.Timeframe).
		Int("workers", b.cfg.Workers).
		Msg("Starting batch analysis")

	entries := make([]models.BatchEntry, len(symbols))
	p := pool.New().WithMaxGoroutines(b.cfg.Workers)

	for i, symbol := range symbols {
		if ctx.Err() != nil {
			entries[i] = skipped(symbol)
			continue
		}
		p.Go(func() {
			// Go blocks while the pool is full, so cancellation may have
			// happened while this symbol was queued.
			if ctx.Err() != nil {
				entries[i] = skipped(symbol)
				return
			}
			entries[i] = b.analyzeOne(context.WithoutCancel(ctx), symbol, logger)
		})
	}
	p.Wait()

	summary := &models.BatchSummary{
		RunID:        runID,
		Timestamp:    b.now().UTC().Truncate(time.Second),
		TotalSymbols: len(symbols),
		Timeframe:    b.cfg.Timeframe,
		DataSource:   b.cfg.DataSource,
		Results:      entries,
	}
	for _, e := range entries {
		switch e.Status {
		case models.BatchSuccess:
			summary.Successful++
		case models.BatchFailed:
			summary.Failed++
		case models.BatchSkipped:
			summary.Skipped++
		}
	}

	result := &BatchResult{Summary: summary}
	if b.summaries != nil {
		path, err := b.summaries.SaveSummary(context.WithoutCancel(ctx), summary)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to save batch summary")
		} else {
			result.SummaryPath = path
		}
	}

	logger.Info().
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("Batch analysis complete")

	if err := b.notifier.SendBatchSummary(context.WithoutCancel(ctx), summary); err != nil {
		logger.Warn().Err(err).Msg("Failed to send batch summary notification")
	}

	return result, nil
}

func (b *BatchRunner) analyzeOne(ctx context.Context, symbol string, logger zerolog.Logger) models.BatchEntry {
	chart, err := agents.DiscoverChart(b.cfg.ChartFolder, symbol, b.cfg.Timeframe)
	if err != nil {
		logger.Warn().Str("symbol", symbol).Err(err).Msg("Chart not found")
		return failed(symbol, err)
	}

	res, err := b.analyzer.Analyze(ctx, Request{
		Symbol:    symbol,
		Timeframe: b.cfg.Timeframe,
		ChartPath: chart,
		Periods:   b.cfg.Periods,
	})
	if err != nil {
		return failed(symbol, err)
	}

	return models.BatchEntry{
		Symbol:     symbol,
		Status:     models.BatchSuccess,
		OutputFile: res.Location,
		Alignment:  res.Verdict.Alignment,
		Confidence: res.Verdict.Confidence,
		Divergence: res.Verdict.DivergenceDetected(),
	}
}

// AllFailed reports whether a batch produced no successful analysis while
// at least one symbol failed.
func AllFailed(summary *models.BatchSummary) bool {
	return summary.Successful == 0 && summary.Failed > 0
}

func failed(symbol string, err error) models.BatchEntry {
	return models.BatchEntry{
		Symbol:    symbol,
		Status:    models.BatchFailed,
		ErrorKind: apperrors.Kind(err),
		Error:     security.Redact(err.Error()),
	}
}

func skipped(symbol string) models.BatchEntry {
	return models.BatchEntry{
		Symbol: symbol,
		Status: models.BatchSkipped,
		Error:  "batch cancelled before the symbol was scheduled",
	}
}
