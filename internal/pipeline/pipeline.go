// Package pipeline runs the quantitative, visual and integration stages for
// one symbol, and many symbols concurrently in a batch.
package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chart-analyst/internal/agents"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/logging"
	"chart-analyst/internal/marketdata"
	"chart-analyst/internal/models"
	"chart-analyst/internal/notify"
	"chart-analyst/internal/security"
	"chart-analyst/internal/store"
)

// QuantStage produces a QuantResult from a snapshot.
type QuantStage interface {
	Analyze(ctx context.Context, snap *models.MarketSnapshot) (*models.QuantResult, error)
}

// VisualStage produces a VisualResult from a chart and the quant context.
type VisualStage interface {
	Analyze(ctx context.Context, req agents.VisualRequest) (*models.VisualResult, error)
}

// Integrator reconciles both stage results into a verdict.
type Integrator interface {
	Integrate(quant *models.QuantResult, visual *models.VisualResult) (*models.IntegratedVerdict, error)
}

// Deps are the collaborators of a Pipeline. Sink and Notifier may be nil.
type Deps struct {
	Source     marketdata.Source
	Quant      QuantStage
	Visual     VisualStage
	Integrator Integrator
	Sink       store.Sink
	Notifier   notify.Notifier
	Logger     zerolog.Logger
}

// Request describes one analysis.
type Request struct {
	Symbol    string
	Timeframe string
	ChartPath string
	// Periods is the number of candles to fetch; zero uses the pipeline default.
	Periods int
	// NoSave skips the sink.
	NoSave bool
}

// Result holds everything a run produced. On failure the fields reached
// before the failing stage are set and Run records the error.
type Result struct {
	Run      *Run
	Snapshot *models.MarketSnapshot
	Quant    *models.QuantResult
	Visual   *models.VisualResult
	Verdict  *models.IntegratedVerdict
	Record   *models.AnalysisRecord
	Location string
}

// Pipeline executes the stages of one analysis in order.
type Pipeline struct {
	source     marketdata.Source
	quant      QuantStage
	visual     VisualStage
	integrator Integrator
	sink       store.Sink
	notifier   notify.Notifier
	logger     zerolog.Logger
	periods    int

	now   func() time.Time
	newID func() string
}

// New creates a pipeline. periods is the default fetch size.
func New(deps Deps, periods int) *Pipeline {
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}
	if periods <= 0 {
		periods = 200
	}
	return &Pipeline{
		source:     deps.Source,
		quant:      deps.Quant,
		visual:     deps.Visual,
		integrator: deps.Integrator,
		sink:       deps.Sink,
		notifier:   notifier,
		logger:     deps.Logger,
		periods:    periods,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
}

// Notifier returns the notifier verdicts are sent to.
func (p *Pipeline) Notifier() notify.Notifier {
	return p.notifier
}

// Analyze runs the full pipeline. No verdict or record is produced unless
// every stage succeeds.
func (p *Pipeline) Analyze(ctx context.Context, req Request) (*Result, error) {
	run := NewRun(p.newID(), strings.TrimSpace(req.Symbol), strings.TrimSpace(req.Timeframe))
	run.now = p.now
	result := &Result{Run: run}
	logger := logging.WithRun(logging.WithSymbol(p.logger, run.Symbol, run.Timeframe), run.ID)

	fail := func(err error) (*Result, error) {
		from := run.State()
		if ferr := run.Fail(err); ferr != nil {
			logger.Warn().Err(ferr).Msg("Could not mark run failed")
		}
		logger.Error().
			Err(security.RedactError(err)).
			Str("kind", apperrors.Kind(err)).
			Str("state", string(from)).
			Msg("Analysis failed")
		if nerr := p.notifier.SendError(ctx, err, run.Symbol+" "+run.Timeframe); nerr != nil {
			logger.Warn().Err(nerr).Msg("Failed to send error notification")
		}
		return result, err
	}

	if run.Symbol == "" {
		return fail(apperrors.NewValidationError("symbol", req.Symbol, "symbol is required"))
	}
	if run.Timeframe == "" {
		return fail(apperrors.NewValidationError("timeframe", req.Timeframe, "timeframe is required"))
	}
	if err := agents.CheckChart(req.ChartPath); err != nil {
		return fail(err)
	}

	periods := req.Periods
	if periods <= 0 {
		periods = p.periods
	}

	logger.Info().
		Str("chart", req.ChartPath).
		Str("source", string(p.source.Name())).
		Int("periods", periods).
		Msg("Starting analysis pipeline")

	// Quantitative stage
	if err := run.Transition(StateQuantRunning); err != nil {
		return fail(err)
	}
	snap, err := p.source.FetchSnapshot(ctx, run.Symbol, run.Timeframe, periods)
	if err != nil {
		return fail(err)
	}
	result.Snapshot = snap
	logger.Info().Int("candles", snap.Len()).Str("source", string(snap.Source())).Msg("Loaded market data")

	quant, err := p.quant.Analyze(ctx, snap)
	if err != nil {
		return fail(err)
	}
	result.Quant = quant
	if err := run.Transition(StateQuantDone); err != nil {
		return fail(err)
	}

	// Visual stage
	if err := run.Transition(StateVisualRunning); err != nil {
		return fail(err)
	}
	visual, err := p.visual.Analyze(ctx, agents.VisualRequest{
		Symbol:    run.Symbol,
		Timeframe: run.Timeframe,
		ChartPath: req.ChartPath,
		Quant:     quant,
	})
	if err != nil {
		return fail(err)
	}
	result.Visual = visual
	if err := run.Transition(StateVisualDone); err != nil {
		return fail(err)
	}

	// Integration
	if err := run.Transition(StateIntegrating); err != nil {
		return fail(err)
	}
	verdict, err := p.integrator.Integrate(quant, visual)
	if err != nil {
		return fail(err)
	}

	record := models.NewAnalysisRecord(models.RecordMetadata{
		RunID:      run.ID,
		Symbol:     run.Symbol,
		Timeframe:  run.Timeframe,
		Timestamp:  p.now().UTC().Truncate(time.Second),
		DataSource: snap.Source(),
		ChartImage: filepath.Base(req.ChartPath),
	}, snap.Summary(), quant, visual, verdict)

	if p.sink != nil && !req.NoSave {
		location, err := p.sink.Save(ctx, record)
		if err != nil {
			return fail(apperrors.Wrapf(err, "saving %s", record.Key()))
		}
		result.Location = location
		logger.Info().Str("location", location).Msg("Results saved")
	}

	if err := run.Transition(StateComplete); err != nil {
		return fail(err)
	}
	result.Verdict = verdict
	result.Record = record

	logging.LogVerdict(logger, run.Symbol, string(verdict.Alignment), verdict.Confidence, verdict.DivergenceDetected())
	if err := p.notifier.SendVerdict(ctx, record); err != nil {
		logger.Warn().Err(err).Msg("Failed to send verdict notification")
	}

	return result, nil
}
