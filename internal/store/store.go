// Package store provides persistence for analysis records and cached candles.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chart-analyst/internal/config"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"

	"github.com/rs/zerolog"
)

// Sink persists completed analysis records. Writes are write-once: saving a
// record whose key already exists fails with ErrRecordExists.
type Sink interface {
	Name() string
	Save(ctx context.Context, record *models.AnalysisRecord) (string, error)
}

// CandleCache stores fetched candles for reuse.
type CandleCache interface {
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	// LoadCandles returns up to limit of the newest candles, oldest first,
	// and the oldest refresh time among the returned candles.
	LoadCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, time.Time, error)
}

// RecordFilter narrows history queries.
type RecordFilter struct {
	Symbol     string
	Timeframe  string
	Alignment  models.Alignment
	Divergence bool
	Since      time.Time
	Limit      int
}

// RecordSummary is one row of analysis history.
type RecordSummary struct {
	Key            string           `json:"key"`
	RunID          string           `json:"run_id"`
	Symbol         string           `json:"symbol"`
	Timeframe      string           `json:"timeframe"`
	Timestamp      time.Time        `json:"timestamp"`
	Alignment      models.Alignment `json:"alignment"`
	Confidence     int              `json:"confidence"`
	Divergence     bool             `json:"divergence_detected"`
	Recommendation string           `json:"recommendation"`
}

// MultiSink saves a record to every configured sink.
type MultiSink struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewMultiSink creates a sink that fans out to sinks in order.
func NewMultiSink(logger zerolog.Logger, sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

// Name returns the joined names of the wrapped sinks.
func (m *MultiSink) Name() string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

// Save writes the record to every sink and returns the first location.
// The first sink is authoritative: its error aborts the save. Later sinks
// are best effort and only logged.
func (m *MultiSink) Save(ctx context.Context, record *models.AnalysisRecord) (string, error) {
	if len(m.sinks) == 0 {
		return "", fmt.Errorf("no storage backends configured")
	}

	location, err := m.sinks[0].Save(ctx, record)
	if err != nil {
		return "", err
	}

	for _, s := range m.sinks[1:] {
		if _, err := s.Save(ctx, record); err != nil {
			m.logger.Warn().
				Err(err).
				Str("sink", s.Name()).
				Str("key", record.Key()).
				Msg("Secondary sink failed")
		}
	}
	return location, nil
}

// Backends holds the opened storage backends.
type Backends struct {
	Sink    Sink
	JSON    *JSONSink
	SQLite  *SQLiteStore
	closers []func()
}

// Close releases every opened backend.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// Open creates the backends listed in cfg.Storage.Backends. The JSON sink
// is always available for batch summaries, even when not listed.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Backends, error) {
	b := &Backends{JSON: NewJSONSink(cfg.Results.JSONFolder)}

	var sinks []Sink
	for _, name := range cfg.Storage.Backends {
		switch name {
		case "json":
			sinks = append(sinks, b.JSON)
		case "sqlite":
			s, err := NewSQLiteStore(cfg.Storage.SQLitePath)
			if err != nil {
				b.Close()
				return nil, err
			}
			b.SQLite = s
			b.closers = append(b.closers, func() { s.Close() })
			sinks = append(sinks, s)
		case "postgres":
			if cfg.Credentials.Postgres.DatabaseURL == "" {
				b.Close()
				return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "postgres backend requires a database_url")
			}
			p, err := NewPostgresSink(ctx, cfg.Credentials.Postgres.DatabaseURL)
			if err != nil {
				b.Close()
				return nil, err
			}
			b.closers = append(b.closers, p.Close)
			sinks = append(sinks, p)
		default:
			b.Close()
			return nil, apperrors.Wrapf(apperrors.ErrConfigInvalid, "unknown storage backend %q", name)
		}
	}

	if len(sinks) == 0 {
		sinks = append(sinks, b.JSON)
	}
	b.Sink = NewMultiSink(logger, sinks...)
	return b, nil
}
