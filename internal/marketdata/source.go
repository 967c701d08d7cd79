// Package marketdata provides OHLCV sources for the analysis pipeline:
// a public exchange klines API, CSV files, and a SQLite-backed cache.
package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
	"chart-analyst/internal/store"
)

// Source loads market snapshots.
type Source interface {
	// Name identifies the source in records and logs.
	Name() models.DataSource
	// FetchSnapshot returns up to periods of the most recent candles for
	// symbol and timeframe, oldest first. Failures are DataSourceErrors.
	FetchSnapshot(ctx context.Context, symbol, timeframe string, periods int) (*models.MarketSnapshot, error)
}

func tail(candles []models.Candle, n int) []models.Candle {
	if n <= 0 || n >= len(candles) {
		return candles
	}
	return candles[len(candles)-n:]
}

// Options selects and configures a source.
type Options struct {
	// Kind is ccxt, csv or sqlite.
	Kind string
	// CSVPath is a file or folder for the csv kind.
	CSVPath string
	// Cache is used by the ccxt kind when set and required by sqlite.
	Cache    store.CandleCache
	CacheTTL time.Duration
	Exchange ExchangeConfig
}

// New builds the source described by opts.
func New(opts Options, logger zerolog.Logger) (Source, error) {
	switch opts.Kind {
	case "", string(models.SourceExchange):
		ex := NewExchangeSource(opts.Exchange, logger)
		if opts.Cache == nil {
			return ex, nil
		}
		return NewCachedSource(ex, opts.Cache, opts.CacheTTL, logger), nil
	case string(models.SourceCSV):
		if opts.CSVPath == "" {
			return nil, apperrors.NewValidationError("csv_file", "", "csv source requires a file or folder")
		}
		return NewCSVSource(opts.CSVPath), nil
	case string(models.SourceCache):
		if opts.Cache == nil {
			return nil, apperrors.NewValidationError("source", opts.Kind, "sqlite source requires the sqlite backend")
		}
		return NewStoredSource(opts.Cache), nil
	default:
		return nil, apperrors.NewValidationError("source", opts.Kind, "must be ccxt, csv or sqlite")
	}
}
