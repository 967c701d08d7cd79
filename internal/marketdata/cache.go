package marketdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"
	"chart-analyst/internal/store"
)

// CachedSource serves snapshots from a candle cache while it is fresh and
// refreshes it from an upstream source otherwise.
type CachedSource struct {
	upstream Source
	cache    store.CandleCache
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// NewCachedSource wraps upstream with cache. A non-positive ttl disables
// cache hits, so every fetch refreshes the cache.
func NewCachedSource(upstream Source, cache store.CandleCache, ttl time.Duration, logger zerolog.Logger) *CachedSource {
	return &CachedSource{
		upstream: upstream,
		cache:    cache,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With().Str("component", "candle_cache").Logger(),
	}
}

// Name returns the upstream source tag; cache hits are tagged sqlite on
// the snapshot itself.
func (c *CachedSource) Name() models.DataSource {
	return c.upstream.Name()
}

// FetchSnapshot returns cached candles when every one of them is fresh, they
// cover periods and no two are further apart than the timeframe; otherwise
// it fetches upstream and stores the result.
func (c *CachedSource) FetchSnapshot(ctx context.Context, symbol, timeframe string, periods int) (*models.MarketSnapshot, error) {
	cached, fetchedAt, err := c.cache.LoadCandles(ctx, symbol, timeframe, periods)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Candle cache read failed")
	} else if c.fresh(fetchedAt) && len(cached) >= periods && c.continuous(cached, timeframe) {
		snap, err := models.NewMarketSnapshot(symbol, timeframe, models.SourceCache, cached)
		if err != nil {
			return nil, apperrors.NewDataSourceError("sqlite", symbol, "invalid cached candles", err)
		}
		c.logger.Debug().
			Str("symbol", symbol).
			Str("timeframe", timeframe).
			Time("fetched_at", fetchedAt).
			Msg("Serving candles from cache")
		return snap, nil
	}

	snap, err := c.upstream.FetchSnapshot(ctx, symbol, timeframe, periods)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SaveCandles(ctx, symbol, timeframe, snap.Candles()); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Candle cache write failed")
	}
	return snap, nil
}

func (c *CachedSource) continuous(candles []models.Candle, timeframe string) bool {
	step, ok := TimeframeDuration(timeframe)
	if !ok {
		return false
	}
	if !contiguous(candles, step) {
		c.logger.Debug().Str("timeframe", timeframe).Msg("Cached candles have gaps, refreshing")
		return false
	}
	return true
}

func (c *CachedSource) fresh(fetchedAt time.Time) bool {
	if c.ttl <= 0 || fetchedAt.IsZero() {
		return false
	}
	return c.now().Sub(fetchedAt) < c.ttl
}

// StoredSource reads snapshots only from the candle cache, regardless of
// age. It backs the sqlite data source for offline runs.
type StoredSource struct {
	cache store.CandleCache
}

// NewStoredSource creates a cache-only source.
func NewStoredSource(cache store.CandleCache) *StoredSource {
	return &StoredSource{cache: cache}
}

// Name returns the data source tag.
func (s *StoredSource) Name() models.DataSource {
	return models.SourceCache
}

// FetchSnapshot returns the newest cached candles.
func (s *StoredSource) FetchSnapshot(ctx context.Context, symbol, timeframe string, periods int) (*models.MarketSnapshot, error) {
	candles, _, err := s.cache.LoadCandles(ctx, symbol, timeframe, periods)
	if err != nil {
		return nil, apperrors.NewDataSourceError("sqlite", symbol, "reading candle cache", err)
	}
	if len(candles) == 0 {
		return nil, apperrors.NewDataSourceError("sqlite", symbol,
			"no cached candles for "+timeframe+"; run fetch first", nil)
	}
	snap, err := models.NewMarketSnapshot(symbol, timeframe, models.SourceCache, candles)
	if err != nil {
		return nil, apperrors.NewDataSourceError("sqlite", symbol, "invalid cached candles", err)
	}
	return snap, nil
}
