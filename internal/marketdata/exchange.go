package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/logging"
	"chart-analyst/internal/models"
)

// maxKlinesPerRequest is the page size limit of the klines endpoint.
const maxKlinesPerRequest = 1000

var supportedTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true, "1M": true,
}

// ExchangeConfig configures the exchange source.
type ExchangeConfig struct {
	Name              string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	RetryAttempts     int
	RetryDelay        time.Duration
}

// ExchangeSource reads candles from a Binance-compatible public klines API.
type ExchangeSource struct {
	name       string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   int
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewExchangeSource creates an exchange source.
func NewExchangeSource(cfg ExchangeConfig, logger zerolog.Logger) *ExchangeSource {
	if cfg.Name == "" {
		cfg.Name = "binance"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.binance.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &ExchangeSource{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		attempts:   cfg.RetryAttempts,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With().Str("component", "exchange").Str("exchange", cfg.Name).Logger(),
	}
}

// Name returns the data source tag.
func (e *ExchangeSource) Name() models.DataSource {
	return models.SourceExchange
}

// FetchSnapshot downloads the most recent periods candles.
func (e *ExchangeSource) FetchSnapshot(ctx context.Context, symbol, timeframe string, periods int) (*models.MarketSnapshot, error) {
	candles, err := e.FetchCandles(ctx, symbol, timeframe, periods)
	if err != nil {
		return nil, err
	}
	snap, err := models.NewMarketSnapshot(symbol, timeframe, models.SourceExchange, candles)
	if err != nil {
		return nil, apperrors.NewDataSourceError(e.name, symbol, "invalid candles", err)
	}
	return snap, nil
}

// FetchCandles pages backwards through the klines endpoint until limit
// candles are collected or history runs out.
func (e *ExchangeSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if !supportedTimeframes[timeframe] {
		return nil, apperrors.NewDataSourceError(e.name, symbol,
			fmt.Sprintf("unsupported timeframe %q", timeframe), nil)
	}
	if limit <= 0 {
		return nil, apperrors.NewDataSourceError(e.name, symbol, "limit must be positive", nil)
	}

	pair := ExchangeSymbol(symbol)
	var candles []models.Candle
	var endTime int64

	for remaining := limit; remaining > 0; {
		page := min(remaining, maxKlinesPerRequest)
		batch, err := e.fetchPage(ctx, pair, timeframe, page, endTime)
		if err != nil {
			return nil, apperrors.NewDataSourceError(e.name, symbol, "fetching klines", err)
		}
		if len(batch) == 0 {
			break
		}

		candles = append(batch, candles...)
		remaining -= len(batch)
		if len(batch) < page {
			break
		}
		endTime = batch[0].Timestamp.UnixMilli() - 1
	}

	if len(candles) == 0 {
		return nil, apperrors.NewDataSourceError(e.name, symbol, "no candles returned", nil)
	}

	e.logger.Debug().
		Str("symbol", symbol).
		Str("timeframe", timeframe).
		Int("candles", len(candles)).
		Msg("Fetched klines")

	return candles, nil
}

type exchangeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *ExchangeSource) fetchPage(ctx context.Context, pair, timeframe string, limit int, endTime int64) ([]models.Candle, error) {
	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("interval", timeframe)
	q.Set("limit", strconv.Itoa(limit))
	if endTime > 0 {
		q.Set("endTime", strconv.FormatInt(endTime, 10))
	}
	endpoint := e.baseURL + "/api/v3/klines?" + q.Encode()

	var raw [][]json.RawMessage
	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}

		start := time.Now()
		resp, err := e.httpClient.Do(req)
		logging.LogAPICall(e.logger, http.MethodGet, "/api/v3/klines", time.Since(start), err)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr exchangeError
			msg := strings.TrimSpace(string(data))
			if json.Unmarshal(data, &apiErr) == nil && apiErr.Msg != "" {
				msg = fmt.Sprintf("%s (code %d)", apiErr.Msg, apiErr.Code)
			}
			err := fmt.Errorf("status %d: %s", resp.StatusCode, msg)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}

		if err := json.Unmarshal(data, &raw); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding klines: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.attempts-1)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		e.logger.Warn().Err(err).Str("symbol", pair).Dur("retry_in", wait).Msg("Klines request failed, retrying")
	})
	if err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(raw))
	for i, k := range raw {
		c, err := parseKline(k)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// parseKline decodes [openTime, open, high, low, close, volume, ...].
func parseKline(k []json.RawMessage) (models.Candle, error) {
	if len(k) < 6 {
		return models.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(k))
	}

	var openTime int64
	if err := json.Unmarshal(k[0], &openTime); err != nil {
		return models.Candle{}, fmt.Errorf("open time: %w", err)
	}

	var vals [5]float64
	for i := range vals {
		var s string
		if err := json.Unmarshal(k[i+1], &s); err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	return models.Candle{
		Timestamp: time.UnixMilli(openTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// ExchangeSymbol turns BTC/USDT into the exchange pair BTCUSDT.
func ExchangeSymbol(symbol string) string {
	r := strings.NewReplacer("/", "", "-", "", "_", "", ":", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(symbol)))
}
