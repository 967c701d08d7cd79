package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"chart-analyst/internal/models"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: saving candles to the cache and loading them back produces the
// same candles, oldest first, capped at the requested limit.
func TestProperty_CandleCacheRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "XRP/USDT", "ADA/USDT"}
	timeframeGen := gen.OneConstOf("15m", "1h", "4h", "1d")
	countGen := gen.IntRange(1, 40)
	limitGen := gen.IntRange(1, 60)
	priceGen := gen.Float64Range(0.5, 70000.0)
	volumeGen := gen.Float64Range(1, 1e6)

	run := 0
	properties.Property("save then load returns the newest candles in order", prop.ForAll(
		func(symbolIdx int, timeframe string, count, limit int, basePrice, baseVolume float64) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("%s#%d", symbols[symbolIdx%len(symbols)], run)

			candles := generateTestCandles(count, basePrice, baseVolume)
			if err := store.SaveCandles(ctx, symbol, timeframe, candles); err != nil {
				t.Logf("Failed to save candles: %v", err)
				return false
			}

			retrieved, fetchedAt, err := store.LoadCandles(ctx, symbol, timeframe, limit)
			if err != nil {
				t.Logf("Failed to load candles: %v", err)
				return false
			}
			if fetchedAt.IsZero() {
				t.Log("fetchedAt should be set after a save")
				return false
			}

			want := candles
			if limit < len(want) {
				want = want[len(want)-limit:]
			}
			if len(retrieved) != len(want) {
				t.Logf("Count mismatch: expected %d, got %d", len(want), len(retrieved))
				return false
			}
			for i, orig := range want {
				if !candlesEqual(orig, retrieved[i]) {
					t.Logf("Candle mismatch at index %d: original=%+v, retrieved=%+v", i, orig, retrieved[i])
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(symbols)-1),
		timeframeGen,
		countGen,
		limitGen,
		priceGen,
		volumeGen,
	))

	properties.Property("empty cache yields nothing and a zero fetch time", prop.ForAll(
		func(symbolIdx int, timeframe string) bool {
			run++
			symbol := fmt.Sprintf("%s_empty_%d", symbols[symbolIdx%len(symbols)], run)

			if err := store.SaveCandles(context.Background(), symbol, timeframe, nil); err != nil {
				return false
			}
			candles, fetchedAt, err := store.LoadCandles(context.Background(), symbol, timeframe, 10)
			return err == nil && len(candles) == 0 && fetchedAt.IsZero()
		},
		gen.IntRange(0, len(symbols)-1),
		timeframeGen,
	))

	properties.TestingRun(t)
}

// generateTestCandles creates 4h candles with valid OHLC relationships.
func generateTestCandles(count int, basePrice, baseVolume float64) []models.Candle {
	candles := make([]models.Candle, count)
	baseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < count; i++ {
		variation := float64(i%10) * 0.01 * basePrice
		open := basePrice + variation
		close := basePrice + variation*0.5

		high := math.Max(open, close) * 1.01
		low := math.Min(open, close) * 0.99

		candles[i] = models.Candle{
			Timestamp: baseTime.Add(time.Duration(i) * 4 * time.Hour),
			Open:      roundToDecimal(open, 2),
			High:      roundToDecimal(high, 2),
			Low:       roundToDecimal(low, 2),
			Close:     roundToDecimal(close, 2),
			Volume:    roundToDecimal(baseVolume+float64(i*1000), 4),
		}
	}

	return candles
}

func roundToDecimal(val float64, places int) float64 {
	multiplier := math.Pow(10, float64(places))
	return math.Round(val*multiplier) / multiplier
}

// candlesEqual compares two candles for equality with floating point tolerance.
func candlesEqual(a, b models.Candle) bool {
	const tolerance = 0.01

	return a.Timestamp.Equal(b.Timestamp) &&
		floatEqual(a.Open, b.Open, tolerance) &&
		floatEqual(a.High, b.High, tolerance) &&
		floatEqual(a.Low, b.Low, tolerance) &&
		floatEqual(a.Close, b.Close, tolerance) &&
		floatEqual(a.Volume, b.Volume, tolerance)
}

func floatEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}
