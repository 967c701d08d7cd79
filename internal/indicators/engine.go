// Package indicators provides technical indicator calculations with parallel processing.
package indicators

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"chart-analyst/internal/models"
)

// Indicator defines the interface for single-value technical indicators.
type Indicator interface {
	Name() string
	Calculate(candles []models.Candle) ([]float64, error)
	Period() int
}

// MultiValueIndicator defines the interface for indicators that return multiple series.
type MultiValueIndicator interface {
	Name() string
	Calculate(candles []models.Candle) (map[string][]float64, error)
	Period() int
}

// Engine calculates registered indicators concurrently with a bounded worker count.
type Engine struct {
	workers     int
	indicators  map[string]Indicator
	multiIndics map[string]MultiValueIndicator
	mu          sync.RWMutex
}

// NewEngine creates a new indicator engine with the specified number of workers.
func NewEngine(workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		workers:     workers,
		indicators:  make(map[string]Indicator),
		multiIndics: make(map[string]MultiValueIndicator),
	}
}

// NewDefaultEngine returns an engine with the indicator set used for prompt digests.
func NewDefaultEngine() *Engine {
	e := NewEngine(4)
	e.RegisterIndicator(NewRSI(14))
	e.RegisterIndicator(NewSMA(20))
	e.RegisterIndicator(NewSMA(50))
	e.RegisterIndicator(NewSMA(200))
	e.RegisterIndicator(NewEMA(12))
	e.RegisterIndicator(NewEMA(26))
	e.RegisterIndicator(NewATR(14))
	e.RegisterIndicator(NewMomentum(5))
	e.RegisterIndicator(NewMomentum(10))
	e.RegisterIndicator(NewMomentum(20))
	e.RegisterIndicator(NewVolumeRatio(20))
	e.RegisterMultiIndicator(NewMACD(12, 26, 9))
	e.RegisterMultiIndicator(NewBollingerBands(20, 2))
	return e
}

// RegisterIndicator registers a single-value indicator.
func (e *Engine) RegisterIndicator(ind Indicator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indicators[ind.Name()] = ind
}

// RegisterMultiIndicator registers a multi-value indicator.
func (e *Engine) RegisterMultiIndicator(ind MultiValueIndicator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.multiIndics[ind.Name()] = ind
}

// CalculateAll calculates all registered indicators in parallel. Indicators
// that lack data are left out of the result rather than failing the call.
func (e *Engine) CalculateAll(ctx context.Context, candles []models.Candle) (map[string][]float64, map[string]map[string][]float64, error) {
	e.mu.RLock()
	indicators := make([]Indicator, 0, len(e.indicators))
	for _, ind := range e.indicators {
		indicators = append(indicators, ind)
	}
	multiIndics := make([]MultiValueIndicator, 0, len(e.multiIndics))
	for _, ind := range e.multiIndics {
		multiIndics = append(multiIndics, ind)
	}
	e.mu.RUnlock()

	singleResults := make(map[string][]float64)
	multiResults := make(map[string]map[string][]float64)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, ind := range indicators {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			values, err := ind.Calculate(candles)
			if err != nil {
				return nil
			}
			mu.Lock()
			singleResults[ind.Name()] = values
			mu.Unlock()
			return nil
		})
	}

	for _, ind := range multiIndics {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			values, err := ind.Calculate(candles)
			if err != nil {
				return nil
			}
			mu.Lock()
			multiResults[ind.Name()] = values
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return singleResults, multiResults, nil
}

// Calculate calculates a specific indicator by name.
func (e *Engine) Calculate(ctx context.Context, name string, candles []models.Candle) ([]float64, error) {
	e.mu.RLock()
	ind, ok := e.indicators[name]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("indicator %s not found", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ind.Calculate(candles)
}

// ListIndicators returns the sorted names of all registered indicators.
func (e *Engine) ListIndicators() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.indicators)+len(e.multiIndics))
	for name := range e.indicators {
		names = append(names, name)
	}
	for name := range e.multiIndics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Digest is the latest value of each indicator, keyed by lower-case name.
type Digest map[string]float64

// Digest calculates all indicators and keeps the latest value of each series.
// Multi-value series are keyed as prefix_field, where prefix is the first
// segment of the indicator name ("macd_signal", "bb_upper").
func (e *Engine) Digest(ctx context.Context, candles []models.Candle) (Digest, error) {
	single, multi, err := e.CalculateAll(ctx, candles)
	if err != nil {
		return nil, err
	}

	d := make(Digest, len(single)+len(multi)*4)
	for name, values := range single {
		d[strings.ToLower(name)] = last(values)
	}
	for name, series := range multi {
		prefix := strings.ToLower(strings.SplitN(name, "_", 2)[0])
		for field, values := range series {
			key := prefix + "_" + field
			if field == prefix {
				key = prefix
			}
			d[key] = last(values)
		}
	}
	return d, nil
}

// Keys returns the digest keys in sorted order.
func (d Digest) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders one "key: value" line per indicator, sorted by key.
func (d Digest) String() string {
	var sb strings.Builder
	for _, k := range d.Keys() {
		fmt.Fprintf(&sb, "%s: %.4f\n", k, d[k])
	}
	return sb.String()
}
