// Package models provides domain models for the analysis pipeline.
package models

import (
	"fmt"
	"strings"
	"time"
)

// DataSource identifies where a market snapshot came from.
type DataSource string

const (
	SourceExchange DataSource = "ccxt"
	SourceCSV      DataSource = "csv"
	SourceCache    DataSource = "sqlite"
)

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// MarketSnapshot is an ordered, immutable sequence of candles for one
// symbol and timeframe, oldest first.
type MarketSnapshot struct {
	symbol    string
	timeframe string
	source    DataSource
	candles   []Candle
}

// NewMarketSnapshot copies candles into a validated snapshot.
func NewMarketSnapshot(symbol, timeframe string, source DataSource, candles []Candle) (*MarketSnapshot, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if strings.TrimSpace(timeframe) == "" {
		return nil, fmt.Errorf("timeframe is required")
	}

	cp := make([]Candle, len(candles))
	copy(cp, candles)

	s := &MarketSnapshot{
		symbol:    symbol,
		timeframe: timeframe,
		source:    source,
		candles:   cp,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that timestamps are strictly increasing.
func (s *MarketSnapshot) Validate() error {
	for i := 1; i < len(s.candles); i++ {
		prev, cur := s.candles[i-1].Timestamp, s.candles[i].Timestamp
		if cur.Equal(prev) {
			return fmt.Errorf("duplicate timestamp %s at index %d", cur.Format(time.RFC3339), i)
		}
		if cur.Before(prev) {
			return fmt.Errorf("timestamps out of order at index %d: %s before %s",
				i, cur.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
	}
	return nil
}

// Symbol returns the trading pair, e.g. BTC/USDT.
func (s *MarketSnapshot) Symbol() string { return s.symbol }

// Timeframe returns the candle period, e.g. 4h.
func (s *MarketSnapshot) Timeframe() string { return s.timeframe }

// Source returns the data source the snapshot was loaded from.
func (s *MarketSnapshot) Source() DataSource { return s.source }

// Len returns the number of periods.
func (s *MarketSnapshot) Len() int { return len(s.candles) }

// Candles returns a copy of all candles.
func (s *MarketSnapshot) Candles() []Candle {
	cp := make([]Candle, len(s.candles))
	copy(cp, s.candles)
	return cp
}

// Tail returns a copy of the last n candles (all of them if n exceeds Len).
func (s *MarketSnapshot) Tail(n int) []Candle {
	if n <= 0 {
		return nil
	}
	if n > len(s.candles) {
		n = len(s.candles)
	}
	cp := make([]Candle, n)
	copy(cp, s.candles[len(s.candles)-n:])
	return cp
}

// Latest returns the most recent candle.
func (s *MarketSnapshot) Latest() (Candle, bool) {
	if len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// Summary describes the snapshot for logs and persisted records.
func (s *MarketSnapshot) Summary() DataSummary {
	sum := DataSummary{Candles: len(s.candles)}
	if len(s.candles) == 0 {
		return sum
	}
	first, last := s.candles[0], s.candles[len(s.candles)-1]
	sum.Start = first.Timestamp
	sum.End = last.Timestamp
	sum.LatestClose = last.Close
	sum.LatestVolume = last.Volume
	if first.Close != 0 {
		sum.PriceChangePct = (last.Close - first.Close) / first.Close * 100
	}
	return sum
}

// DataSummary holds quick statistics about a snapshot.
type DataSummary struct {
	Candles        int       `json:"candles"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	LatestClose    float64   `json:"latest_close"`
	LatestVolume   float64   `json:"latest_volume"`
	PriceChangePct float64   `json:"price_change_pct"`
}

// NormalizeSymbol turns BTC/USDT or BTC-USDT into BTC_USDT for file names.
func NormalizeSymbol(symbol string) string {
	r := strings.NewReplacer("/", "_", "-", "_", ":", "_")
	return r.Replace(strings.TrimSpace(symbol))
}
