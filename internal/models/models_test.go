package models

import (
	"math"
	"strings"
	"testing"
	"time"
)

func candlesAt(hours ...int) []Candle {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]Candle, len(hours))
	for i, h := range hours {
		out[i] = Candle{Timestamp: base.Add(time.Duration(h) * time.Hour), Close: float64(100 + i)}
	}
	return out
}

func TestNewMarketSnapshotOrdering(t *testing.T) {
	tests := []struct {
		name    string
		candles []Candle
		wantErr string
	}{
		{"increasing", candlesAt(0, 4, 8), ""},
		{"empty", nil, ""},
		{"duplicate", candlesAt(0, 4, 4), "duplicate timestamp"},
		{"out of order", candlesAt(0, 8, 4), "out of order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMarketSnapshot("BTC/USDT", "4h", SourceCSV, tt.candles)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestMarketSnapshotIsImmutable(t *testing.T) {
	in := candlesAt(0, 4, 8)
	snap, err := NewMarketSnapshot("BTC/USDT", "4h", SourceCSV, in)
	if err != nil {
		t.Fatal(err)
	}

	in[0].Close = -1
	out := snap.Candles()
	out[1].Close = -1
	tail := snap.Tail(1)
	tail[0].Close = -1

	got := snap.Candles()
	if got[0].Close != 100 || got[1].Close != 101 || got[2].Close != 102 {
		t.Errorf("snapshot was mutated through a caller slice: %+v", got)
	}
}

func TestSummaryAndKey(t *testing.T) {
	snap, _ := NewMarketSnapshot("ETH-USDT", "1h", SourceExchange, candlesAt(0, 1, 2, 3))
	sum := snap.Summary()
	if sum.Candles != 4 || sum.LatestClose != 103 {
		t.Errorf("summary = %+v", sum)
	}
	if want := 3.0; math.Abs(sum.PriceChangePct-want) > 1e-9 {
		t.Errorf("PriceChangePct = %v, want %v", sum.PriceChangePct, want)
	}

	rec := &AnalysisRecord{Metadata: RecordMetadata{
		Symbol:    "ETH-USDT",
		Timeframe: "1h",
		Timestamp: time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC),
	}}
	if got := rec.Key(); got != "ETH_USDT_1h_20240301_123005" {
		t.Errorf("Key() = %q", got)
	}
}

func TestSentimentRelations(t *testing.T) {
	if !Bullish.Opposes(Bearish) || Bullish.Opposes(Neutral) || Unknown.Opposes(Bearish) {
		t.Error("Opposes relation is wrong")
	}
	if Neutral.IsDirectional() || Unknown.IsDirectional() || !Bearish.IsDirectional() {
		t.Error("IsDirectional is wrong")
	}
}
