package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chart-analyst/internal/config"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/models"

	"github.com/rs/zerolog"
)

func testRecord(symbol string, ts time.Time, alignment models.Alignment) *models.AnalysisRecord {
	q := &models.QuantResult{
		Symbol:          symbol,
		Timeframe:       "4h",
		Model:           "qwen3-coder:30b",
		PeriodsAnalyzed: 200,
		LatestPrice:     42000,
		Indicators:      map[string]float64{"rsi_14": 28.5},
		Analysis:        "Oversold, bullish bounce likely.",
	}
	v := &models.VisualResult{
		Symbol:          symbol,
		Timeframe:       "4h",
		Model:           "qwen3-vl:8b",
		ChartPath:       "charts/manual/BTC_USDT_4h.png",
		HasQuantContext: true,
		Analysis:        "Bearish breakdown below support.",
	}
	verdict := &models.IntegratedVerdict{
		Alignment:       alignment,
		Confidence:      2,
		QuantSentiment:  models.Bullish,
		VisualSentiment: models.Bearish,
		Risks:           []string{"Directional divergence"},
		Recommendation:  "Stand aside",
	}
	meta := models.RecordMetadata{
		RunID:      fmt.Sprintf("run-%s-%d", symbol, ts.Unix()),
		Symbol:     symbol,
		Timeframe:  "4h",
		Timestamp:  ts,
		DataSource: models.SourceExchange,
		ChartImage: v.ChartPath,
	}
	return models.NewAnalysisRecord(meta, models.DataSummary{Candles: 200}, q, v, verdict)
}

var baseTime = time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)

func TestJSONSinkSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	sink := NewJSONSink(dir)
	rec := testRecord("BTC/USDT", baseTime, models.Divergent)

	path, err := sink.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Base(path) != "BTC_USDT_4h_20240301_123005.json" {
		t.Errorf("path = %s", path)
	}

	loaded, err := sink.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Integrated.Alignment != models.Divergent || !loaded.Integrated.DivergenceDetected {
		t.Errorf("loaded verdict = %+v", loaded.Integrated)
	}
	if loaded.Quant.Indicators["rsi_14"] != 28.5 {
		t.Errorf("indicators = %v", loaded.Quant.Indicators)
	}

	_, err = sink.Save(context.Background(), rec)
	if !errors.Is(err, apperrors.ErrRecordExists) {
		t.Errorf("second Save() error = %v, want ErrRecordExists", err)
	}
}

func TestJSONSinkSummaryAndList(t *testing.T) {
	sink := NewJSONSink(t.TempDir())
	ctx := context.Background()

	if _, err := sink.Save(ctx, testRecord("ETH/USDT", baseTime, models.Aligned)); err != nil {
		t.Fatal(err)
	}
	summary := &models.BatchSummary{RunID: "b1", Timestamp: baseTime, TotalSymbols: 1, Successful: 1}
	path, err := sink.SaveSummary(ctx, summary)
	if err != nil {
		t.Fatalf("SaveSummary() error = %v", err)
	}
	if filepath.Base(path) != "batch_summary_20240301_123005.json" {
		t.Errorf("summary path = %s", path)
	}

	files, err := sink.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Errorf("List() = %v, want only the record", files)
	}
}

func TestJSONSinkConcurrentWrites(t *testing.T) {
	sink := NewJSONSink(t.TempDir())
	symbols := []string{"BTC/USDT", "ETH/USDT", "SOL/USDT", "ADA/USDT", "XRP/USDT", "DOT/USDT"}

	var wg sync.WaitGroup
	errs := make([]error, len(symbols))
	for i, sym := range symbols {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = sink.Save(context.Background(), testRecord(sym, baseTime, models.Partial))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Save(%s) error = %v", symbols[i], err)
		}
	}
	files, _ := sink.List()
	if len(files) != len(symbols) {
		t.Errorf("got %d files, want %d", len(files), len(symbols))
	}
}

func TestSQLiteStoreSaveAndList(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "analyst.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	recs := []*models.AnalysisRecord{
		testRecord("BTC/USDT", baseTime, models.Divergent),
		testRecord("BTC/USDT", baseTime.Add(4*time.Hour), models.Aligned),
		testRecord("ETH/USDT", baseTime, models.Partial),
	}
	for _, r := range recs {
		if _, err := s.Save(ctx, r); err != nil {
			t.Fatalf("Save(%s) error = %v", r.Key(), err)
		}
	}

	if _, err := s.Save(ctx, recs[0]); !errors.Is(err, apperrors.ErrRecordExists) {
		t.Errorf("duplicate Save() error = %v, want ErrRecordExists", err)
	}

	all, err := s.ListRecords(ctx, RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("ListRecords() returned %d rows, want 3", len(all))
	}
	if !all[0].Timestamp.Equal(baseTime.Add(4 * time.Hour)) {
		t.Errorf("newest first expected, got %v", all[0].Timestamp)
	}

	btc, _ := s.ListRecords(ctx, RecordFilter{Symbol: "BTC/USDT", Divergence: true})
	if len(btc) != 1 || btc[0].Alignment != models.Divergent || !btc[0].Divergence {
		t.Errorf("divergent BTC filter = %+v", btc)
	}

	limited, _ := s.ListRecords(ctx, RecordFilter{Limit: 2})
	if len(limited) != 2 {
		t.Errorf("limit 2 returned %d", len(limited))
	}

	full, err := s.GetRecord(ctx, recs[2].Key())
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if full.Metadata.Symbol != "ETH/USDT" || full.Visual.Analysis == "" {
		t.Errorf("GetRecord() = %+v", full.Metadata)
	}
}

type failingSink struct{ err error }

func (f failingSink) Name() string { return "failing" }
func (f failingSink) Save(context.Context, *models.AnalysisRecord) (string, error) {
	return "", f.err
}

func TestLoadCandlesReportsOldestFetch(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	candles := generateTestCandles(10, 40000, 100)
	first := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }
	if err := s.SaveCandles(ctx, "BTC/USDT", "4h", candles); err != nil {
		t.Fatal(err)
	}

	refreshed := first.Add(time.Hour)
	s.now = func() time.Time { return refreshed }
	if err := s.SaveCandles(ctx, "BTC/USDT", "4h", candles[7:]); err != nil {
		t.Fatal(err)
	}

	got, fetchedAt, err := s.LoadCandles(ctx, "BTC/USDT", "4h", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || !fetchedAt.Equal(refreshed) {
		t.Errorf("newest window: %d candles fetched %v, want 3 at %v", len(got), fetchedAt, refreshed)
	}

	got, fetchedAt, err = s.LoadCandles(ctx, "BTC/USDT", "4h", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 || !fetchedAt.Equal(first) {
		t.Errorf("full window: %d candles fetched %v, want 10 at %v", len(got), fetchedAt, first)
	}
}

func TestMultiSink(t *testing.T) {
	dir := t.TempDir()
	jsonSink := NewJSONSink(dir)
	rec := testRecord("BTC/USDT", baseTime, models.Aligned)

	m := NewMultiSink(zerolog.Nop(), jsonSink, failingSink{err: errors.New("down")})
	loc, err := m.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("secondary failure should not fail the save: %v", err)
	}
	if _, err := os.Stat(loc); err != nil {
		t.Errorf("primary location missing: %v", err)
	}
	if m.Name() != "json+failing" {
		t.Errorf("Name() = %s", m.Name())
	}

	primaryDown := NewMultiSink(zerolog.Nop(), failingSink{err: errors.New("down")}, jsonSink)
	if _, err := primaryDown.Save(context.Background(), testRecord("ETH/USDT", baseTime, models.Aligned)); err == nil {
		t.Error("primary failure should fail the save")
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Results.JSONFolder = filepath.Join(dir, "json")
	cfg.Storage.SQLitePath = filepath.Join(dir, "analyst.db")
	cfg.Storage.Backends = []string{"json", "sqlite"}

	b, err := Open(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer b.Close()

	if b.SQLite == nil || b.JSON == nil {
		t.Fatal("expected json and sqlite backends")
	}
	if b.Sink.Name() != "json+sqlite" {
		t.Errorf("Sink.Name() = %s", b.Sink.Name())
	}

	cfg.Storage.Backends = []string{"postgres"}
	cfg.Credentials.Postgres.DatabaseURL = ""
	if _, err := Open(context.Background(), cfg, zerolog.Nop()); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("postgres without dsn error = %v", err)
	}
}
