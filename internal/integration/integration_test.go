// Package integration provides end-to-end tests that wire the real agents,
// inference client, data sources and stores against fake HTTP servers.
package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chart-analyst/internal/agents"
	"chart-analyst/internal/config"
	"chart-analyst/internal/divergence"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/inference"
	"chart-analyst/internal/marketdata"
	"chart-analyst/internal/models"
	"chart-analyst/internal/pipeline"
	"chart-analyst/internal/store"
)

const (
	quantReply  = "Strong bullish momentum: RSI is oversold and price is making higher lows."
	visualReply = "Clear bearish breakdown below the ascending trendline.\nDirection: SHORT\nEntry: 41950\nStop Loss: 42600\nTake Profit 1: 40800"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// exchangeServer serves /api/v3/klines from a fixed number of 4h candles
// per pair.
type exchangeServer struct {
	*httptest.Server
	available map[string]int
	hits      atomic.Int32
}

func newExchangeServer(t *testing.T, available map[string]int) *exchangeServer {
	t.Helper()
	s := &exchangeServer{available: available}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if r.URL.Path != "/api/v3/klines" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		n, ok := s.available[q.Get("symbol")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		end := n
		if et := q.Get("endTime"); et != "" {
			ms, _ := strconv.ParseInt(et, 10, 64)
			end = min(n, int(time.UnixMilli(ms).Sub(epoch)/(4*time.Hour))+1)
		}
		start := max(0, end-limit)

		klines := make([][]interface{}, 0, end-start)
		for i := start; i < end; i++ {
			c := 42000 - float64(i)*3
			open := epoch.Add(time.Duration(i) * 4 * time.Hour)
			klines = append(klines, []interface{}{
				open.UnixMilli(),
				strconv.FormatFloat(c+2, 'f', 2, 64),
				strconv.FormatFloat(c+30, 'f', 2, 64),
				strconv.FormatFloat(c-30, 'f', 2, 64),
				strconv.FormatFloat(c, 'f', 2, 64),
				strconv.FormatFloat(500+float64(i), 'f', 2, 64),
				open.Add(4*time.Hour - time.Millisecond).UnixMilli(),
			})
		}
		json.NewEncoder(w).Encode(klines)
	}))
	t.Cleanup(s.Close)
	return s
}

// modelServer answers Ollama /api/chat requests: text prompts get the
// quantitative reply, prompts carrying an image get the visual reply.
type modelServer struct {
	*httptest.Server
	chats      atomic.Int32
	failVisual bool
}

func newModelServer(t *testing.T, failVisual bool) *modelServer {
	t.Helper()
	s := &modelServer{failVisual: failVisual}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		s.chats.Add(1)

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Images []string `json:"images"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reply := quantReply
		for _, m := range req.Messages {
			if len(m.Images) > 0 {
				if s.failVisual {
					w.WriteHeader(http.StatusNotFound)
					fmt.Fprintf(w, `{"error":"model %q not found"}`, req.Model)
					return
				}
				reply = visualReply
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":   req.Model,
			"message": map[string]string{"role": "assistant", "content": reply},
			"done":    true,
		})
	}))
	t.Cleanup(s.Close)
	return s
}

type harness struct {
	cfg      *config.Config
	exchange *exchangeServer
	model    *modelServer
	backends *store.Backends
	pipeline *pipeline.Pipeline
	charts   string
}

func newHarness(t *testing.T, available map[string]int, failVisual bool) *harness {
	t.Helper()
	dir := t.TempDir()

	h := &harness{
		exchange: newExchangeServer(t, available),
		model:    newModelServer(t, failVisual),
		charts:   filepath.Join(dir, "charts"),
	}

	cfg := config.Default()
	cfg.Inference.Provider = "ollama"
	cfg.Inference.BaseURL = h.model.URL
	cfg.Inference.RetryAttempts = 1
	cfg.Inference.RequestsPerSecond = 0
	cfg.Results.JSONFolder = filepath.Join(dir, "results")
	cfg.Storage.Backends = []string{"json", "sqlite"}
	cfg.Storage.SQLitePath = filepath.Join(dir, "analyst.db")
	h.cfg = cfg

	ctx := context.Background()
	logger := zerolog.Nop()

	backends, err := store.Open(ctx, cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(backends.Close)
	h.backends = backends

	source, err := marketdata.New(marketdata.Options{
		Kind:     string(models.SourceExchange),
		Cache:    backends.SQLite,
		CacheTTL: time.Hour,
		Exchange: marketdata.ExchangeConfig{BaseURL: h.exchange.URL, RetryAttempts: 1},
	}, logger)
	if err != nil {
		t.Fatal(err)
	}

	client, err := inference.NewFromConfig(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}

	h.pipeline = pipeline.New(pipeline.Deps{
		Source:     source,
		Quant:      agents.NewQuantAgent(client, agents.QuantConfigFrom(cfg), logger),
		Visual:     agents.NewVisualAgent(client, agents.VisualConfigFrom(cfg), logger),
		Integrator: divergence.NewDefaultIntegrator(),
		Sink:       backends.Sink,
		Logger:     logger,
	}, cfg.Analysis.Periods)

	if err := os.MkdirAll(h.charts, 0755); err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) chart(t *testing.T, symbol string) string {
	t.Helper()
	path := filepath.Join(h.charts, agents.ChartName(symbol, "4h"))
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (h *harness) records(t *testing.T) []store.RecordSummary {
	t.Helper()
	rows, err := h.backends.SQLite.ListRecords(context.Background(), store.RecordFilter{})
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

// A bullish quantitative reading against a bearish chart is divergent, is
// persisted to both sinks, and the fetched candles are cached.
func TestDivergentAnalysisEndToEnd(t *testing.T) {
	h := newHarness(t, map[string]int{"BTCUSDT": 200}, false)
	ctx := context.Background()

	res, err := h.pipeline.Analyze(ctx, pipeline.Request{
		Symbol:    "BTC/USDT",
		Timeframe: "4h",
		ChartPath: h.chart(t, "BTC/USDT"),
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if res.Run.State() != pipeline.StateComplete {
		t.Errorf("state = %s", res.Run.State())
	}
	v := res.Verdict
	if v.Alignment != models.Divergent || !v.DivergenceDetected() {
		t.Errorf("alignment = %s", v.Alignment)
	}
	if v.QuantSentiment != models.Bullish || v.VisualSentiment != models.Bearish {
		t.Errorf("sentiments = %s/%s", v.QuantSentiment, v.VisualSentiment)
	}
	if v.Confidence < 1 || v.Confidence > 3 {
		t.Errorf("divergent confidence = %d, want 1-3", v.Confidence)
	}
	if v.TradeSetup.Direction != models.DirectionShort || v.TradeSetup.Entry != 41950 {
		t.Errorf("trade setup = %+v", v.TradeSetup)
	}
	if got := h.model.chats.Load(); got != 2 {
		t.Errorf("model calls = %d, want 2", got)
	}

	if res.Record.DataSummary.Candles != 200 {
		t.Errorf("periods = %d", res.Record.DataSummary.Candles)
	}
	jsonPath := filepath.Join(h.cfg.Results.JSONFolder, res.Record.Key()+".json")
	if _, err := os.Stat(jsonPath); err != nil {
		t.Errorf("json record missing: %v", err)
	}
	rows := h.records(t)
	if len(rows) != 1 || !rows[0].Divergence {
		t.Fatalf("sqlite rows = %+v", rows)
	}

	// The second run is served from the candle cache.
	hits := h.exchange.hits.Load()
	res, err = h.pipeline.Analyze(ctx, pipeline.Request{
		Symbol:    "BTC/USDT",
		Timeframe: "4h",
		ChartPath: h.chart(t, "BTC/USDT"),
		NoSave:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.exchange.hits.Load() != hits {
		t.Error("cached candles were not reused")
	}
	if res.Snapshot.Source() != models.SourceCache {
		t.Errorf("snapshot source = %s", res.Snapshot.Source())
	}
}

// Fewer candles than the minimum stop the run before any model call.
func TestInsufficientDataSkipsInference(t *testing.T) {
	h := newHarness(t, map[string]int{"ETHUSDT": 80}, false)

	res, err := h.pipeline.Analyze(context.Background(), pipeline.Request{
		Symbol:    "ETH/USDT",
		Timeframe: "4h",
		ChartPath: h.chart(t, "ETH/USDT"),
	})
	if !errors.Is(err, apperrors.ErrInsufficientData) {
		t.Fatalf("error = %v, want InsufficientDataError", err)
	}
	if apperrors.Kind(err) != "InsufficientDataError" {
		t.Errorf("kind = %s", apperrors.Kind(err))
	}
	if res.Run.State() != pipeline.StateFailed || res.Verdict != nil {
		t.Errorf("state = %s, verdict = %v", res.Run.State(), res.Verdict)
	}
	if got := h.model.chats.Load(); got != 0 {
		t.Errorf("model calls = %d, want 0", got)
	}
	if rows := h.records(t); len(rows) != 0 {
		t.Errorf("records = %d, want 0", len(rows))
	}
}

// A missing chart fails before any data is fetched or stored.
func TestMissingChartTouchesNothing(t *testing.T) {
	h := newHarness(t, map[string]int{"BTCUSDT": 200}, false)

	_, err := h.pipeline.Analyze(context.Background(), pipeline.Request{
		Symbol:    "BTC/USDT",
		Timeframe: "4h",
		ChartPath: filepath.Join(h.charts, "missing.png"),
	})
	if !errors.Is(err, apperrors.ErrChartNotFound) {
		t.Fatalf("error = %v, want ChartNotFoundError", err)
	}
	if h.exchange.hits.Load() != 0 || h.model.chats.Load() != 0 {
		t.Errorf("exchange hits = %d, model calls = %d", h.exchange.hits.Load(), h.model.chats.Load())
	}
	if rows := h.records(t); len(rows) != 0 {
		t.Errorf("records = %d, want 0", len(rows))
	}
}

// A visual model failure keeps the quantitative result but persists nothing.
func TestVisualFailureIsInferenceError(t *testing.T) {
	h := newHarness(t, map[string]int{"SOLUSDT": 200}, true)

	res, err := h.pipeline.Analyze(context.Background(), pipeline.Request{
		Symbol:    "SOL/USDT",
		Timeframe: "4h",
		ChartPath: h.chart(t, "SOL/USDT"),
	})
	if apperrors.Kind(err) != "InferenceError" {
		t.Fatalf("error = %v, want InferenceError", err)
	}
	if res.Quant == nil || res.Visual != nil || res.Record != nil {
		t.Errorf("partial result = quant %v, visual %v, record %v", res.Quant != nil, res.Visual != nil, res.Record != nil)
	}
	if rows := h.records(t); len(rows) != 0 {
		t.Errorf("records = %d, want 0", len(rows))
	}
}

// A batch isolates per-symbol failures and writes a summary next to the
// records.
func TestBatchEndToEnd(t *testing.T) {
	h := newHarness(t, map[string]int{"BTCUSDT": 200, "ETHUSDT": 200, "DOGEUSDT": 50}, false)
	h.chart(t, "BTC/USDT")
	h.chart(t, "ETH/USDT")
	h.chart(t, "DOGE/USDT")

	runner := pipeline.NewBatchRunner(h.pipeline, h.backends.JSON, nil, pipeline.BatchConfig{
		Timeframe:   "4h",
		ChartFolder: h.charts,
		Workers:     2,
		Periods:     200,
		DataSource:  models.SourceExchange,
	}, zerolog.Nop())

	res, err := runner.Run(context.Background(), []string{"BTC/USDT", "ETH/USDT", "DOGE/USDT", "ADA/USDT"})
	if err != nil {
		t.Fatal(err)
	}

	s := res.Summary
	if s.TotalSymbols != 4 || s.Successful != 2 || s.Failed != 2 {
		t.Fatalf("summary = %d total, %d ok, %d failed", s.TotalSymbols, s.Successful, s.Failed)
	}
	kinds := map[string]string{}
	for _, e := range s.Results {
		kinds[e.Symbol] = e.ErrorKind
	}
	if kinds["DOGE/USDT"] != "InsufficientDataError" || kinds["ADA/USDT"] != "ChartNotFoundError" {
		t.Errorf("error kinds = %v", kinds)
	}

	data, err := os.ReadFile(res.SummaryPath)
	if err != nil {
		t.Fatal(err)
	}
	var saved models.BatchSummary
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Successful != 2 || len(saved.Results) != 4 {
		t.Errorf("saved summary = %+v", saved)
	}
	if rows := h.records(t); len(rows) != 2 {
		t.Errorf("records = %d, want 2", len(rows))
	}
}
