package agents

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chart-analyst/internal/config"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/inference"
	"chart-analyst/internal/models"
)

// fakeClient records requests and replies with a fixed text.
type fakeClient struct {
	reply    string
	err      error
	requests []inference.Request
}

func (f *fakeClient) Provider() string { return "fake" }

func (f *fakeClient) Chat(ctx context.Context, req inference.Request) (*inference.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &inference.Response{Model: req.Model, Content: f.reply}, nil
}

func (f *fakeClient) ListModels(ctx context.Context) ([]inference.ModelInfo, error) { return nil, nil }

func snapshot(t *testing.T, n int) *models.MarketSnapshot {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, n)
	for i := range candles {
		c := 40000 + float64(i)*10
		candles[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c - 5,
			High:      c + 20,
			Low:       c - 20,
			Close:     c,
			Volume:    100 + float64(i),
		}
	}
	snap, err := models.NewMarketSnapshot("BTC/USDT", "4h", models.SourceCSV, candles)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func quantConfig() QuantConfig {
	return QuantConfig{
		Model:         config.ModelConfig{Name: "qwen3-coder:30b", Temperature: 0.3, TopP: 0.9, MaxTokens: 2000},
		MinPeriods:    100,
		Periods:       200,
		PromptPeriods: 50,
	}
}

func writeChart(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("\x89PNG\r\n\x1a\nchart"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestQuantAgentInsufficientDataSkipsInference(t *testing.T) {
	client := &fakeClient{reply: "bullish"}
	agent := NewQuantAgent(client, quantConfig(), zerolog.Nop())

	for _, n := range []int{1, 50, 99} {
		_, err := agent.Analyze(context.Background(), snapshot(t, n))

		var ide *apperrors.InsufficientDataError
		if !errors.As(err, &ide) {
			t.Fatalf("n=%d: expected InsufficientDataError, got %v", n, err)
		}
		if ide.Got != n || ide.Required != 100 {
			t.Errorf("n=%d: error = %+v", n, ide)
		}
	}

	if len(client.requests) != 0 {
		t.Errorf("inference called %d times, want 0", len(client.requests))
	}
}

func TestQuantAgentAnalyze(t *testing.T) {
	client := &fakeClient{reply: "  Bullish momentum, RSI oversold.  "}
	agent := NewQuantAgent(client, quantConfig(), zerolog.Nop())

	result, err := agent.Analyze(context.Background(), snapshot(t, 250))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if result.PeriodsAnalyzed != 200 {
		t.Errorf("PeriodsAnalyzed = %d, want 200", result.PeriodsAnalyzed)
	}
	if result.LatestPrice != 40000+249*10 {
		t.Errorf("LatestPrice = %v", result.LatestPrice)
	}
	if result.Analysis != "Bullish momentum, RSI oversold." {
		t.Errorf("Analysis = %q", result.Analysis)
	}
	if _, ok := result.Indicators["rsi_14"]; !ok {
		t.Error("expected rsi_14 in indicator digest")
	}
	if result.Symbol != "BTC/USDT" || result.Timeframe != "4h" {
		t.Errorf("tags = %s %s", result.Symbol, result.Timeframe)
	}

	req := client.requests[0]
	if req.Model != "qwen3-coder:30b" || req.Options.Temperature != 0.3 {
		t.Errorf("request = %+v", req)
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(prompt, "last 50 of 200 periods") {
		t.Errorf("prompt should describe the window, got:\n%s", prompt)
	}
}

func TestQuantAgentWrapsInferenceFailures(t *testing.T) {
	client := &fakeClient{err: context.DeadlineExceeded}
	agent := NewQuantAgent(client, quantConfig(), zerolog.Nop())

	_, err := agent.Analyze(context.Background(), snapshot(t, 120))
	if !errors.Is(err, apperrors.ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause should be preserved")
	}

	client = &fakeClient{reply: "   "}
	_, err = NewQuantAgent(client, quantConfig(), zerolog.Nop()).Analyze(context.Background(), snapshot(t, 120))
	if apperrors.Kind(err) != "InferenceError" {
		t.Errorf("empty reply: Kind = %s", apperrors.Kind(err))
	}
}

func TestVisualAgentAnalyze(t *testing.T) {
	chart := writeChart(t, "BTC_USDT_4h.png")
	client := &fakeClient{reply: "Bearish breakdown below support. Direction: SHORT"}
	agent := NewVisualAgent(client, VisualConfig{Model: config.ModelConfig{Name: "qwen3-vl:8b"}, StrictChartNames: true}, zerolog.Nop())

	quant := &models.QuantResult{Symbol: "BTC/USDT", Timeframe: "4h", Analysis: "RSI oversold at 28"}
	result, err := agent.Analyze(context.Background(), VisualRequest{
		Symbol: "BTC/USDT", Timeframe: "4h", ChartPath: chart, Quant: quant,
	})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if !result.HasQuantContext || result.ChartPath != chart {
		t.Errorf("result = %+v", result)
	}

	msg := client.requests[0].Messages[len(client.requests[0].Messages)-1]
	if len(msg.Images) != 1 {
		t.Fatalf("expected image on the last user message, got %d", len(msg.Images))
	}
	if !strings.Contains(msg.Content, "RSI oversold at 28") {
		t.Error("prompt should carry the quantitative context")
	}
}

func TestVisualAgentErrors(t *testing.T) {
	client := &fakeClient{reply: "ok"}
	agent := NewVisualAgent(client, VisualConfig{Model: config.ModelConfig{Name: "v"}, StrictChartNames: true}, zerolog.Nop())
	ctx := context.Background()

	_, err := agent.Analyze(ctx, VisualRequest{Symbol: "BTC/USDT", Timeframe: "4h", ChartPath: filepath.Join(t.TempDir(), "missing.png")})
	if !errors.Is(err, apperrors.ErrChartNotFound) {
		t.Errorf("missing chart: got %v", err)
	}

	_, err = agent.Analyze(ctx, VisualRequest{Symbol: "BTC/USDT", Timeframe: "4h", ChartPath: t.TempDir()})
	if !errors.Is(err, apperrors.ErrChartNotFound) {
		t.Errorf("directory: got %v", err)
	}

	wrongName := writeChart(t, "ETH_USDT_1h.png")
	_, err = agent.Analyze(ctx, VisualRequest{Symbol: "BTC/USDT", Timeframe: "4h", ChartPath: wrongName})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("wrong name: got %v", err)
	}

	chart := writeChart(t, "BTC_USDT_4h.png")
	_, err = agent.Analyze(ctx, VisualRequest{
		Symbol: "BTC/USDT", Timeframe: "4h", ChartPath: chart,
		Quant: &models.QuantResult{Symbol: "BTC/USDT", Timeframe: "1d"},
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("mismatched quant: got %v", err)
	}

	if len(client.requests) != 0 {
		t.Errorf("inference called %d times, want 0", len(client.requests))
	}
}

func TestDiscoverChart(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ETH_USDT_4H.png", "SOL_USDT.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		symbol string
		want   string
		ok     bool
	}{
		{"ETH/USDT", "ETH_USDT_4H.png", true},
		{"SOL-USDT", "SOL_USDT.png", true},
		{"BTC/USDT", "", false},
	}

	for _, tt := range tests {
		got, err := DiscoverChart(dir, tt.symbol, "4h")
		if tt.ok {
			if err != nil || filepath.Base(got) != tt.want {
				t.Errorf("%s: got %q, %v", tt.symbol, got, err)
			}
			continue
		}
		if !errors.Is(err, apperrors.ErrChartNotFound) {
			t.Errorf("%s: expected ErrChartNotFound, got %v", tt.symbol, err)
		}
	}
}

func TestValidateChartNameIgnoresCase(t *testing.T) {
	if err := ValidateChartName("/charts/btc_usdt_4H.PNG", "BTC/USDT", "4h"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
