package errors

import (
	"context"
	"fmt"
	"testing"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"insufficient", NewInsufficientDataError("BTC/USDT", "4h", 50, 100), "InsufficientDataError"},
		{"chart", NewChartNotFoundError("charts/x.png", nil), "ChartNotFoundError"},
		{"inference", NewInferenceError("ollama", "m", "chat", 500, nil), "InferenceError"},
		{"circuit", Wrap(ErrCircuitOpen, "quant stage"), "InferenceError"},
		{"data source", NewDataSourceError("csv", "ETH/USDT", "open", nil), "DataSourceError"},
		{"validation", NewValidationError("chart", "a.png", "bad name"), "ValidationError"},
		{"wrapped", fmt.Errorf("pipeline: %w", NewChartNotFoundError("p", nil)), "ChartNotFoundError"},
		{"plain", fmt.Errorf("boom"), "Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInferenceErrorUnwrap(t *testing.T) {
	err := NewInferenceError("ollama", "qwen", "chat", 0, context.DeadlineExceeded)

	if !Is(err, ErrInference) {
		t.Error("expected InferenceError to match ErrInference")
	}
	if !Is(err, context.DeadlineExceeded) {
		t.Error("expected InferenceError to unwrap to context.DeadlineExceeded")
	}

	var ie *InferenceError
	if !As(Wrap(err, "visual stage"), &ie) {
		t.Fatal("expected As to find InferenceError")
	}
	if ie.Model != "qwen" {
		t.Errorf("Model = %q, want qwen", ie.Model)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}
