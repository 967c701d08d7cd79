// Package agents provides the two model-backed analysis stages: the
// quantitative agent reads OHLCV data, the visual agent reads a chart image.
package agents

import (
	"context"
	"errors"
	"strings"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/inference"
)

// Stage names used in logs and errors.
const (
	StageQuantitative = "quantitative"
	StageVisual       = "visual"
)

// complete sends a system+user exchange and returns the reply text. Every
// failure comes back as an InferenceError.
func complete(ctx context.Context, client inference.Client, req inference.Request, operation string) (string, error) {
	resp, err := client.Chat(ctx, req)
	if err != nil {
		var ie *apperrors.InferenceError
		if apperrors.As(err, &ie) {
			return "", err
		}
		return "", apperrors.NewInferenceError(client.Provider(), req.Model, operation, 0, err)
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		return "", apperrors.NewInferenceError(client.Provider(), req.Model, operation, 0, errEmptyResponse)
	}
	return content, nil
}

var errEmptyResponse = errors.New("model returned an empty response")
