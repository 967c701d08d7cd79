package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/logging"
)

// OllamaConfig configures the Ollama client.
type OllamaConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	RequestsPerSecond float64
}

// OllamaClient talks to an Ollama server over its REST API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	attempts   int
	retryDelay time.Duration
	logger     zerolog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(cfg OllamaConfig, logger zerolog.Logger) *OllamaClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &OllamaClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, 1),
		attempts:   cfg.RetryAttempts,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With().Str("component", "ollama").Logger(),
	}
}

func (c *OllamaClient) Provider() string {
	return "ollama"
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	TotalDuration   int64         `json:"total_duration"`
	Error           string        `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

// Chat sends a non-streaming chat request to /api/chat.
func (c *OllamaClient) Chat(ctx context.Context, req Request) (*Response, error) {
	body := ollamaChatRequest{
		Model: req.Model,
		Options: ollamaOptions{
			Temperature: req.Options.Temperature,
			TopP:        req.Options.TopP,
			TopK:        req.Options.TopK,
			NumPredict:  req.Options.MaxTokens,
		},
		Stream: false,
	}
	for _, m := range req.Messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, img := range m.Images {
			om.Images = append(om.Images, base64.StdEncoding.EncodeToString(img))
		}
		body.Messages = append(body.Messages, om)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, apperrors.NewInferenceError(c.Provider(), req.Model, "chat", 0, err)
	}

	start := time.Now()
	var out ollamaChatResponse
	status, err := c.do(ctx, http.MethodPost, "/api/chat", payload, &out)
	logging.LogAPICall(c.logger, http.MethodPost, "/api/chat", time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewInferenceError(c.Provider(), req.Model, "chat", status, err)
	}
	if out.Error != "" {
		return nil, apperrors.NewInferenceError(c.Provider(), req.Model, "chat", status, fmt.Errorf("%s", out.Error))
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return nil, apperrors.NewInferenceError(c.Provider(), req.Model, "chat", status, fmt.Errorf("empty response"))
	}

	return &Response{
		Model:            out.Model,
		Content:          out.Message.Content,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
		Duration:         time.Since(start),
	}, nil
}

// ListModels returns the models installed on the server via /api/tags.
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var out ollamaTagsResponse
	status, err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out)
	if err != nil {
		return nil, apperrors.NewInferenceError(c.Provider(), "", "list models", status, err)
	}

	models := make([]ModelInfo, 0, len(out.Models))
	for _, m := range out.Models {
		models = append(models, ModelInfo{Name: m.Name, Size: m.Size, ModifiedAt: m.ModifiedAt})
	}
	return models, nil
}

// do performs one rate-limited request with exponential backoff. Client
// errors other than 429 are not retried. It returns the last HTTP status seen.
func (c *OllamaClient) do(ctx context.Context, method, path string, payload []byte, out interface{}) (int, error) {
	var status int

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}

		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts-1)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("path", path).Dur("retry_in", wait).Msg("Inference request failed, retrying")
	})
	return status, err
}
