// Package inference provides clients for the model-serving endpoints used by
// the quantitative and visual stages.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chart-analyst/internal/config"
	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/resilience"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn. Images carry raw encoded image bytes (PNG, JPEG).
type Message struct {
	Role    Role
	Content string
	Images  [][]byte
}

// Options are the sampling parameters sent with a request.
type Options struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// Request is a non-streaming chat request.
type Request struct {
	Model    string
	Messages []Message
	Options  Options
}

// Response is the model's reply.
type Response struct {
	Model            string
	Content          string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// ModelInfo describes a model available on the endpoint.
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// Client is a model-serving endpoint.
type Client interface {
	Provider() string
	Chat(ctx context.Context, req Request) (*Response, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// OptionsFromModel converts configured sampling options.
func OptionsFromModel(m config.ModelConfig) Options {
	return Options{
		Temperature: m.Temperature,
		TopP:        m.TopP,
		TopK:        m.TopK,
		MaxTokens:   m.MaxTokens,
	}
}

// NewFromConfig builds the configured client wrapped in a circuit breaker.
func NewFromConfig(cfg *config.Config, logger zerolog.Logger) (Client, error) {
	var client Client
	switch cfg.Inference.Provider {
	case "ollama":
		client = NewOllamaClient(OllamaConfig{
			BaseURL:           cfg.Inference.BaseURL,
			Timeout:           cfg.Inference.Timeout,
			RetryAttempts:     cfg.Inference.RetryAttempts,
			RetryDelay:        cfg.Inference.RetryDelay,
			RequestsPerSecond: cfg.Inference.RequestsPerSecond,
		}, logger)
	case "openai":
		if cfg.Credentials.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but no API key configured (set OPENAI_API_KEY)")
		}
		client = NewOpenAIClient(cfg.Credentials.OpenAI.APIKey, cfg.Inference.OpenAIBaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown inference provider: %s", cfg.Inference.Provider)
	}

	breaker := resilience.NewCircuitBreaker(client.Provider(), resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Inference.BreakerFailures,
		SuccessThreshold: 1,
		Cooldown:         cfg.Inference.BreakerCooldown,
		IsFailure:        EndpointFailure,
	})
	g := NewGuarded(client, breaker)
	g.timeout = cfg.Inference.Timeout
	return g, nil
}

// EndpointFailure reports whether err says the endpoint itself is unhealthy:
// no response at all or a 5xx status. Client errors, empty replies and
// malformed payloads belong to a single request and are not counted.
func EndpointFailure(err error) bool {
	var ie *apperrors.InferenceError
	if !errors.As(err, &ie) {
		return true
	}
	if ie.StatusCode == 0 {
		return true
	}
	return ie.StatusCode >= 500
}

// Guarded routes chat calls through a circuit breaker. The breaker is shared
// by every pipeline using the client: it tracks the health of the endpoint,
// so an unreachable server fails all symbols fast.
type Guarded struct {
	client  Client
	breaker *resilience.CircuitBreaker
	// timeout bounds one Chat call including client retries; zero means no
	// bound beyond the caller's context.
	timeout time.Duration
}

// NewGuarded wraps client with breaker.
func NewGuarded(client Client, breaker *resilience.CircuitBreaker) *Guarded {
	return &Guarded{client: client, breaker: breaker}
}

func (g *Guarded) Provider() string {
	return g.client.Provider()
}

func (g *Guarded) Chat(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		var err error
		resp, err = g.client.Chat(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (g *Guarded) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return g.client.ListModels(ctx)
}

// Breaker exposes the circuit breaker for status output.
func (g *Guarded) Breaker() *resilience.CircuitBreaker {
	return g.breaker
}
