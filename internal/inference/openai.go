package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	apperrors "chart-analyst/internal/errors"
	"chart-analyst/internal/logging"
)

// OpenAIClient implements Client using an OpenAI-compatible API.
type OpenAIClient struct {
	client *openai.Client
	logger zerolog.Logger
}

// NewOpenAIClient creates a new OpenAI client. An empty baseURL uses api.openai.com.
func NewOpenAIClient(apiKey, baseURL string, logger zerolog.Logger) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With().Str("component", "openai").Logger(),
	}
}

func (c *OpenAIClient) Provider() string {
	return "openai"
}

// Chat sends a chat completion. Images become data-URI image parts.
func (c *OpenAIClient) Chat(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		if len(m.Images) == 0 {
			msg.Content = m.Content
		} else {
			msg.MultiContent = []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: m.Content},
			}
			for _, img := range m.Images {
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURI(img),
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		}
		messages = append(messages, msg)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Options.Temperature),
		TopP:        float32(req.Options.TopP),
		MaxTokens:   req.Options.MaxTokens,
	})
	logging.LogAPICall(c.logger, http.MethodPost, "/chat/completions", time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewInferenceError(c.Provider(), req.Model, "chat", statusCode(err), err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.NewInferenceError(c.Provider(), req.Model, "chat", 0, fmt.Errorf("no response from openai"))
	}

	return &Response{
		Model:            resp.Model,
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Duration:         time.Since(start),
	}, nil
}

// ListModels lists models visible to the API key.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, apperrors.NewInferenceError(c.Provider(), "", "list models", statusCode(err), err)
	}

	models := make([]ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, ModelInfo{Name: m.ID, ModifiedAt: time.Unix(m.CreatedAt, 0).UTC()})
	}
	return models, nil
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func dataURI(img []byte) string {
	return "data:" + http.DetectContentType(img) + ";base64," + base64.StdEncoding.EncodeToString(img)
}
