package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// OpenAI-compatible defaults.
const (
	DefaultOpenAIURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIConfig configures the cloud backend.
type OpenAIConfig struct {
	// BaseURL of an OpenAI-compatible API. Default: DefaultOpenAIURL.
	BaseURL string
	// Model. Default: DefaultOpenAIModel.
	Model       string
	APIKey      string
	Temperature float64
}

// OpenAI is the cloud backend: every call is a direct chat completion
// request, with no local model bookkeeping.
type OpenAI struct {
	cfg    OpenAIConfig
	client *resty.Client
}

// NewOpenAI creates the cloud backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey)
	return &OpenAI{cfg: cfg, client: client}
}

func (c *OpenAI) Name() string { return PolicyCloud }

// Prepare is a no-op for the cloud backend.
func (c *OpenAI) Prepare(context.Context) error { return nil }

type completionRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *OpenAI) Chat(ctx context.Context, msgs []Message) (string, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(completionRequest{
			Model:          c.cfg.Model,
			Messages:       msgs,
			Temperature:    c.cfg.Temperature,
			ResponseFormat: map[string]any{"type": "json_object"},
		}).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var out completionResponse
	decodeErr := json.Unmarshal(resp.Body(), &out)
	if resp.IsError() {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("chat completion: status %d: %s", resp.StatusCode(), out.Error.Message)
		}
		return "", fmt.Errorf("chat completion: status %d: %s", resp.StatusCode(), resp.String())
	}
	if decodeErr != nil {
		return "", fmt.Errorf("chat completion: decode: %w", decodeErr)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices in response")
	}
	return out.Choices[0].Message.Content, nil
}
