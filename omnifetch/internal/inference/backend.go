// Package inference turns a page skeleton and a natural-language prompt into
// a validated field→selector map, using a backend chosen once at startup:
// a local Ollama service or an OpenAI-compatible cloud API.
package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Message is one chat turn sent to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Backend is a selector inference backend.
type Backend interface {
	// Name identifies the backend in logs, metrics and health output.
	Name() string
	// Prepare makes the backend ready to serve Chat. Implementations must
	// be idempotent and safe for concurrent use.
	Prepare(ctx context.Context) error
	// Chat submits messages and returns the raw generated text.
	Chat(ctx context.Context, msgs []Message) (string, error)
}

// Progress is one event of a model download.
type Progress struct {
	Model     string `json:"model"`
	Status    string `json:"status"`
	Completed int64  `json:"completed,omitempty"`
	Total     int64  `json:"total,omitempty"`
}

// ProgressFunc receives model download events. It must not block.
type ProgressFunc func(Progress)

// Backend policies.
const (
	PolicyLocal = "local"
	PolicyCloud = "cloud"
)

// BackendConfig selects and configures a Backend.
type BackendConfig struct {
	Policy      string // "local" or "cloud"
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	OnProgress  ProgressFunc
	Logger      *slog.Logger
}

// NewBackend builds the backend named by cfg.Policy.
func NewBackend(cfg BackendConfig) (Backend, error) {
	switch strings.ToLower(cfg.Policy) {
	case "", PolicyLocal:
		return NewOllama(OllamaConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			OnProgress:  cfg.OnProgress,
			Logger:      cfg.Logger,
		}), nil
	case PolicyCloud:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("inference: cloud backend requires an API key")
		}
		return NewOpenAI(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			APIKey:      cfg.APIKey,
			Temperature: cfg.Temperature,
		}), nil
	}
	return nil, fmt.Errorf("inference: unknown backend policy %q", cfg.Policy)
}
