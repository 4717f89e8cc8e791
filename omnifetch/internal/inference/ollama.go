package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

// Ollama defaults.
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"

	DefaultBootTimeout    = 30 * time.Minute
	DefaultRequestTimeout = 2 * time.Minute
)

// OllamaConfig configures the local backend.
type OllamaConfig struct {
	// BaseURL of the Ollama API. Default: DefaultOllamaURL.
	BaseURL string

	// Model to use. Pulled when absent. Empty picks the first available
	// model, or pulls DefaultOllamaModel when none is installed.
	Model string

	Temperature float64
	OnProgress  ProgressFunc
	Logger      *slog.Logger

	// BootTimeout bounds the whole bootstrap, pull included.
	// Default: DefaultBootTimeout.
	BootTimeout time.Duration

	// RequestTimeout bounds the model listing and the warm-up.
	// Default: DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Ollama is the local backend. Before the first chat it makes sure a model
// is installed (pulling one if needed) and warms it up; that bootstrap runs
// once, shared by concurrent callers, and is retried after a failure.
type Ollama struct {
	cfg    OllamaConfig
	client *resty.Client

	boot singleflight.Group

	mu    sync.RWMutex
	model string // resolved model; empty until bootstrap succeeds
}

// NewOllama creates the local backend. No request is made until Prepare or
// Chat.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = DefaultBootTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	return &Ollama{cfg: cfg, client: client}
}

func (o *Ollama) Name() string { return PolicyLocal }

// Model returns the resolved model, empty before a successful Prepare.
func (o *Ollama) Model() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.model
}

// Prepare resolves a usable model and warms it up.
func (o *Ollama) Prepare(ctx context.Context) error {
	if o.Model() != "" {
		return nil
	}
	detached := context.WithoutCancel(ctx)
	ch := o.boot.DoChan("bootstrap", func() (any, error) {
		if m := o.Model(); m != "" {
			return m, nil
		}
		bootCtx, cancel := context.WithTimeout(detached, o.cfg.BootTimeout)
		defer cancel()
		model, err := o.resolveModel(bootCtx)
		if err != nil {
			return nil, err
		}
		if err := o.warmUp(bootCtx, model); err != nil {
			return nil, err
		}
		o.mu.Lock()
		o.model = model
		o.mu.Unlock()
		o.cfg.Logger.Info("inference: local model ready", "model", model)
		return model, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// ListModels returns the names of the installed models.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	resp, err := o.client.R().SetContext(ctx).Get("/api/tags")
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list models: status %d: %s", resp.StatusCode(), resp.String())
	}
	var tags tagsResponse
	if err := json.Unmarshal(resp.Body(), &tags); err != nil {
		return nil, fmt.Errorf("list models: decode: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		} else if m.Model != "" {
			names = append(names, m.Model)
		}
	}
	return names, nil
}

func (o *Ollama) resolveModel(ctx context.Context) (string, error) {
	installed, err := o.ListModels(ctx)
	if err != nil {
		return "", err
	}
	want := o.cfg.Model
	if want == "" {
		if len(installed) > 0 {
			return installed[0], nil
		}
		want = DefaultOllamaModel
	} else {
		for _, m := range installed {
			if sameModel(m, want) {
				return m, nil
			}
		}
	}
	o.cfg.Logger.Info("inference: model not installed, pulling", "model", want)
	if err := o.Pull(ctx, want); err != nil {
		return "", err
	}
	return want, nil
}

// sameModel treats "name" and "name:latest" as the same model.
func sameModel(a, b string) bool {
	norm := func(s string) string {
		if !strings.Contains(s, ":") {
			return s + ":latest"
		}
		return s
	}
	return norm(a) == norm(b)
}

type pullEvent struct {
	Status    string `json:"status"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Error     string `json:"error"`
}

// Pull downloads model, streaming progress to OnProgress, and blocks until
// the download completes.
func (o *Ollama) Pull(ctx context.Context, model string) error {
	resp, err := o.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetBody(map[string]any{"model": model, "stream": true}).
		Post("/api/pull")
	if err != nil {
		return fmt.Errorf("pull %s: %w", model, err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return fmt.Errorf("pull %s: status %d", model, resp.StatusCode())
	}

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var last string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev pullEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		if ev.Error != "" {
			return fmt.Errorf("pull %s: %s", model, ev.Error)
		}
		if ev.Status != last {
			o.cfg.Logger.Debug("inference: pull", "model", model, "status", ev.Status)
			last = ev.Status
		}
		if o.cfg.OnProgress != nil {
			o.cfg.OnProgress(Progress{Model: model, Status: ev.Status, Completed: ev.Completed, Total: ev.Total})
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("pull %s: %w", model, err)
	}
	if last != "success" {
		return fmt.Errorf("pull %s: stream ended with status %q", model, last)
	}
	return nil
}

// warmUp loads the model into memory with an empty generation.
func (o *Ollama) warmUp(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"model": model, "prompt": "", "stream": false}).
		Post("/api/generate")
	if err != nil {
		return fmt.Errorf("warm up %s: %w", model, err)
	}
	if resp.IsError() {
		return fmt.Errorf("warm up %s: status %d: %s", model, resp.StatusCode(), resp.String())
	}
	return nil
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error"`
}

// Chat prepares the backend if needed and runs one non-streaming chat in
// JSON mode.
func (o *Ollama) Chat(ctx context.Context, msgs []Message) (string, error) {
	if err := o.Prepare(ctx); err != nil {
		return "", err
	}
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(ollamaChatRequest{
			Model:    o.Model(),
			Messages: msgs,
			Stream:   false,
			Format:   "json",
			Options:  map[string]any{"temperature": o.cfg.Temperature},
		}).
		Post("/api/chat")
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	var out ollamaChatResponse
	_ = json.Unmarshal(resp.Body(), &out)
	if resp.IsError() {
		if out.Error != "" {
			return "", fmt.Errorf("chat: status %d: %s", resp.StatusCode(), out.Error)
		}
		return "", fmt.Errorf("chat: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Error != "" {
		return "", errors.New(out.Error)
	}
	return out.Message.Content, nil
}
