package inference

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/omnifetch/omnifetch/internal/distill"
)

// DefaultTimeout bounds one inference call.
const DefaultTimeout = 120 * time.Second

// Config configures the Engine.
type Config struct {
	// Timeout per Infer call. Default: DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Engine runs selector inference against one backend, fixed at
// construction.
type Engine struct {
	backend Backend
	timeout time.Duration
	log     *slog.Logger
}

// NewEngine creates an Engine over backend.
func NewEngine(backend Backend, cfg Config) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{backend: backend, timeout: cfg.Timeout, log: cfg.Logger}
}

// Backend returns the backend name.
func (e *Engine) Backend() string { return e.backend.Name() }

// Ready runs the backend preparation. A failure is a BackendError.
func (e *Engine) Ready(ctx context.Context) error {
	if err := e.backend.Prepare(ctx); err != nil {
		return &BackendError{Backend: e.backend.Name(), Err: err}
	}
	return nil
}

// Infer asks the backend for selectors matching prompt on the page
// described by skeleton. One attempt, bounded by the configured timeout.
// Errors are *BackendError or *ParseError.
func (e *Engine) Infer(ctx context.Context, skeleton, prompt string) (distill.SelectorMap, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	raw, err := e.backend.Chat(ctx, buildMessages(skeleton, prompt))
	if err != nil {
		e.log.Warn("inference: backend call failed",
			"backend", e.backend.Name(), "elapsed", time.Since(start), "error", err)
		return nil, &BackendError{Backend: e.backend.Name(), Err: err}
	}

	sel, err := ParseSelectors(raw)
	if err != nil {
		e.log.Warn("inference: unusable output",
			"backend", e.backend.Name(), "error", err, "raw_len", len(raw))
		return nil, err
	}
	e.log.Debug("inference: selectors inferred",
		"backend", e.backend.Name(), "fields", len(sel), "elapsed", time.Since(start))
	return sel, nil
}
