// Package shield provides the HTTP middleware that fronts the OmniFetch API:
// request tracing with a per-request logger, security headers, JSON body
// limits, per-client rate limiting and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.Config{RPS: 5, Burst: 10, MaxBody: 1 << 20}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Config sizes the default stack.
type Config struct {
	// RPS is the sustained per-client request rate. 0 disables limiting.
	RPS float64
	// Burst is the per-client burst size.
	Burst int
	// MaxBody caps request bodies in bytes. 0 disables the cap.
	MaxBody int64
	// Exempt lists path prefixes that bypass rate limiting (health, metrics).
	Exempt []string
	// Limiter, when set, is used instead of building one from RPS/Burst so
	// the caller can run its GC loop.
	Limiter *RateLimiter
	// Logger is the base for per-request loggers. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultStack returns the standard middleware stack, outermost first:
// HeadToGet → SecurityHeaders → TraceID → RateLimiter → MaxBody.
func DefaultStack(cfg Config) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		TraceIDWith(cfg.Logger),
	}
	switch {
	case cfg.Limiter != nil:
		stack = append(stack, cfg.Limiter.Middleware)
	case cfg.RPS > 0:
		stack = append(stack, NewRateLimiter(cfg.RPS, cfg.Burst, cfg.Exempt...).Middleware)
	}
	if cfg.MaxBody > 0 {
		stack = append(stack, MaxBody(cfg.MaxBody))
	}
	return stack
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
