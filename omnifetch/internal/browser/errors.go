package browser

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by a Manager after Shutdown.
var ErrClosed = errors.New("browser: manager is closed")

// StartError means the shared browser could not be launched. No extraction
// is possible until a later launch attempt succeeds.
type StartError struct {
	Err error
}

func (e *StartError) Error() string { return fmt.Sprintf("browser: start: %v", e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// NavigationError is scoped to a single fetch: the target was unreachable,
// navigation exceeded its timeout, or the page could not be read.
type NavigationError struct {
	URL     string
	Op      string // "launch", "context", "page", "navigate", "html"
	Timeout bool
	Err     error
}

func (e *NavigationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("browser: %s %s: timed out: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("browser: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

func navError(ctx context.Context, url, op string, err error) *NavigationError {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &NavigationError{URL: url, Op: op, Timeout: timeout, Err: err}
}
