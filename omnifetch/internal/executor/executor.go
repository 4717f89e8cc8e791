// Package executor runs a selector set against a URL: fetch through the
// shared browser, then apply the selectors. It serves direct extraction
// requests and the replay of stored blueprints.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/omnifetch/omnifetch/internal/browser"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/distill"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/store"
)

// ErrBlueprintNotFound is returned by RunBlueprint for an unknown id.
var ErrBlueprintNotFound = errors.New("executor: blueprint not found")

// Fetcher renders a URL to HTML. *browser.Manager implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, wait browser.WaitPolicy, timeout time.Duration) (string, error)
}

// Resolver looks up blueprints. *store.Store implements it; a nil
// blueprint with a nil error means not found.
type Resolver interface {
	Get(ctx context.Context, id string) (*store.Blueprint, error)
}

// Options tune one run. Zero values use the fetcher defaults.
type Options struct {
	Wait    browser.WaitPolicy
	Timeout time.Duration
}

// Replay is the outcome of RunBlueprint.
type Replay struct {
	Blueprint *store.Blueprint
	Data      distill.Result
}

// Executor composes a Fetcher, the distiller and a Resolver.
type Executor struct {
	fetcher  Fetcher
	resolver Resolver
	log      *slog.Logger
}

// New creates an Executor. resolver may be nil when only RunDirect is used.
func New(fetcher Fetcher, resolver Resolver, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{fetcher: fetcher, resolver: resolver, log: log}
}

// RunDirect fetches url and applies selectors. Selector misses are data
// (distill.NotFound), never errors. Fetch failures are returned as is
// (*browser.NavigationError, *browser.StartError, ...).
func (e *Executor) RunDirect(ctx context.Context, url string, selectors distill.SelectorMap, opts Options) (distill.Result, error) {
	html, err := e.fetcher.Fetch(ctx, url, opts.Wait, opts.Timeout)
	if err != nil {
		return nil, err
	}
	res, err := distill.ApplySelectors(html, selectors, e.log.With("url", url))
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	if missing := res.Missing(); len(missing) > 0 {
		e.log.Debug("executor: partial extraction", "url", url, "missing", missing, "fields", len(res))
	}
	return res, nil
}

// RunBlueprint resolves id and replays it against the blueprint's source
// URL. An unknown id fails with ErrBlueprintNotFound before any fetch.
func (e *Executor) RunBlueprint(ctx context.Context, id string, opts Options) (*Replay, error) {
	if e.resolver == nil {
		return nil, fmt.Errorf("executor: no blueprint resolver configured")
	}
	bp, err := e.resolver.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("executor: resolve %s: %w", id, err)
	}
	if bp == nil {
		return nil, fmt.Errorf("%w: %s", ErrBlueprintNotFound, id)
	}
	data, err := e.RunDirect(ctx, bp.SourceURL, bp.Selectors, opts)
	if err != nil {
		return &Replay{Blueprint: bp}, err
	}
	return &Replay{Blueprint: bp, Data: data}, nil
}
