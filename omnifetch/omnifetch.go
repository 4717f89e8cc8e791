// Package omnifetch is the OmniFetch service: structured extraction from web
// pages, either with caller-supplied CSS selectors or with selectors inferred
// by a language model, and replay of inferred selector sets (blueprints).
//
// The Service composes the shared browser, the content distiller, the
// selector inference engine, the blueprint store and the extraction
// executor. Transports (HTTP in http.go, MCP in mcp.go, the CLI) call the
// Service methods and nothing else.
package omnifetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/omnifetch/idgen"
	"github.com/hazyhaar/omnifetch/observability"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/browser"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/distill"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/executor"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/inference"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/store"
	"github.com/hazyhaar/omnifetch/safeurl"
	"github.com/hazyhaar/omnifetch/shield"
)

// Browser is the subset of *browser.Manager the Service uses.
type Browser interface {
	executor.Fetcher
	Stats() browser.Stats
	Shutdown() error
}

// Config configures the Service.
type Config struct {
	// PublicURL is the base of replay addresses: {PublicURL}/run/{id}.
	PublicURL string

	// AllowPrivateTargets lets fetches reach loopback and private networks.
	AllowPrivateTargets bool

	// DefaultWait applies when a request names no wait policy.
	// Default: domcontentloaded.
	DefaultWait browser.WaitPolicy

	// MaxTimeout caps a caller-supplied timeout_ms. Default: 2m.
	MaxTimeout time.Duration

	// NewID mints blueprint ids. Default: idgen.Blueprint.
	NewID idgen.Generator

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Service is the OmniFetch facade. Safe for concurrent use.
type Service struct {
	cfg     Config
	browser Browser
	fetcher executor.Fetcher
	engine  *inference.Engine
	store   *store.Store
	exec    *executor.Executor
	preview *distill.Previewer
	metrics *observability.Metrics
	log     *slog.Logger
}

// New wires a Service. The browser is not started until the first request.
func New(b Browser, engine *inference.Engine, st *store.Store, cfg Config) *Service {
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 2 * time.Minute
	}
	if cfg.DefaultWait == "" {
		cfg.DefaultWait = browser.WaitDOMContentLoaded
	}
	if cfg.NewID == nil {
		cfg.NewID = idgen.Blueprint
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	s := &Service{
		cfg:     cfg,
		browser: b,
		engine:  engine,
		store:   st,
		preview: distill.NewPreviewer(),
		metrics: cfg.Metrics,
		log:     cfg.Logger,
	}
	s.fetcher = &meteredFetcher{next: b, metrics: cfg.Metrics}
	s.exec = executor.New(s.fetcher, st, cfg.Logger)
	cfg.Metrics.GaugeFunc("browser_open_contexts", "Browser contexts currently open",
		func() float64 { return float64(b.Stats().OpenContexts) })
	return s
}

// Metrics returns the collectors the Service records into.
func (s *Service) Metrics() *observability.Metrics { return s.metrics }

// FetchOptions are the per-request navigation knobs shared by every
// URL-taking operation.
type FetchOptions struct {
	Wait      string `json:"wait,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

// ExtractRequest is a direct selector-mode extraction.
type ExtractRequest struct {
	URL       string            `json:"url"`
	Selectors map[string]string `json:"selectors"`
	FetchOptions
}

// ExtractResponse carries one value per requested field.
type ExtractResponse struct {
	Success bool              `json:"success"`
	URL     string            `json:"url"`
	Data    map[string]string `json:"data"`
	Missing []string          `json:"missing"`
}

// Extract fetches req.URL and applies req.Selectors. Fields whose selector
// matches nothing are reported as "not found" and listed in Missing.
func (s *Service) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	target, err := s.target(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	sel := distill.SelectorMap(req.Selectors)
	if err := sel.Validate(); err != nil {
		return nil, invalid("selectors", err)
	}
	opts, err := s.options(req.FetchOptions)
	if err != nil {
		return nil, err
	}

	data, err := s.exec.RunDirect(ctx, target, sel, opts)
	if err != nil {
		return nil, err
	}
	return s.extraction(target, data), nil
}

// DetectRequest asks the model which selectors hold the data described by
// Prompt.
type DetectRequest struct {
	URL    string `json:"url"`
	Prompt string `json:"prompt"`
	FetchOptions
}

// DetectResponse carries the inferred selectors.
type DetectResponse struct {
	Success   bool              `json:"success"`
	URL       string            `json:"url"`
	Selectors map[string]string `json:"selectors"`
}

// Detect fetches the page, reduces it to a skeleton and infers selectors.
func (s *Service) Detect(ctx context.Context, req DetectRequest) (*DetectResponse, error) {
	target, sel, err := s.detect(ctx, req)
	if err != nil {
		return nil, err
	}
	return &DetectResponse{Success: true, URL: target, Selectors: sel}, nil
}

func (s *Service) detect(ctx context.Context, req DetectRequest) (string, distill.SelectorMap, error) {
	target, err := s.target(ctx, req.URL)
	if err != nil {
		return "", nil, err
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", nil, invalid("prompt", errors.New("must not be empty"))
	}
	opts, err := s.options(req.FetchOptions)
	if err != nil {
		return "", nil, err
	}

	html, err := s.fetcher.Fetch(ctx, target, opts.Wait, opts.Timeout)
	if err != nil {
		return "", nil, err
	}
	skeleton, err := distill.BuildSkeleton(html)
	if err != nil {
		return "", nil, fmt.Errorf("omnifetch: skeleton: %w", err)
	}

	start := time.Now()
	sel, err := s.engine.Infer(ctx, skeleton, prompt)
	s.metrics.ObserveInference(s.engine.Backend(), start, err)
	if err != nil {
		return "", nil, err
	}
	s.logger(ctx).Info("omnifetch: selectors detected",
		"url", target, "fields", len(sel), "skeleton_bytes", len(skeleton))
	return target, sel, nil
}

// GenerateResponse identifies the new blueprint and where to replay it.
type GenerateResponse struct {
	Success   bool              `json:"success"`
	ID        string            `json:"id"`
	Endpoint  string            `json:"endpoint"`
	URL       string            `json:"url"`
	Selectors map[string]string `json:"selectors"`
}

// Generate runs Detect and persists the result as a blueprint. The
// blueprint records the source URL; Endpoint is the derived replay address.
func (s *Service) Generate(ctx context.Context, req DetectRequest) (*GenerateResponse, error) {
	target, sel, err := s.detect(ctx, req)
	if err != nil {
		return nil, err
	}
	bp, err := s.store.Save(ctx, s.cfg.NewID(), sel, target)
	if err != nil {
		return nil, err
	}
	s.metrics.BlueprintsSaved.Inc()
	s.logger(ctx).Info("omnifetch: blueprint saved", "id", bp.ID, "url", target)
	return &GenerateResponse{
		Success:   true,
		ID:        bp.ID,
		Endpoint:  s.ReplayURL(bp.ID),
		URL:       target,
		Selectors: sel,
	}, nil
}

// ReplayURL is the address that replays blueprint id.
func (s *Service) ReplayURL(id string) string {
	return s.cfg.PublicURL + "/run/" + id
}

// RunResponse is an extraction replayed from a blueprint.
type RunResponse struct {
	ExtractResponse
	ID string `json:"id"`
}

// Run replays blueprint id against its source URL.
func (s *Service) Run(ctx context.Context, id string, fo FetchOptions) (*RunResponse, error) {
	if err := safeurl.ValidateIdentifier(id); err != nil {
		return nil, invalid("id", err)
	}
	opts, err := s.options(fo)
	if err != nil {
		return nil, err
	}
	rep, err := s.exec.RunBlueprint(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	return &RunResponse{ExtractResponse: *s.extraction(rep.Blueprint.SourceURL, rep.Data), ID: id}, nil
}

// PreviewRequest asks for a human-readable rendering of a page.
type PreviewRequest struct {
	URL string `json:"url"`
	FetchOptions
}

// PreviewResponse is the page as markdown plus its skeleton.
type PreviewResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	*distill.Preview
}

// Preview fetches the page and renders it as sanitized markdown, with the
// skeleton the model would see.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*PreviewResponse, error) {
	target, err := s.target(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	opts, err := s.options(req.FetchOptions)
	if err != nil {
		return nil, err
	}
	html, err := s.fetcher.Fetch(ctx, target, opts.Wait, opts.Timeout)
	if err != nil {
		return nil, err
	}
	p, err := s.preview.Build(html, target)
	if err != nil {
		return nil, fmt.Errorf("omnifetch: preview: %w", err)
	}
	return &PreviewResponse{Success: true, URL: target, Preview: p}, nil
}

// GetBlueprint returns one stored blueprint.
func (s *Service) GetBlueprint(ctx context.Context, id string) (*store.Blueprint, error) {
	if err := safeurl.ValidateIdentifier(id); err != nil {
		return nil, invalid("id", err)
	}
	bp, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if bp == nil {
		return nil, fmt.Errorf("%w: %s", executor.ErrBlueprintNotFound, id)
	}
	return bp, nil
}

// ListBlueprints returns up to limit blueprints, newest first.
func (s *Service) ListBlueprints(ctx context.Context, limit int) ([]*store.Blueprint, error) {
	if limit < 0 || limit > 500 {
		return nil, invalid("limit", fmt.Errorf("must be between 0 and 500"))
	}
	return s.store.List(ctx, limit)
}

// HealthResponse reports the state of the process-wide resources.
type HealthResponse struct {
	Status     string        `json:"status"`
	Browser    browser.Stats `json:"browser"`
	Backend    string        `json:"inference_backend"`
	Blueprints int           `json:"blueprints"`
}

// Health never starts the browser.
func (s *Service) Health(ctx context.Context) (*HealthResponse, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("omnifetch: health: %w", err)
	}
	return &HealthResponse{
		Status:     "ok",
		Browser:    s.browser.Stats(),
		Backend:    s.engine.Backend(),
		Blueprints: n,
	}, nil
}

// WarmUp prepares the inference backend (local: model check, pull and
// warm-up). Meant to run in the background at startup.
func (s *Service) WarmUp(ctx context.Context) error {
	start := time.Now()
	if err := s.engine.Ready(ctx); err != nil {
		s.log.Warn("omnifetch: inference backend not ready", "backend", s.engine.Backend(), "error", err)
		return err
	}
	s.log.Info("omnifetch: inference backend ready", "backend", s.engine.Backend(), "elapsed", time.Since(start))
	return nil
}

// Close shuts the shared browser down.
func (s *Service) Close() error {
	return s.browser.Shutdown()
}

func (s *Service) target(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", invalid("url", errors.New("must not be empty"))
	}
	u, err := safeurl.Validate(ctx, raw, s.cfg.AllowPrivateTargets)
	if err != nil {
		return "", invalid("url", err)
	}
	return u, nil
}

func (s *Service) options(fo FetchOptions) (executor.Options, error) {
	opts := executor.Options{Wait: s.cfg.DefaultWait}
	if fo.Wait != "" {
		w, err := browser.ParseWaitPolicy(fo.Wait)
		if err != nil {
			return opts, invalid("wait", err)
		}
		opts.Wait = w
	}
	if fo.TimeoutMS < 0 {
		return opts, invalid("timeout_ms", errors.New("must not be negative"))
	}
	if fo.TimeoutMS > 0 {
		opts.Timeout = min(time.Duration(fo.TimeoutMS)*time.Millisecond, s.cfg.MaxTimeout)
	}
	return opts, nil
}

func (s *Service) extraction(url string, data distill.Result) *ExtractResponse {
	missing := data.Missing()
	if len(missing) > 0 {
		s.metrics.SelectorMisses.Add(float64(len(missing)))
	}
	if missing == nil {
		missing = []string{}
	}
	return &ExtractResponse{Success: true, URL: url, Data: data, Missing: missing}
}

func (s *Service) logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(shield.LoggerKey).(*slog.Logger); ok {
		return l
	}
	return s.log
}

// meteredFetcher records every fetch outcome.
type meteredFetcher struct {
	next    executor.Fetcher
	metrics *observability.Metrics
}

func (f *meteredFetcher) Fetch(ctx context.Context, url string, wait browser.WaitPolicy, timeout time.Duration) (string, error) {
	start := time.Now()
	html, err := f.next.Fetch(ctx, url, wait, timeout)
	f.metrics.ObserveFetch(start, err)
	return html, err
}
