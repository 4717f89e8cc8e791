// Package browser owns the single shared headless browser and hands out one
// isolated context per fetch. The browser starts lazily on first use, the
// launch is single-flighted, and every context/page pair is released on all
// exit paths.
package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultUserAgent is presented by every browsing context.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// DefaultNavigationTimeout bounds a fetch when the caller gives none.
const DefaultNavigationTimeout = 30 * time.Second

// Config configures the Manager.
type Config struct {
	Launch LaunchOptions

	// UserAgent for every context. Default: DefaultUserAgent.
	UserAgent string

	// Stealth applies anti-detection patches to each new page.
	Stealth bool

	// BlockResources lists resource types aborted before they hit the
	// network. Default: DefaultBlockedResources.
	BlockResources []ResourceType

	// NavigationTimeout is the per-fetch bound when Fetch gets 0.
	NavigationTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.BlockResources == nil {
		c.BlockResources = DefaultBlockedResources
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages the shared browser lifecycle.
type Manager struct {
	cfg    Config
	driver Driver

	launch singleflight.Group

	mu      sync.RWMutex
	engine  Engine
	startAt time.Time
	closed  bool

	open     atomic.Int64
	launches atomic.Int64
}

// NewManager creates a Manager. Nothing is launched until the first
// EnsureStarted or Fetch.
func NewManager(driver Driver, cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, driver: driver}
}

// EnsureStarted launches the shared browser if it is not running. Concurrent
// callers during the first launch wait on the same attempt and share its
// result. The launch is detached from the caller's cancellation: a caller
// giving up does not abort a browser other callers are waiting for.
func (m *Manager) EnsureStarted(ctx context.Context) error {
	m.mu.RLock()
	engine, closed := m.engine, m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if engine != nil {
		return nil
	}

	launchCtx := context.WithoutCancel(ctx)
	ch := m.launch.DoChan("launch", func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return nil, ErrClosed
		}
		if m.engine != nil {
			return nil, nil
		}

		m.launches.Add(1)
		e, err := m.driver.Launch(launchCtx, m.cfg.Launch)
		if err != nil {
			m.cfg.Logger.Error("browser: launch failed", "error", err)
			return nil, &StartError{Err: err}
		}
		m.engine = e
		m.startAt = time.Now()
		m.cfg.Logger.Info("browser: started",
			"headless", m.cfg.Launch.Headless, "remote", m.cfg.Launch.RemoteURL != "")
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch renders url in a fresh isolated context and returns the page HTML.
// timeout <= 0 uses the configured NavigationTimeout. The context and page
// are closed before Fetch returns, whatever the outcome; the shared browser
// is never closed here.
func (m *Manager) Fetch(ctx context.Context, url string, wait WaitPolicy, timeout time.Duration) (string, error) {
	if err := m.EnsureStarted(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return "", navError(ctx, url, "launch", err)
		}
		return "", err
	}

	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()
	if engine == nil {
		return "", ErrClosed
	}

	if timeout <= 0 {
		timeout = m.cfg.NavigationTimeout
	}
	if wait == "" {
		wait = WaitDOMContentLoaded
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := m.cfg.Logger.With("url", url)

	bctx, err := engine.NewContext(navCtx, ContextOptions{
		UserAgent: m.cfg.UserAgent,
		Stealth:   m.cfg.Stealth,
	})
	if err != nil {
		return "", navError(navCtx, url, "context", err)
	}
	m.open.Add(1)
	defer func() {
		if err := bctx.Close(); err != nil {
			log.Warn("browser: close context", "error", err)
		}
		m.open.Add(-1)
	}()

	page, err := bctx.NewPage(navCtx)
	if err != nil {
		return "", navError(navCtx, url, "page", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Debug("browser: close page", "error", err)
		}
	}()

	if len(m.cfg.BlockResources) > 0 {
		if err := page.BlockResources(m.cfg.BlockResources); err != nil {
			log.Warn("browser: resource blocking failed", "error", err)
		}
	}

	start := time.Now()
	if err := page.Navigate(navCtx, url, wait); err != nil {
		return "", navError(navCtx, url, "navigate", err)
	}

	html, err := page.HTML(navCtx)
	if err != nil {
		return "", navError(navCtx, url, "html", err)
	}
	log.Debug("browser: fetched", "wait", wait, "bytes", len(html), "elapsed", time.Since(start))
	return html, nil
}

// Shutdown closes the shared browser. Safe to call when never started and
// safe to call twice. Later EnsureStarted/Fetch calls return ErrClosed.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.engine == nil {
		return nil
	}
	err := m.engine.Close()
	m.engine = nil
	m.cfg.Logger.Info("browser: shut down", "uptime", time.Since(m.startAt))
	return err
}

// Stats is a point-in-time view of the Manager.
type Stats struct {
	Started      bool          `json:"started"`
	OpenContexts int64         `json:"open_contexts"`
	Launches     int64         `json:"launches"`
	Uptime       time.Duration `json:"uptime_ns"`
}

// Stats reports whether the browser is running and how many contexts are open.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Started:      m.engine != nil,
		OpenContexts: m.open.Load(),
		Launches:     m.launches.Load(),
	}
	if s.Started {
		s.Uptime = time.Since(m.startAt)
	}
	return s
}
