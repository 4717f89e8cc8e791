package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodDriver drives Chrome/Chromium over CDP with go-rod.
type RodDriver struct {
	Logger *slog.Logger
}

// Launch starts a local Chrome (or connects to opts.RemoteURL) and returns
// the connected engine.
func (d RodDriver) Launch(ctx context.Context, opts LaunchOptions) (Engine, error) {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	var (
		wsURL string
		lnch  *launcher.Launcher
	)
	if opts.RemoteURL != "" {
		wsURL = opts.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		lnch = launcher.New().
			Context(ctx).
			Headless(opts.Headless).
			NoSandbox(true).
			Set("no-proxy-server").
			Set("disable-blink-features", "AutomationControlled")
		if opts.Bin != "" {
			lnch = lnch.Bin(opts.Bin)
		}
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch: %w", err)
		}
		wsURL = u
		log.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if lnch != nil {
			lnch.Kill()
		}
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &rodEngine{browser: b, lnch: lnch, log: log}, nil
}

type rodEngine struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	log     *slog.Logger
}

// NewContext opens an incognito browser context. The context is created
// without the request ctx so that Close still works after a timeout.
func (e *rodEngine) NewContext(ctx context.Context, opts ContextOptions) (BrowsingContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inc, err := e.browser.Incognito()
	if err != nil {
		return nil, err
	}
	return &rodContext{browser: inc, opts: opts, log: e.log}, nil
}

func (e *rodEngine) Close() error {
	err := e.browser.Close()
	if e.lnch != nil {
		e.lnch.Cleanup()
	}
	return err
}

type rodContext struct {
	browser *rod.Browser
	opts    ContextOptions
	log     *slog.Logger
}

func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		p   *rod.Page
		err error
	)
	if c.opts.Stealth {
		p, err = stealth.Page(c.browser)
	} else {
		p, err = c.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, err
	}
	if c.opts.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: c.opts.UserAgent}); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("user agent: %w", err)
		}
	}
	return &rodPage{page: p, log: c.log}, nil
}

// Close disposes the incognito context along with any page left in it.
func (c *rodContext) Close() error {
	return c.browser.Close()
}

type rodPage struct {
	page   *rod.Page
	router *rod.HijackRouter
	log    *slog.Logger
}

func (p *rodPage) BlockResources(types []ResourceType) error {
	router, err := blockResources(p.page, types)
	if err != nil {
		return err
	}
	p.router = router
	return nil
}

func (p *rodPage) Navigate(ctx context.Context, url string, wait WaitPolicy) error {
	event := proto.PageLifecycleEventNameDOMContentLoaded
	if wait == WaitNetworkIdle {
		event = proto.PageLifecycleEventNameNetworkIdle
	}
	page := p.page.Context(ctx)
	waitFn := page.WaitNavigation(event)
	if err := page.Navigate(url); err != nil {
		return err
	}
	waitFn()
	// WaitNavigation swallows cancellation; surface it here.
	return ctx.Err()
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) Close() error {
	if p.router != nil {
		if err := p.router.Stop(); err != nil {
			p.log.Debug("browser: stop hijack router", "error", err)
		}
	}
	return p.page.Close()
}

// blockResources intercepts every request on page and fails those whose
// resource type is in types. Everything else continues untouched.
func blockResources(page *rod.Page, types []ResourceType) (*rod.HijackRouter, error) {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(string(t))] = true
	}

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if shouldBlock(blockSet, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, fmt.Errorf("hijack: %w", err)
	}
	go router.Run()
	return router, nil
}

// shouldBlock accepts both the CDP names ("Image") and plural config names
// ("images").
func shouldBlock(blockSet map[string]bool, resType string) bool {
	lower := strings.ToLower(resType)
	if blockSet[lower] {
		return true
	}
	return blockSet[lower+"s"]
}
