package browser

import (
	"context"
	"fmt"
	"strings"
)

// WaitPolicy selects the navigation event a fetch waits for.
type WaitPolicy string

const (
	// WaitDOMContentLoaded returns as soon as the DOM is parsed. Fast.
	WaitDOMContentLoaded WaitPolicy = "domcontentloaded"
	// WaitNetworkIdle waits until the network has settled. Complete.
	WaitNetworkIdle WaitPolicy = "networkidle"
)

// ParseWaitPolicy maps user input to a WaitPolicy. Empty means
// WaitDOMContentLoaded.
func ParseWaitPolicy(s string) (WaitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "domcontentloaded", "dom":
		return WaitDOMContentLoaded, nil
	case "networkidle", "network":
		return WaitNetworkIdle, nil
	}
	return "", fmt.Errorf("browser: unknown wait policy %q", s)
}

// ResourceType is a network resource class as reported by the driver
// ("image", "media", "font", "stylesheet", "script", ...).
type ResourceType string

// DefaultBlockedResources never includes a type needed to render text.
var DefaultBlockedResources = []ResourceType{"image", "media", "font"}

// LaunchOptions is the fixed configuration of the shared browser process.
type LaunchOptions struct {
	RemoteURL string // connect to an existing browser instead of launching
	Bin       string // browser binary; empty lets the driver find one
	Headless  bool
}

// ContextOptions configures one isolated browsing context.
type ContextOptions struct {
	UserAgent string
	Stealth   bool
}

// Driver starts the automation backend.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Engine, error)
}

// Engine is one running browser process.
type Engine interface {
	NewContext(ctx context.Context, opts ContextOptions) (BrowsingContext, error)
	Close() error
}

// BrowsingContext is an isolated context (no shared cookies or storage).
type BrowsingContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one tab inside a BrowsingContext.
type Page interface {
	BlockResources(types []ResourceType) error
	Navigate(ctx context.Context, url string, wait WaitPolicy) error
	HTML(ctx context.Context) (string, error)
	Close() error
}
