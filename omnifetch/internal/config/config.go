// Package config loads the OmniFetch configuration: built-in defaults, then
// an optional YAML file, then OMNIFETCH_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// OMNIFETCH_INFERENCE_BACKEND=cloud.
const EnvPrefix = "OMNIFETCH"

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Browser   BrowserConfig   `yaml:"browser" envconfig:"BROWSER"`
	Inference InferenceConfig `yaml:"inference" envconfig:"INFERENCE"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" split_words:"true"`
	// PublicURL is the base of replay addresses ({public_url}/run/{id}).
	// Empty derives it from Addr.
	PublicURL       string        `yaml:"public_url" split_words:"true"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" split_words:"true"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" split_words:"true"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" split_words:"true"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
}

// BrowserConfig controls the shared browser.
type BrowserConfig struct {
	RemoteURL         string        `yaml:"remote_url" split_words:"true"`
	Bin               string        `yaml:"bin" split_words:"true"`
	Headless          bool          `yaml:"headless" split_words:"true"`
	Stealth           bool          `yaml:"stealth" split_words:"true"`
	UserAgent         string        `yaml:"user_agent" split_words:"true"`
	BlockResources    []string      `yaml:"block_resources" split_words:"true"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" split_words:"true"`
	WaitPolicy        string        `yaml:"wait_policy" split_words:"true"`
}

// InferenceConfig selects the selector inference backend.
type InferenceConfig struct {
	Backend     string        `yaml:"backend" split_words:"true"` // local | cloud
	BaseURL     string        `yaml:"base_url" split_words:"true"`
	Model       string        `yaml:"model" split_words:"true"`
	APIKey      string        `yaml:"api_key" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout" split_words:"true"`
	Temperature float64       `yaml:"temperature" split_words:"true"`
}

// StoreConfig locates the blueprint database.
type StoreConfig struct {
	Path string `yaml:"path" split_words:"true"`
	// Trace opens the database through the tracing driver: every
	// statement is logged and timed.
	Trace bool `yaml:"trace" split_words:"true"`
}

// SecurityConfig guards fetch targets.
type SecurityConfig struct {
	AllowPrivateTargets bool `yaml:"allow_private_targets" split_words:"true"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" split_words:"true"`  // debug | info | warn | error
	Format string `yaml:"format" split_words:"true"` // json | text
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimitRPS:    5,
			RateLimitBurst:  10,
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 10 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:          true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			BlockResources:    []string{"image", "media", "font"},
			NavigationTimeout: 30 * time.Second,
			WaitPolicy:        "domcontentloaded",
		},
		Inference: InferenceConfig{
			Backend: "local",
			Timeout: 120 * time.Second,
		},
		Store: StoreConfig{Path: "data/omnifetch.db", Trace: true},
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty, in which case only the
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults restores defaults that a file or the environment blanked.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = def.Server.RateLimitBurst
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = def.Server.MaxBodyBytes
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Server.PublicURL == "" {
		c.Server.PublicURL = publicURLFromAddr(c.Server.Addr)
	}
	c.Server.PublicURL = strings.TrimRight(c.Server.PublicURL, "/")
	if c.Browser.UserAgent == "" {
		c.Browser.UserAgent = def.Browser.UserAgent
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = def.Browser.NavigationTimeout
	}
	if c.Browser.WaitPolicy == "" {
		c.Browser.WaitPolicy = def.Browser.WaitPolicy
	}
	if c.Inference.Backend == "" {
		c.Inference.Backend = def.Inference.Backend
	}
	c.Inference.Backend = strings.ToLower(c.Inference.Backend)
	if c.Inference.Timeout <= 0 {
		c.Inference.Timeout = def.Inference.Timeout
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Inference.Backend {
	case "local":
	case "cloud":
		if c.Inference.APIKey == "" {
			return fmt.Errorf("config: inference.api_key is required for the cloud backend")
		}
	default:
		return fmt.Errorf("config: inference.backend must be local or cloud, got %q", c.Inference.Backend)
	}
	switch strings.ToLower(c.Browser.WaitPolicy) {
	case "domcontentloaded", "networkidle":
	default:
		return fmt.Errorf("config: browser.wait_policy must be domcontentloaded or networkidle, got %q", c.Browser.WaitPolicy)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("config: server.rate_limit_rps must be >= 0")
	}
	return nil
}

// SetAddr changes the listen address. A public URL that was derived from
// the previous address follows the new one; an explicit one is kept.
func (c *Config) SetAddr(addr string) {
	if c.Server.PublicURL == "" || c.Server.PublicURL == publicURLFromAddr(c.Server.Addr) {
		c.Server.PublicURL = publicURLFromAddr(addr)
	}
	c.Server.Addr = addr
}

func publicURLFromAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
