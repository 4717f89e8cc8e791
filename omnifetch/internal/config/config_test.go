package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "omnifetch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.PublicURL != "http://localhost:8080" {
		t.Errorf("public_url = %q", cfg.Server.PublicURL)
	}
	if !cfg.Browser.Headless {
		t.Error("headless should default to true")
	}
	if cfg.Browser.NavigationTimeout != 30*time.Second {
		t.Errorf("navigation_timeout = %v", cfg.Browser.NavigationTimeout)
	}
	if cfg.Inference.Backend != "local" || cfg.Inference.Timeout != 120*time.Second {
		t.Errorf("inference = %+v", cfg.Inference)
	}
	if len(cfg.Browser.BlockResources) != 3 {
		t.Errorf("block_resources = %v", cfg.Browser.BlockResources)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, `
server:
  addr: "127.0.0.1:9000"
  public_url: "https://fetch.example.com/"
browser:
  headless: false
  navigation_timeout: 45s
  wait_policy: networkidle
  block_resources: [image]
inference:
  backend: cloud
  api_key: sk-file
  model: gpt-4o-mini
store:
  path: /tmp/bp.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.PublicURL != "https://fetch.example.com" {
		t.Errorf("public_url = %q", cfg.Server.PublicURL)
	}
	if cfg.Browser.Headless {
		t.Error("headless: file value false lost")
	}
	if cfg.Browser.NavigationTimeout != 45*time.Second {
		t.Errorf("navigation_timeout = %v", cfg.Browser.NavigationTimeout)
	}
	if len(cfg.Browser.BlockResources) != 1 || cfg.Browser.BlockResources[0] != "image" {
		t.Errorf("block_resources = %v", cfg.Browser.BlockResources)
	}
	// Untouched sections keep defaults.
	if cfg.Server.RateLimitBurst != 10 {
		t.Errorf("rate_limit_burst = %d", cfg.Server.RateLimitBurst)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
inference:
  backend: local
  model: llama3.2
`)
	t.Setenv("OMNIFETCH_INFERENCE_MODEL", "qwen2.5:1.5b")
	t.Setenv("OMNIFETCH_BROWSER_NAVIGATION_TIMEOUT", "10s")
	t.Setenv("OMNIFETCH_SECURITY_ALLOW_PRIVATE_TARGETS", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Inference.Model != "qwen2.5:1.5b" {
		t.Errorf("model = %q", cfg.Inference.Model)
	}
	if cfg.Browser.NavigationTimeout != 10*time.Second {
		t.Errorf("navigation_timeout = %v", cfg.Browser.NavigationTimeout)
	}
	if !cfg.Security.AllowPrivateTargets {
		t.Error("allow_private_targets not applied")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "inference:\n  backend: quantum\n"},
		{"cloud without key", "inference:\n  backend: cloud\n"},
		{"bad wait policy", "browser:\n  wait_policy: load\n"},
		{"bad log level", "log:\n  level: chatty\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetAddr(t *testing.T) {
	cfg := Default()
	cfg.applyDefaults()
	cfg.SetAddr("0.0.0.0:9000")
	if cfg.Server.PublicURL != "http://0.0.0.0:9000" {
		t.Errorf("derived public_url = %q, want it to follow the address", cfg.Server.PublicURL)
	}

	cfg.Server.PublicURL = "https://omni.example.com"
	cfg.SetAddr(":7000")
	if cfg.Server.PublicURL != "https://omni.example.com" {
		t.Errorf("explicit public_url = %q, want it kept", cfg.Server.PublicURL)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "omnifetch.example.yaml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Inference.Model != "llama3.2" || cfg.Inference.BaseURL != "http://localhost:11434" {
		t.Errorf("inference = %+v", cfg.Inference)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second || cfg.Server.MaxBodyBytes != 1<<20 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !cfg.Store.Trace {
		t.Error("store.trace should be on in the example")
	}
}
