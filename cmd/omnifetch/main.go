// Command omnifetch extracts structured data from web pages rendered in a
// headless browser, with known CSS selectors or with selectors inferred by
// a language model, and serves the same operations over HTTP and MCP.
//
// Usage:
//
//	omnifetch serve --config omnifetch.yaml
//	omnifetch extract --url https://example.com --selector title=h1
//	omnifetch detect --url https://example.com --prompt "article title and date"
//	omnifetch generate --url https://example.com --prompt "article title and date"
//	omnifetch run api-abcd1234
//	omnifetch blueprints --limit 20
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/omnifetch/omnifetch"
)

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string

	// addr is set by serve --addr.
	addr string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          "omnifetch",
		Short:        "Structured extraction from rendered web pages",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "log format: json, text (overrides config)")

	root.AddCommand(
		newServeCmd(flags),
		newExtractCmd(flags),
		newDetectCmd(flags, false),
		newDetectCmd(flags, true),
		newRunCmd(flags),
		newBlueprintsCmd(flags),
	)
	return root
}

// withApp loads the configuration, applies the logging flags, opens the
// App for the duration of fn and closes it afterwards.
func withApp(ctx context.Context, f *rootFlags, fn func(ctx context.Context, a *omnifetch.App) error) error {
	cfg, err := omnifetch.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if f.addr != "" {
		cfg.SetAddr(f.addr)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := omnifetch.Open(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(a.Logger)
	defer func() {
		if err := a.Close(); err != nil {
			a.Logger.Warn("omnifetch: close", "error", err)
		}
	}()
	return fn(ctx, a)
}
