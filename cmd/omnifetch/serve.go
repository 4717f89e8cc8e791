package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/omnifetch/omnifetch"
	"github.com/hazyhaar/omnifetch/shield"
)

const version = "0.1.0"

func newServeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, /metrics and the MCP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, serve)
		},
	}
	cmd.Flags().StringVar(&flags.addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func serve(ctx context.Context, a *omnifetch.App) error {
	cfg := a.Config.Server

	// Model bootstrap (local backend: check, pull, warm-up) runs in the
	// background; requests arriving first join it through the engine.
	go func() {
		_ = a.WarmUp(ctx)
	}()

	limiter := shield.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, "/health", "/metrics")
	limiter.StartGC(ctx.Done())

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "omnifetch", Version: version}, nil)
	a.RegisterMCP(mcpSrv)

	shieldCfg := shield.Config{MaxBody: cfg.MaxBodyBytes, Logger: a.Logger}
	if cfg.RateLimitRPS > 0 {
		shieldCfg.Limiter = limiter
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.Handler(omnifetch.HTTPConfig{Shield: shieldCfg, MCPServer: mcpSrv}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("omnifetch: listening",
			"addr", cfg.Addr, "public_url", cfg.PublicURL, "inference", a.Config.Inference.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("omnifetch: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("omnifetch: http shutdown", "error", err)
	}
	return nil
}
