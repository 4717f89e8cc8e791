package omnifetch

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/hazyhaar/omnifetch/dbopen"
	"github.com/hazyhaar/omnifetch/observability"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/browser"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/config"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/inference"
	"github.com/hazyhaar/omnifetch/omnifetch/internal/store"
	"github.com/hazyhaar/omnifetch/trace"
)

// LoadConfig reads defaults, then the YAML file at path (optional), then
// OMNIFETCH_* environment overrides.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

// App is a Service wired from configuration together with the resources it
// owns. The sqlite driver must be registered by the caller.
type App struct {
	*Service
	Config *config.Config
	Logger *slog.Logger

	db *sql.DB
}

// Open wires the browser manager, the inference backend, the blueprint
// store and the Service from cfg. Nothing is launched or downloaded yet.
func Open(cfg *config.Config) (*App, error) {
	logger, err := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	driver := "sqlite"
	if cfg.Store.Trace {
		driver = trace.DriverName
		trace.SetRecorder(func(e trace.Entry) {
			metrics.ObserveQuery(e.Op, e.Duration, e.Err)
		})
	}
	db, err := dbopen.Open(cfg.Store.Path,
		dbopen.WithDriver(driver),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema))
	if err != nil {
		return nil, fmt.Errorf("omnifetch: open store %s: %w", cfg.Store.Path, err)
	}

	backend, err := inference.NewBackend(inference.BackendConfig{
		Policy:      cfg.Inference.Backend,
		BaseURL:     cfg.Inference.BaseURL,
		Model:       cfg.Inference.Model,
		APIKey:      cfg.Inference.APIKey,
		Temperature: cfg.Inference.Temperature,
		OnProgress:  progressLogger(logger),
		Logger:      logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	engine := inference.NewEngine(backend, inference.Config{
		Timeout: cfg.Inference.Timeout,
		Logger:  logger,
	})

	wait, err := browser.ParseWaitPolicy(cfg.Browser.WaitPolicy)
	if err != nil {
		db.Close()
		return nil, err
	}
	blocked := make([]browser.ResourceType, 0, len(cfg.Browser.BlockResources))
	for _, r := range cfg.Browser.BlockResources {
		blocked = append(blocked, browser.ResourceType(strings.ToLower(r)))
	}
	mgr := browser.NewManager(browser.RodDriver{Logger: logger}, browser.Config{
		Launch: browser.LaunchOptions{
			RemoteURL: cfg.Browser.RemoteURL,
			Bin:       cfg.Browser.Bin,
			Headless:  cfg.Browser.Headless,
		},
		UserAgent:         cfg.Browser.UserAgent,
		Stealth:           cfg.Browser.Stealth,
		BlockResources:    blocked,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		Logger:            logger,
	})

	svc := New(mgr, engine, store.NewStore(db), Config{
		PublicURL:           cfg.Server.PublicURL,
		AllowPrivateTargets: cfg.Security.AllowPrivateTargets,
		DefaultWait:         wait,
		Metrics:             metrics,
		Logger:              logger,
	})
	return &App{Service: svc, Config: cfg, Logger: logger, db: db}, nil
}

// Close shuts the browser down and closes the store.
func (a *App) Close() error {
	return errors.Join(a.Service.Close(), a.db.Close())
}

// progressLogger reports model download progress at most once per 10% step
// of each status.
func progressLogger(logger *slog.Logger) inference.ProgressFunc {
	var mu sync.Mutex
	last := map[string]int64{}
	return func(p inference.Progress) {
		if p.Total <= 0 {
			logger.Info("inference: model pull", "model", p.Model, "status", p.Status)
			return
		}
		pct := p.Completed * 100 / p.Total
		key := p.Model + "/" + p.Status

		mu.Lock()
		prev, seen := last[key]
		skip := seen && pct-prev < 10 && pct < 100
		if !skip {
			last[key] = pct
		}
		mu.Unlock()

		if !skip {
			logger.Info("inference: model pull", "model", p.Model, "status", p.Status, "percent", pct)
		}
	}
}
