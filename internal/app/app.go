// Package app assembles the application: configuration, logging, metrics,
// the visited store, the analyst, and the scan pipeline behind one container
// with a clean shutdown path.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ourcityhealth/citypulse/internal/analyst"
	"github.com/ourcityhealth/citypulse/internal/clock"
	"github.com/ourcityhealth/citypulse/internal/config"
	"github.com/ourcityhealth/citypulse/internal/discover"
	"github.com/ourcityhealth/citypulse/internal/extract"
	"github.com/ourcityhealth/citypulse/internal/fetch"
	"github.com/ourcityhealth/citypulse/internal/geo"
	"github.com/ourcityhealth/citypulse/internal/logging"
	"github.com/ourcityhealth/citypulse/internal/metrics"
	"github.com/ourcityhealth/citypulse/internal/pipeline"
	"github.com/ourcityhealth/citypulse/internal/reddit"
	"github.com/ourcityhealth/citypulse/internal/scan"
	"github.com/ourcityhealth/citypulse/internal/scoring"
	"github.com/ourcityhealth/citypulse/internal/store/memory"
	"github.com/ourcityhealth/citypulse/internal/store/postgres"
	"github.com/ourcityhealth/citypulse/internal/tagger"
)

// App is the dependency container built once per process.
type App struct {
	Cfg     *config.Config
	Logger  *zap.Logger
	Scanner *scan.Scanner

	store      pipeline.VisitedStore
	pgStore    *postgres.Store
	gemini     *analyst.Client
	metricsSrv *http.Server
}

// New loads configuration from cfgPath (empty means search defaults) and
// builds every component.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	a := &App{Cfg: cfg, Logger: logger}

	if cfg.Database.DSN != "" {
		pg, err := postgres.New(ctx, cfg.Database.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("visited store: %w", err)
		}
		a.pgStore = pg
		a.store = pg
		logger.Info("visited store ready", zap.String("backend", "postgres"))
	} else {
		a.store = memory.New()
		logger.Warn("no database configured, visited state will not survive this run")
	}

	var an pipeline.Analyst = analyst.Disabled{}
	var recognizer tagger.Recognizer
	if cfg.Gemini.APIKey != "" {
		client, err := analyst.New(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("analyst: %w", err)
		}
		a.gemini = client
		an = client
		recognizer = client
	} else {
		logger.Warn("no model API key configured, cities will score neutral")
	}

	fetcher := fetch.New(fetch.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		Referer:        cfg.Fetch.Referer,
		Timeout:        cfg.Fetch.Timeout,
		MaxRetries:     cfg.Fetch.MaxRetries,
		BackoffBase:    cfg.Fetch.BackoffBase,
		BackoffCap:     cfg.Fetch.BackoffCap,
		JitterMax:      cfg.Fetch.JitterMax,
		PerDomainRPS:   cfg.Fetch.PerDomainRPS,
		PerDomainBurst: cfg.Fetch.PerDomainBurst,
	}, logger)

	a.Scanner = scan.New(cfg, scan.Deps{
		Fetcher:    fetcher,
		Discoverer: discover.New(fetcher, logger),
		Extractor:  extract.New(),
		Reddit:     reddit.New(fetcher, logger),
		Tagger:     tagger.New(cfg.Cities, recognizer, logger),
		Scorer:     scoring.NewScorer(clock.System{}),
		Store:      a.store,
		Analyst:    an,
		Geo:        geo.New(fetcher, logger),
		Clock:      clock.System{},
		Logger:     logger,
	})
	return a, nil
}

// ServeMetrics starts the Prometheus endpoint in the background.
func (a *App) ServeMetrics() {
	if a.Cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{
		Addr:              a.Cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info("metrics listening", zap.String("addr", a.Cfg.MetricsAddr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

// Close releases every component. Safe to call once at process exit.
func (a *App) Close(ctx context.Context) {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}
	if a.gemini != nil {
		a.gemini.Close()
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	_ = a.Logger.Sync()
}
