// Package app initializes and holds long-lived application services,
// acting as the dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/schoolwatch/harvester/internal/api"
	"github.com/schoolwatch/harvester/internal/clock/system"
	"github.com/schoolwatch/harvester/internal/config"
	"github.com/schoolwatch/harvester/internal/extractor"
	"github.com/schoolwatch/harvester/internal/fingerprint"
	"github.com/schoolwatch/harvester/internal/harvest"
	"github.com/schoolwatch/harvester/internal/logging"
	"github.com/schoolwatch/harvester/internal/parser"
	"github.com/schoolwatch/harvester/internal/push"
	"github.com/schoolwatch/harvester/internal/runner"
	"github.com/schoolwatch/harvester/internal/store"
	"github.com/schoolwatch/harvester/internal/transport"
)

// App holds the shared, long-lived services. Built once at startup and
// torn down by Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  *store.Store
	runner *runner.Runner
	server *api.Server
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Build wires every service from configuration. It fails fast: any
// collaborator that cannot be constructed aborts startup.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	zap.ReplaceGlobals(logger)

	st, err := store.New(ctx, store.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(cfg.Database.ConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("store init: %w", err)
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	// One pacer for the whole process: pacing state is shared by both
	// transports and survives across runs.
	pacer := transport.NewPacer(
		time.Duration(cfg.Fetch.MinDelayMs)*time.Millisecond,
		time.Duration(cfg.Fetch.MaxDelayMs)*time.Millisecond,
	)
	robots := transport.NewRobotsPolicy(cfg.Fetch.RespectRobots, cfg.Fetch.UserAgent, logger)

	httpFetcher, err := transport.NewHTTPFetcher(transport.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		RequestTimeout: cfg.FetchTimeout(),
		MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
	}, pacer, robots, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("http fetcher init: %w", err)
	}

	subFetcher, err := transport.NewSubprocessFetcher(transport.SubprocessConfig{
		Binary:         cfg.Subprocess.Binary,
		ExtraArgs:      cfg.Subprocess.ExtraArgs,
		UserAgent:      cfg.Fetch.UserAgent,
		RequestTimeout: time.Duration(cfg.Subprocess.TimeoutSeconds) * time.Second,
		MaxParallel:    cfg.Subprocess.MaxParallel,
	}, pacer, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("subprocess fetcher init: %w", err)
	}

	extract := extractor.New(extractor.Config{
		Endpoint: cfg.Extractor.Endpoint,
		APIKey:   cfg.Extractor.APIKey,
		Model:    cfg.Extractor.Model,
		Timeout:  time.Duration(cfg.Extractor.TimeoutSeconds) * time.Second,
	}, logger)

	notifier, err := push.NewWebhookNotifier(push.WebhookConfig{
		URL:            cfg.Push.WebhookURL,
		Timeout:        time.Duration(cfg.Push.TimeoutSeconds) * time.Second,
		SendsPerMinute: cfg.Push.SendsPerMinute,
	}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("notifier init: %w", err)
	}

	run := runner.New(runner.Config{
		MaxPushAge: cfg.MaxPushAge(),
		Push: push.GovernorConfig{
			BigBatchThreshold: cfg.Push.BigBatchThreshold,
			PerTaskCap:        cfg.Push.PerTaskCap,
			WindowSize:        cfg.Push.WindowMinutes,
			WindowCap:         cfg.Push.WindowCap,
			RunCap:            cfg.Push.RunCap,
		},
	}, fingerprint.New(), runner.Deps{
		Store:             st,
		HTTPFetcher:       httpFetcher,
		SubprocessFetcher: subFetcher,
		Extractor:         extract,
		Notifier:          notifier,
		Prober:            parser.NewHeadProber(cfg.Fetch.UserAgent, cfg.FetchTimeout()),
		Clock:             system.New(),
		Logger:            logger,
	})

	return &App{
		cfg:    cfg,
		logger: logger,
		store:  st,
		runner: run,
		server: api.NewServer(run, logger),
	}, nil
}

// RunOnce executes a single ingest cycle and returns its report.
func (a *App) RunOnce(ctx context.Context, opts harvest.RunOptions) (harvest.RunReport, error) {
	return a.runner.IngestAll(ctx, opts)
}

// Serve runs the interval loop plus the HTTP endpoint until SIGINT or
// SIGTERM.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	interval := time.Duration(a.cfg.Server.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.logger.Info("ingest loop started", zap.Duration("interval", interval))

	for {
		report, err := a.runner.IngestAll(ctx, harvest.RunOptions{})
		if err != nil {
			a.logger.Error("ingest run failed", zap.Error(err))
		} else {
			a.server.RecordReport(report)
		}

		select {
		case <-ctx.Done():
			a.logger.Info("shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		case <-ticker.C:
		}
	}
}

// Close releases held resources.
func (a *App) Close() {
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
