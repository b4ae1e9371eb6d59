package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/harborview/staycache/internal/app"
	"github.com/harborview/staycache/internal/auth"
	"github.com/harborview/staycache/internal/cache"
	"github.com/harborview/staycache/internal/config"
	"github.com/harborview/staycache/internal/crypto"
	"github.com/harborview/staycache/internal/diag"
	"github.com/harborview/staycache/internal/server"
	"github.com/harborview/staycache/internal/settings"
	"github.com/harborview/staycache/internal/storage/sqlite"
	syncengine "github.com/harborview/staycache/internal/sync"
	"github.com/harborview/staycache/internal/telemetry"
	"github.com/harborview/staycache/internal/upstream"
	"github.com/harborview/staycache/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting staycache", "version", version, "addr", cfg.Server.Addr)

	codec, err := crypto.New(cfg.Crypto.Secret, cfg.Crypto.PreviousSecrets...)
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.Database.DSN, codec)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	settingsSvc := settings.New(store)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(reg)

	// Route application logs into the persisted diagnostic log.
	logWriter := worker.NewLogWriter(store, metrics)
	consoleHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(diag.NewHandler(consoleHandler, logWriter, settingsSvc)))

	// Tracing
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	// Upstream client with cached DNS.
	resolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			resolver.Refresh(true)
		}
	}()
	upstreamClient := upstream.New(cfg.Upstream.BaseURL, settingsSvc, resolver)

	// Reference cache for the site list.
	sitesCache, err := cache.NewMemory(64, 24*time.Hour)
	if err != nil {
		return err
	}

	// Wire services
	gw := app.NewGateway(store, upstreamClient, settingsSvc, sitesCache, metrics)
	engine := syncengine.NewEngine(store, upstreamClient, settingsSvc, metrics)
	keys := app.NewKeyManager(store)

	apiKeyAuth, err := auth.NewAPIKeyAuth(store)
	if err != nil {
		return err
	}

	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	handler := server.New(server.Deps{
		Auth:           apiKeyAuth,
		Gateway:        gw,
		Keys:           keys,
		Engine:         engine,
		Settings:       settingsSvc,
		Store:          store,
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Invalidator:    apiKeyAuth,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	runner := worker.NewRunner(
		worker.NewSyncScheduler(engine, settingsSvc, store),
		logWriter,
		worker.NewLogTrimmer(store, settingsSvc),
	)
	workerErrCh := make(chan error, 1)
	go func() {
		workerErrCh <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("staycache ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop workers after the server so in-flight requests can still log;
	// the log writer drains its queue on cancellation.
	stopWorkers()
	select {
	case <-workerErrCh:
	case <-shutdownCtx.Done():
	}

	slog.Info("staycache stopped")
	return nil
}
