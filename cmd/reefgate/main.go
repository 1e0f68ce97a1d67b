// Package main implements the entry point for the reefgate aquarium gateway.
// Reefgate terminates websocket connections from tank hardware modules,
// reconciles their state, derives consumable usage and activation history,
// and serves the operator REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PicklesTheWise/Pickle-Reef/bridge"
	"github.com/PicklesTheWise/Pickle-Reef/config"
	"github.com/PicklesTheWise/Pickle-Reef/gateway/api"
	"github.com/PicklesTheWise/Pickle-Reef/gateway/ws"
	"github.com/PicklesTheWise/Pickle-Reef/metric"
	"github.com/PicklesTheWise/Pickle-Reef/modstate"
	"github.com/PicklesTheWise/Pickle-Reef/registry"
	"github.com/PicklesTheWise/Pickle-Reef/store"
)

const (
	Version = "0.1.0"
	appName = "reefgate"

	shutdownTimeout = 10 * time.Second
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("gateway failed", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting reefgate", "version", Version, "listen_addr", cfg.HTTP.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// A fresh database reconstructs its usage ledger from traced status
	// frames before any live connection can interleave.
	if cfg.Database.RehydrateWindow > 0 {
		inserted, err := db.Rehydrate(ctx, cfg.Database.RehydrateWindow, logger)
		if err != nil {
			logger.Warn("usage rehydration failed", "err", err)
		} else if inserted > 0 {
			logger.Info("usage ledger rehydrated", "rows", inserted)
		}
	}

	metricsRegistry := metric.NewMetricsRegistry()
	coreMetrics := metricsRegistry.CoreMetrics()

	var notifier modstate.Notifier
	var eventBridge *bridge.Bridge
	if cfg.Bridge.Enabled {
		eventBridge, err = bridge.Connect(cfg.Bridge.URL, cfg.Bridge.SubjectPrefix, coreMetrics, logger)
		if err != nil {
			// The gateway is useful without the bridge; modules must not be
			// held hostage by a broker outage.
			logger.Warn("bridge unavailable, continuing without it", "err", err)
		} else {
			notifier = eventBridge
			defer eventBridge.Close()
		}
	}

	modules := modstate.NewStore(db, logger, modstate.WithNotifier(notifier))

	known, err := db.LoadModules(ctx)
	if err != nil {
		return fmt.Errorf("load modules: %w", err)
	}
	for _, rec := range known {
		modules.Seed(rec)
	}
	logger.Info("module records loaded", "count", len(known))

	trace := store.NewTraceRecorder(db, cfg.Trace.Enabled, cfg.Trace.MaxPerSecond, logger, nil)
	connections := registry.New(logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(modules, connections, trace, coreMetrics, logger))
	mux.Handle("/metrics", metricsRegistry.Handler())
	mux.Handle("/api/", api.NewServer(modules, db, connections, trace, coreMetrics, logger).Routes())

	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	pruner := store.NewPruner(db, retentionFromConfig(cfg.Retention), cfg.Retention.PruneInterval, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := pruner.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// Mirror persistence health into the scrape surface.
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		var reportedFailures int64
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				coreMetrics.PersistenceQueueDepth.Set(float64(modules.PendingWrites()))
				if failures := modules.PersistFailures(); failures > reportedFailures {
					coreMetrics.PersistenceFailures.Add(float64(failures - reportedFailures))
					reportedFailures = failures
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "err", err)
		}
		connections.CloseAll()
		if err := modules.Drain(shutdownCtx); err != nil {
			logger.Warn("durable writes not fully drained", "err", err)
		}
		return nil
	})

	return g.Wait()
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func retentionFromConfig(r config.RetentionConfig) store.RetentionConfig {
	return store.RetentionConfig{
		UsageRows:     int64(r.UsageRows),
		CycleRows:     int64(r.CycleRows),
		TraceRows:     int64(r.TraceRows),
		TraceAge:      r.TraceAge,
		SnapshotRows:  int64(r.SnapshotRows),
		SnapshotAge:   r.SnapshotAge,
		TelemetryRows: int64(r.TelemetryRows),
		TelemetryAge:  r.TelemetryAge,
	}
}
