// Command defi-engine hosts the protocol pools. It seeds them from config or
// restores the last snapshot, saves snapshots on a schedule and serves the
// ops endpoints until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/events"
	"github.com/R3E-Network/defi_engine/internal/engine/metrics"
	"github.com/R3E-Network/defi_engine/internal/engine/registry"
	"github.com/R3E-Network/defi_engine/internal/engine/snapshot"
	"github.com/R3E-Network/defi_engine/internal/httpapi"
	"github.com/R3E-Network/defi_engine/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/defi.yaml", "path to the YAML config")
	envFile := flag.String("env", "", "optional dotenv file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "defi-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	cfg, err := config.LoadOrDefault(configPath, envFile)
	if err != nil {
		return err
	}

	log := logger.New("defi-engine", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	collector := metrics.NewCollector(cfg.Metrics.Namespace)
	journal := events.NewRingBuffer(cfg.Journal.Size)

	reg := registry.New(
		registry.WithLogger(log),
		registry.WithJournal(journal),
		registry.WithMetrics(collector),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := snapshot.Open(ctx, cfg.Snapshot)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if err := bootstrap(ctx, reg, store, cfg.Pools, log); err != nil {
		return err
	}

	var scheduler *snapshot.Scheduler
	if store != nil {
		scheduler = snapshot.NewScheduler(reg, store, cfg.Snapshot,
			snapshot.WithLogger(log),
			snapshot.WithJournal(journal),
			snapshot.WithMetrics(collector),
		)
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	server := httpapi.New(cfg.HTTP, reg,
		httpapi.WithLogger(log),
		httpapi.WithJournal(journal),
		httpapi.WithMetricsHandler(collector.Handler()),
	)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collector.UpdateUptime()
				reg.Stats()
			}
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err = <-serveErr:
		if err != nil {
			log.WithError(err).Error("http server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Warn("http shutdown incomplete")
	}
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
		if saveErr := scheduler.SaveNow(shutdownCtx); saveErr != nil {
			log.WithError(saveErr).Error("final snapshot failed")
		}
	}
	log.Info("defi-engine stopped")
	return err
}

// bootstrap restores the latest snapshot, or seeds the configured pools when
// there is none.
func bootstrap(ctx context.Context, reg *registry.Registry, store snapshot.Store, pools config.Pools, log *logger.Logger) error {
	if store != nil {
		snap, err := store.Load(ctx)
		switch {
		case err == nil:
			return reg.Restore(snap)
		case !errors.Is(err, snapshot.ErrNoSnapshot):
			return fmt.Errorf("load snapshot: %w", err)
		}
		log.WithField("backend", store.Backend()).Info("no snapshot found, seeding pools from config")
	}
	return reg.Seed(pools)
}
