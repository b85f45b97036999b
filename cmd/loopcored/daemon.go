package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aidkit/loopcore/internal/config"
	"github.com/aidkit/loopcore/internal/delivery"
	"github.com/aidkit/loopcore/internal/glucose"
	"github.com/aidkit/loopcore/internal/history"
	"github.com/aidkit/loopcore/internal/logging"
	"github.com/aidkit/loopcore/internal/loop"
	"github.com/aidkit/loopcore/internal/metrics"
	"github.com/aidkit/loopcore/internal/profile"
	"github.com/aidkit/loopcore/internal/pump"
	"github.com/aidkit/loopcore/internal/tdd"
)

// heartbeatInterval is the tick cadence. The orchestrator's own entry gate
// enforces the configured minimum loop interval; ticking faster only makes
// failed-cycle retries more responsive.
const heartbeatInterval = time.Minute

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info(ctx, "starting loopcored",
		zap.String("version", version),
		zap.Bool("closed_loop", cfg.Loop.ClosedLoop),
		zap.Duration("loop_interval", cfg.Loop.Interval.Duration()))

	store, err := history.New(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	profiles, err := profile.NewFileStore(cfg.Profile.Path, logger)
	if err != nil {
		return fmt.Errorf("load basal profile: %w", err)
	}
	if cfg.Profile.Watch {
		go func() {
			if err := profiles.Watch(ctx); err != nil {
				logger.Warn(ctx, "profile watch stopped", zap.Error(err))
			}
		}()
	}

	// Without a paired pump every physical command fails the safety gate;
	// the loop still validates glucose, computes TDD, and records cycles.
	var driver pump.Driver
	if fakePump {
		logger.Warn(ctx, "using fake pump driver")
		driver = pump.NewFake()
	}

	manager, err := buildManager(cfg, logger, store, profiles, driver)
	if err != nil {
		return fmt.Errorf("wire loop manager: %w", err)
	}

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.ListenAddr, logger)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	manager.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "shutting down")
			return nil
		case now := <-heartbeat.C:
			manager.Tick(ctx, now)
		}
	}
}

// buildManager wires the loop manager from configuration. driver may be nil.
func buildManager(cfg *config.Config, logger *logging.Logger, store *history.Store, profiles *profile.FileStore, driver pump.Driver) (*loop.Manager, error) {
	enactor := delivery.NewEnactor(driver, store, cfg.Pump.MaxBolus, logger)
	enactor.BolusProgress.Subscribe(func(p *float64) {
		if p == nil {
			metrics.BolusProgress.Set(0)
			return
		}
		metrics.BolusProgress.Set(*p)
	})

	calculator := &tdd.Calculator{
		Store:            store,
		WeightPercentage: cfg.Loop.TDDWeightPercentage,
		Logger:           logger,
	}

	return loop.NewManager(loop.Deps{
		Logger:   logger,
		Driver:   driver,
		Glucose:  store,
		Checker:  glucoseChecker(cfg),
		Profiles: profiles,
		TDD:      calculator,
		Engine:   newSetpointEngine(),
		Enactor:  enactor,
		Store:    store,
		Settings: func() loop.Settings {
			return loop.Settings{
				Interval:                cfg.Loop.Interval.Duration(),
				ClosedLoop:              cfg.Loop.ClosedLoop,
				UnsuspendIfNoTemp:       cfg.Loop.UnsuspendIfNoTemp,
				DeterminationExpiration: cfg.Loop.DeterminationExpiration.Duration(),
			}
		},
	})
}

func glucoseChecker(cfg *config.Config) glucose.Checker {
	return glucose.Checker{
		StalenessWindow: cfg.Glucose.StalenessWindow.Duration(),
		MinSamples:      cfg.Glucose.MinSamples,
		FlatnessBand:    cfg.Glucose.FlatnessBand,
	}
}

func serveMetrics(ctx context.Context, addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn(ctx, "metrics server stopped", zap.Error(err))
	}
}
