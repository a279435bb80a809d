// Package main is the entry point for the marketpulse analytics backend.
// It ingests A-share market data, maintains the derived feature store and
// serves recommendations, predictions and sector analytics over HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/marketpulse/internal/config"
	"github.com/aristath/marketpulse/internal/di"
	"github.com/aristath/marketpulse/internal/server"
	"github.com/aristath/marketpulse/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New(logger.Config{Level: "info", Pretty: true})
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting marketpulse")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	// Warm the trading calendar before anything consults it. A vendor
	// failure here is tolerable: predicates fall back to weekdays.
	calCtx, calCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := container.Calendar.Refresh(calCtx); err != nil {
		log.Warn().Err(err).Msg("Trading calendar unavailable, using weekday fallback")
	}
	calCancel()

	container.Runner.Start()

	if cfg.SchedulerEnabled {
		container.Scheduler.Start()
		log.Info().Msg("Scheduler started")

		// Recover a missed daily close in the background so the HTTP
		// surface comes up immediately.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
			defer cancel()
			if err := container.Ingest.CatchUp(ctx); err != nil {
				log.Error().Err(err).Msg("Startup catch-up failed")
			}
		}()
	}

	srv := server.New(server.Deps{
		Tickers:         container.Directory,
		Bars:            container.Bars,
		Flows:           container.Flows,
		Sectors:         container.SectorService,
		Hot:             container.HotService,
		Pipeline:        container.Pipeline,
		Backtester:      container.Backtester,
		Recommendations: container.RecService,
		Predictor:       container.Predictor,
		Analyzer:        container.Analyzer,
		Jobs:            container.Scheduler,
		History:         container.JobHistory,
		Worker:          container.Runner,
		Cache:           container.PayloadCache,
		Clock:           container.Calendar,
		Bus:             container.Bus,
		Databases:       container.Databases(),
		DataDir:         cfg.DataDir,
		StartedAt:       time.Now(),
	}, cfg.Port, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Shutdown complete")
}
