// Package main is the ingestion CLI: cold-start historical loads and
// field-level patches of the derived feature store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/marketpulse/internal/config"
	"github.com/aristath/marketpulse/internal/di"
	"github.com/aristath/marketpulse/pkg/logger"
)

func main() {
	var (
		mode   string
		days   int
		target string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load or repair the marketpulse feature store",
		Long: "Runs outside the server process against the same databases.\n" +
			"cold_start pulls per-ticker history and recomputes every derived\n" +
			"column; patch recomputes a single derived field over recent days.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
			logger.SetGlobalLogger(log)

			container, err := di.Wire(cfg, log)
			if err != nil {
				return fmt.Errorf("wire dependencies: %w", err)
			}
			defer container.Close()

			ctx, cancel := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := container.Calendar.Refresh(warmCtx); err != nil {
				log.Warn().Err(err).Msg("Trading calendar unavailable, using weekday fallback")
			}
			warmCancel()

			start := time.Now()
			switch mode {
			case "cold_start":
				err = container.Ingest.Backfill(ctx, days)
			case "patch":
				if target == "" {
					return fmt.Errorf("--mode=patch requires --target")
				}
				err = container.Ingest.Patch(ctx, target, days)
			default:
				return fmt.Errorf("unknown mode %q (want cold_start or patch)", mode)
			}
			if err != nil {
				return err
			}

			log.Info().Str("mode", mode).Dur("elapsed", time.Since(start)).
				Msg("Ingestion finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "cold_start", "cold_start or patch")
	cmd.Flags().IntVar(&days, "days", 365, "calendar days of history to cover")
	cmd.Flags().StringVar(&target, "target", "",
		"derived field to patch: ma, vol_ma_5, rps_250, vcp_factor, sector_rps or sector_change_pct")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
