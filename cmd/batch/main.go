package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/nexconsult/avaluo-api/internal/logger"
	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/nexconsult/avaluo-api/internal/services"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts batchOptions

	cmd := &cobra.Command{
		Use:   "batch --region 06 --comuna 06101 --manzana 500 --predio 295 [--runs N]",
		Short: "Runs the automatic certificate flow repeatedly and reports every outcome.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			// Every run must reach the site; documents are written by the batch itself.
			cfg.Storage.CacheTTL = 0
			cfg.Storage.OutputDir = ""
			if cfg.Storage.DiagnosticsDir == "" {
				cfg.Storage.DiagnosticsDir = filepath.Join(opts.output, "diagnostics")
			}

			log := logger.New(cfg.Log.Level, cfg.Log.Format)
			container, err := services.NewContainer(cfg, log)
			if err != nil {
				return fmt.Errorf("failed to initialize services: %w", err)
			}
			defer container.Close()

			summary, err := runBatch(cmd.Context(), container.AvaluoService, opts, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d runs succeeded, results in %s\n",
				summary.Succeeded, summary.Runs, filepath.Join(opts.output, resultsFile))
			if summary.Succeeded == 0 {
				return fmt.Errorf("no run obtained a certificate")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.runs, "runs", 1, "Number of full attempts to run.")
	flags.StringVar(&opts.locator.Region, "region", "", "Region code.")
	flags.StringVar(&opts.locator.Comuna, "comuna", "", "Comuna code.")
	flags.StringVar(&opts.locator.Manzana, "manzana", "", "Block number.")
	flags.StringVar(&opts.locator.Predio, "predio", "", "Parcel number.")
	flags.StringVar(&opts.output, "output", "batch-output", "Directory for certificates and the results file.")
	flags.IntVar(&opts.workers, "workers", 1, "Runs executed in parallel, each with its own browser.")
	flags.DurationVar(&opts.delay, "delay", 5*time.Second, "Pause between runs.")
	for _, name := range []string{"region", "comuna", "manzana", "predio"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

type batchOptions struct {
	runs    int
	workers int
	locator models.Locator
	output  string
	delay   time.Duration
}
