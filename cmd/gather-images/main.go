package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"site-chain/internal/collection"
	"site-chain/internal/config"
	"site-chain/internal/imagery"
	"site-chain/internal/logger"
	"site-chain/internal/metrics"
	"site-chain/internal/store"

	"github.com/spf13/cobra"
)

func main() {
	var (
		cfgPath string
		runID   string
		fl      config.Config
	)
	cmd := &cobra.Command{
		Use:           "gather-images",
		Short:         "Download imagery for extracted construction sites",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("source") {
				cfg.Imagery.Source = fl.Imagery.Source
			}
			if f.Changed("num-images") {
				cfg.Imagery.NumImages = fl.Imagery.NumImages
			}
			if f.Changed("padding") {
				cfg.Imagery.Padding = fl.Imagery.Padding
			}
			if f.Changed("rgb") {
				cfg.Imagery.RGB = fl.Imagery.RGB
			}
			if f.Changed("nir") {
				cfg.Imagery.NIR = fl.Imagery.NIR
			}
			if f.Changed("workers") {
				cfg.Imagery.Workers = fl.Imagery.Workers
			}
			if f.Changed("output-dir") {
				cfg.OutputDir = fl.OutputDir
			}
			if f.Changed("store") {
				cfg.StoreDriver = fl.StoreDriver
			}
			if f.Changed("store-dsn") {
				cfg.StoreDSN = fl.StoreDSN
			}
			if err := cfg.ValidateImagery(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, runID)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	f.StringVarP(&fl.Imagery.Source, "source", "s", "", "imagery source: sentinel or planet")
	f.IntVarP(&fl.Imagery.NumImages, "num-images", "n", 0, "images per site (-1 for the whole window, otherwise >= 3)")
	f.Float64VarP(&fl.Imagery.Padding, "padding", "p", 0, "scale factor applied to the site bbox")
	f.BoolVarP(&fl.Imagery.RGB, "rgb", "C", false, "gather RGB imagery")
	f.BoolVarP(&fl.Imagery.NIR, "nir", "N", false, "gather NIR imagery")
	f.IntVar(&fl.Imagery.Workers, "workers", 0, "concurrent downloads")
	f.StringVar(&fl.OutputDir, "output-dir", "", "directory holding collection output")
	f.StringVar(&fl.StoreDriver, "store", "", "read sites from a database (postgres or sqlite) instead of collection.csv")
	f.StringVar(&fl.StoreDSN, "store-dsn", "", "database DSN or sqlite file")
	f.StringVar(&runID, "run", "", "run id to read from the database (default latest)")

	if err := cmd.Execute(); err != nil {
		logger.L().Error("gather_failed", "err", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadRows(ctx context.Context, cfg config.Config, runID string) ([]collection.Row, error) {
	if cfg.StoreDriver == "" {
		return collection.ReadCSV(filepath.Join(cfg.OutputDir, "collection", collection.CompleteName+".csv"))
	}
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	if runID == "" {
		if runID, err = st.LatestRun(ctx); err != nil {
			return nil, err
		}
	}
	logger.Component("gather").Info("gather_from_store", "run_id", runID)
	return st.ListChains(ctx, runID, store.StatusComplete)
}

func run(ctx context.Context, cfg config.Config, runID string) (err error) {
	log := logger.Component("gather")
	defer logger.Step(log, "gather", "source", cfg.Imagery.Source)(&err)
	defer func() {
		if merr := metrics.WriteTextfile(cfg.MetricsFile); merr != nil {
			log.Warn("metrics_textfile_error", "err", merr)
		}
	}()
	rows, err := loadRows(ctx, cfg, runID)
	if err != nil {
		return err
	}
	src, err := imagery.NewSource(cfg.Imagery, nil)
	if err != nil {
		return err
	}
	g := imagery.NewGatherer(src, imagery.Options{
		OutputDir:  cfg.OutputDir,
		Bands:      imagery.Bands(cfg.Imagery),
		NumImages:  cfg.Imagery.NumImages,
		Padding:    cfg.Imagery.Padding,
		Workers:    cfg.Imagery.Workers,
		RatePerMin: cfg.Imagery.RatePerMin,
	})
	sum, err := g.Gather(ctx, rows)
	if err != nil {
		return err
	}
	fmt.Printf("%d sites, %d skipped, %d images saved, %d failed\n", sum.Chains, sum.Skipped, sum.Saved, sum.Failed)
	return nil
}
