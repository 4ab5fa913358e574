package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"site-chain/internal/config"
	"site-chain/internal/logger"
	"site-chain/internal/pipeline"
	"site-chain/internal/region"
	"site-chain/internal/store"
	"site-chain/internal/utils"

	"github.com/spf13/cobra"
)

// exitUsage：窗口或参数错误
const exitUsage = 2

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	var (
		cfgPath string
		fl      config.Config
	)
	cmd := &cobra.Command{
		Use:           "extract-sites",
		Short:         "Extract construction site lifecycles from OSM history",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return usageError{err}
			}
			applyFlags(cmd, &cfg, fl)
			if err := cfg.Validate(); err != nil {
				return usageError{err}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = run(ctx, cfg)
			if pipeline.IsUsageError(err) {
				return usageError{err}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	f.StringVarP(&fl.Start, "start", "s", "", "window start date YYYY-MM-DD")
	f.StringVarP(&fl.End, "end", "e", "", "window end date YYYY-MM-DD")
	f.StringVarP(&fl.Poly, "poly", "p", "", "region polygon (.poly, .geojson, .wkt)")
	f.StringVar(&fl.History, "history", "", "OSM history file (.osh.pbf or .osh)")
	f.StringVar(&fl.Provider, "provider", "", "snapshot providers in fallback order: history,osmium")
	f.StringVar(&fl.TempDir, "temp-dir", "", "directory for intermediate snapshots")
	f.StringVar(&fl.OutputDir, "output-dir", "", "directory for collection output")
	f.BoolVarP(&fl.KeepTemp, "keep-temp", "k", false, "keep intermediate snapshots")
	f.BoolVarP(&fl.RestrictWindow, "restrict-window", "r", false, "do not extend lifecycles outside the window")
	f.BoolVarP(&fl.SaveWIP, "save-wip", "w", false, "also write lifecycles still under construction")
	f.Float64Var(&fl.TagConfidence, "tag-confidence", 0, "minimum IOU for previous and final tags")
	f.Float64Var(&fl.ConstructionChainConfidence, "chain-confidence", 0, "minimum IOU for joining construction objects")
	f.StringVar(&fl.StoreDriver, "store", "", "optional output database: postgres or sqlite")
	f.StringVar(&fl.StoreDSN, "store-dsn", "", "output database DSN or sqlite file")
	f.BoolVar(&fl.Redis, "redis", false, "cache snapshots in redis")
	f.StringVar(&fl.MetricsFile, "metrics-file", "", "write prometheus textfile metrics here")

	if err := cmd.Execute(); err != nil {
		logger.L().Error("extract_failed", "err", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		var ue usageError
		if errors.As(err, &ue) {
			os.Exit(exitUsage)
		}
		os.Exit(1)
	}
}

// applyFlags：只有显式给出的参数覆盖配置
func applyFlags(cmd *cobra.Command, cfg *config.Config, fl config.Config) {
	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("start", func() { cfg.Start = fl.Start })
	set("end", func() { cfg.End = fl.End })
	set("poly", func() { cfg.Poly = fl.Poly })
	set("history", func() { cfg.History = fl.History })
	set("provider", func() { cfg.Provider = fl.Provider })
	set("temp-dir", func() { cfg.TempDir = fl.TempDir })
	set("output-dir", func() { cfg.OutputDir = fl.OutputDir })
	set("keep-temp", func() { cfg.KeepTemp = fl.KeepTemp })
	set("restrict-window", func() { cfg.RestrictWindow = fl.RestrictWindow })
	set("save-wip", func() { cfg.SaveWIP = fl.SaveWIP })
	set("tag-confidence", func() { cfg.TagConfidence = fl.TagConfidence })
	set("chain-confidence", func() { cfg.ConstructionChainConfidence = fl.ConstructionChainConfidence })
	set("store", func() { cfg.StoreDriver = fl.StoreDriver })
	set("store-dsn", func() { cfg.StoreDSN = fl.StoreDSN })
	set("redis", func() { cfg.Redis = fl.Redis })
	set("metrics-file", func() { cfg.MetricsFile = fl.MetricsFile })
}

func run(ctx context.Context, cfg config.Config) error {
	log := logger.Component("extract")
	reg, err := region.Load(cfg.Poly)
	if err != nil {
		return usageError{err}
	}
	log.Info("region_loaded", "name", reg.Name, "polygons", len(reg.Polys), "bbox", reg.BBox.String())

	rc := utils.OpenRedis(cfg)
	if rc != nil {
		if err := rc.Ping(ctx).Err(); err != nil {
			log.Warn("redis_unavailable", "err", err)
			rc.Close()
			rc = nil
		} else {
			defer rc.Close()
		}
	}

	var st *store.Store
	if cfg.StoreDriver != "" {
		st, err = store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
	}

	p, err := pipeline.BuildProvider(cfg, reg, rc)
	if err != nil {
		return err
	}
	rep, err := pipeline.New(cfg, reg, p, st).Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: %d complete, %d in progress -> %s\n",
		rep.RunID, rep.Collection.Complete.Len(), rep.Collection.WIP.Len(), cfg.OutputDir)
	return nil
}
