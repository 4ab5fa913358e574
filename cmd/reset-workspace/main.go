package main

import (
	"fmt"
	"os"

	"site-chain/internal/collection"
	"site-chain/internal/config"
	"site-chain/internal/logger"
	"site-chain/internal/snapshot"

	"github.com/spf13/cobra"
)

func main() {
	var (
		cfgPath    string
		imagesOnly bool
	)
	cmd := &cobra.Command{
		Use:          "reset-workspace",
		Short:        "Remove intermediate snapshots and generated output",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			log := logger.Component("reset")
			if imagesOnly {
				n, err := collection.ResetImages(cfg.OutputDir)
				log.Info("reset_images", "dir", cfg.OutputDir, "removed", n)
				return err
			}
			n, err := snapshot.RemoveGlob(cfg.TempDir, "*.osm", "*.osh.pbf", "snapshots/*")
			log.Info("reset_temp", "dir", cfg.TempDir, "removed", n)
			if err != nil {
				return err
			}
			n, err = collection.ResetOutput(cfg.OutputDir)
			log.Info("reset_output", "dir", cfg.OutputDir, "removed", n)
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	cmd.Flags().BoolVar(&imagesOnly, "images", false, "only remove gathered imagery")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
