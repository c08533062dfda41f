package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/dataset"
	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/pipeline"
	"github.com/sells-group/facility-enrich/internal/reconcile"
)

var (
	seedProfile string
	seedGeoJSON string
	seedForce   bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Enrich every profile source into an empty store",
	Long:  "Runs the sources listed in the seed profile, or imports a GeoJSON output file with --geojson, but only when no feature is stored yet. --force seeds regardless.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("seed"); err != nil {
			return err
		}

		var (
			features []geo.EnrichedFeature
			profile  *dataset.Profile
			err      error
		)
		if seedGeoJSON != "" {
			features, err = pipeline.ReadOutput(seedGeoJSON)
		} else {
			path := seedProfile
			if path == "" {
				path = cfg.Seed.Profile
			}
			profile, err = dataset.LoadProfile(path)
		}
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, envOptions{})
		if err != nil {
			return err
		}
		defer env.Close()

		sources := 1
		seed := func(ctx context.Context) error {
			report, err := env.Pipeline.RunImport(ctx, pipeline.ImportLabel, features)
			if report != nil {
				emitReport(report)
			}
			return err
		}
		if profile != nil {
			sources = len(profile.Sources)
			seed = func(ctx context.Context) error {
				return runSources(ctx, env, profile.Sources, cfg.Pipeline.OutputPath)
			}
		}

		ran, err := reconcile.SeedIfEmpty(ctx, env.Store, seedForce, seed)
		if err != nil {
			return err
		}
		zap.L().Info("seed complete", zap.Bool("ran", ran), zap.Int("sources", sources))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedProfile, "profile", "", "seed profile path (default: seed.profile)")
	seedCmd.Flags().StringVar(&seedGeoJSON, "geojson", "", "seed from a GeoJSON output file instead of the profile")
	seedCmd.Flags().BoolVar(&seedForce, "force", false, "seed even when features are already stored")
	rootCmd.AddCommand(seedCmd)
}
