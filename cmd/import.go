package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/facility-enrich/internal/pipeline"
)

var (
	importGeoJSON   string
	importLabel     string
	importQueryOnly bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Reconcile a GeoJSON output file into the store",
	Long:  "Reads a FeatureCollection written by enrich, sheet or regions and reconciles each feature as a location without calling any provider.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if importGeoJSON == "" {
			return eris.New("import: --geojson is required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		features, err := pipeline.ReadOutput(importGeoJSON)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, envOptions{queryOnly: importQueryOnly})
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Pipeline.RunImport(ctx, importLabel, features)
		if report != nil {
			emitReport(report)
		}
		return err
	},
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importGeoJSON, "geojson", "", "path to a GeoJSON FeatureCollection")
	f.StringVar(&importLabel, "label", pipeline.ImportLabel, "source label recorded on each location")
	f.BoolVar(&importQueryOnly, "query-only", false, "decode and report without writing to the store")
	rootCmd.AddCommand(importCmd)
}
