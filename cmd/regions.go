package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/pipeline"
)

var (
	regionsCodes     []string
	regionsPattern   string
	regionsTimeout   int
	regionsRetries   int
	regionsOutput    string
	regionsQueryOnly bool
)

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "Search regions for outlines matching a name or brand",
	Long:  "Runs a case-insensitive name/brand search over each region (ISO 3166 code, e.g. GB or US-CA) and reconciles every matching outline as a location at its center.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(regionsCodes) == 0 || regionsPattern == "" {
			return eris.New("regions: --region and --regex are required")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, envOptions{queryOnly: regionsQueryOnly})
		if err != nil {
			return err
		}
		defer env.Close()

		var features []geo.EnrichedFeature
		for _, code := range regionsCodes {
			report, err := env.Pipeline.RunRegion(ctx, env.Overpass, pipeline.RegionQuery{
				RegionCode:  code,
				Pattern:     regionsPattern,
				TimeoutSecs: regionsTimeout,
				Retries:     regionsRetries,
			})
			if report != nil {
				features = append(features, report.Features...)
				emitReport(report)
			}
			if err != nil {
				return writeOutput(regionsOutput, features, err)
			}
		}
		return writeOutput(regionsOutput, features, nil)
	},
}

func init() {
	f := regionsCmd.Flags()
	f.StringSliceVar(&regionsCodes, "region", nil, "ISO 3166 region codes (repeatable or comma-separated)")
	f.StringVar(&regionsPattern, "regex", "", "name/brand pattern, matched case-insensitively")
	f.IntVar(&regionsTimeout, "timeout", 1200, "server-side query timeout in seconds")
	f.IntVar(&regionsRetries, "retries", 1, "total attempts per region")
	f.StringVar(&regionsOutput, "output", "", "GeoJSON output path")
	f.BoolVar(&regionsQueryOnly, "query-only", false, "search without writing to the store")
	rootCmd.AddCommand(regionsCmd)
}
