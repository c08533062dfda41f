package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/facility-enrich/internal/dataset"
)

var (
	enrichSource     string
	enrichFormat     string
	enrichFilter     string
	enrichProfile    string
	enrichLabel      string
	enrichSourceRef  string
	enrichPlusCode   string
	enrichFallback   string
	enrichOutput     string
	enrichQueryOnly  bool
	enrichNoBoundary bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich a facility table or every source in a profile",
	Long:  "Resolves each row to a coordinate, matches the containing building outline, normalizes its address and reconciles it into the store. With --query-only nothing is persisted and results are only written to --output.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sources, err := enrichSources()
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, envOptions{queryOnly: enrichQueryOnly, noBoundary: enrichNoBoundary})
		if err != nil {
			return err
		}
		defer env.Close()

		output := enrichOutput
		if output == "" {
			output = cfg.Pipeline.OutputPath
		}
		return runSources(ctx, env, sources, output)
	},
}

func enrichSources() ([]dataset.Source, error) {
	if enrichProfile != "" {
		p, err := dataset.LoadProfile(enrichProfile)
		if err != nil {
			return nil, err
		}
		if enrichFilter != "" {
			for i := range p.Sources {
				p.Sources[i].Filter = enrichFilter
			}
		}
		return p.Sources, nil
	}
	if enrichSource == "" {
		return nil, eris.New("enrich: --source or --profile is required")
	}
	if enrichFallback != "" && enrichFallback != dataset.BoundaryFallbackNominatim {
		return nil, eris.Errorf("enrich: unknown --boundary-fallback %q", enrichFallback)
	}
	return []dataset.Source{{
		Name:             enrichLabel,
		Label:            enrichLabel,
		Path:             enrichSource,
		Format:           dataset.Format(enrichFormat),
		Filter:           enrichFilter,
		SourceRefColumn:  enrichSourceRef,
		PlusCodeColumn:   enrichPlusCode,
		BoundaryFallback: enrichFallback,
		Address:          dataset.AddressAuto,
	}}, nil
}

func init() {
	f := enrichCmd.Flags()
	f.StringVar(&enrichSource, "source", "", "path to a CSV or XLSX facility table")
	f.StringVar(&enrichFormat, "format", "", "table format: csv or xlsx (default: from extension)")
	f.StringVar(&enrichFilter, "filter", "", "row filter expression, e.g. entity_type == \"Plant\"")
	f.StringVar(&enrichProfile, "profile", "", "YAML profile listing source tables")
	f.StringVar(&enrichLabel, "label", "corp_csv", "source label recorded on each location")
	f.StringVar(&enrichSourceRef, "source-ref", "Order", "column recorded as the source reference")
	f.StringVar(&enrichPlusCode, "plus-code-column", "", "column holding plus codes for rows without coordinates")
	f.StringVar(&enrichFallback, "boundary-fallback", "", "adopt this provider's polygon when no outline matches (nominatim)")
	f.StringVar(&enrichOutput, "output", "", "GeoJSON output path (default: pipeline.output_path)")
	f.BoolVar(&enrichQueryOnly, "query-only", false, "enrich without writing to the store")
	f.BoolVar(&enrichNoBoundary, "no-boundary", false, "skip the outline lookup")
	rootCmd.AddCommand(enrichCmd)
}
