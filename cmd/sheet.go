package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/facility-enrich/internal/dataset"
	"github.com/sells-group/facility-enrich/internal/pipeline"
)

var (
	sheetSource         string
	sheetName           string
	sheetDefaultCompany string
	sheetOutput         string
	sheetQueryOnly      bool
)

var sheetCmd = &cobra.Command{
	Use:   "sheet",
	Short: "Enrich a plus-code spreadsheet",
	Long:  "Decodes the plus code on each sheet row, keeps only rows inside a building outline, takes the address from the locality lookup and copies every other column onto the feature.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sheetSource == "" {
			return eris.New("sheet: --source is required")
		}
		if cfg.Google.Key == "" {
			return eris.New("sheet: google.key is required for locality lookup")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, envOptions{queryOnly: sheetQueryOnly})
		if err != nil {
			return err
		}
		defer env.Close()

		src := pipeline.SheetSource(sheetSource, sheetName, sheetDefaultCompany)
		output := sheetOutput
		if output == "" {
			output = cfg.Pipeline.OutputPath
		}
		return runSources(ctx, env, []dataset.Source{src}, output)
	},
}

func init() {
	f := sheetCmd.Flags()
	f.StringVar(&sheetSource, "source", "", "path to the XLSX workbook")
	f.StringVar(&sheetName, "sheet", pipeline.SheetName, "worksheet name")
	f.StringVar(&sheetDefaultCompany, "default-company", "", "company recorded for rows without a legal entity name")
	f.StringVar(&sheetOutput, "output", "", "GeoJSON output path (default: pipeline.output_path)")
	f.BoolVar(&sheetQueryOnly, "query-only", false, "enrich without writing to the store")
	rootCmd.AddCommand(sheetCmd)
}
