package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/config"
)

var cfg *config.Config

// Persistent overrides applied on top of config.yaml and FACILITY_* env.
var (
	logLevel    string
	storeDriver string
	databaseURL string
)

var rootCmd = &cobra.Command{
	Use:   "facility-enrich",
	Short: "Geospatial enrichment pipeline for facility records",
	Long: `facility-enrich turns facility tables into located, outlined and addressed
features.

  enrich   CSV/XLSX rows with coordinates or plus codes
  sheet    the plus-code sheet preset (outline required, locality address)
  regions  name/brand search over ISO 3166 regions
  import   reconcile a GeoJSON output file without provider calls
  seed     run the profile (or a GeoJSON file) into an empty store
  reset    drop and recreate the schema
  serve    read-only GeoJSON API

Results go to Postgres/PostGIS or SQLite (store.driver) and to a GeoJSON
FeatureCollection (pipeline.output_path).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		applyOverrides(c)
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store_driver", cfg.Store.Driver),
			zap.Int("concurrency", cfg.Pipeline.Concurrency))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func applyOverrides(c *config.Config) {
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if storeDriver != "" {
		c.Store.Driver = storeDriver
	}
	if databaseURL != "" {
		c.Store.DatabaseURL = databaseURL
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	pf.StringVar(&storeDriver, "store", "", "override store.driver (postgres or sqlite)")
	pf.StringVar(&databaseURL, "db", "", "override store.database_url")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
