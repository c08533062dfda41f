package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/dataset"
	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/pipeline"
	"github.com/sells-group/facility-enrich/internal/reconcile"
	"github.com/sells-group/facility-enrich/internal/resilience"
	"github.com/sells-group/facility-enrich/internal/store"
	"github.com/sells-group/facility-enrich/pkg/geocode"
	"github.com/sells-group/facility-enrich/pkg/overpass"
	"github.com/sells-group/facility-enrich/pkg/pluscode"
	"github.com/sells-group/facility-enrich/pkg/postcodes"
)

const defaultSQLitePath = "facility.db"

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

type envOptions struct {
	queryOnly  bool
	noBoundary bool
}

// enrichEnv holds the wired pipeline and the clients that back it.
type enrichEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Overpass overpass.Client
}

func (e *enrichEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

func initEnv(ctx context.Context, opts envOptions) (*enrichEnv, error) {
	mode := "enrich"
	if opts.queryOnly {
		mode = "query"
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	op := overpass.NewClient(
		overpass.WithBaseURL(cfg.Overpass.BaseURL),
		overpass.WithUserAgent(cfg.Overpass.UserAgent),
		overpass.WithGate(resilience.NewGate("overpass", cfg.Overpass.Cooldown(), cfg.Overpass.Timeout())),
	)
	pc := postcodes.NewClient(
		postcodes.WithBaseURL(cfg.Postcodes.BaseURL),
		postcodes.WithGate(resilience.NewGate("postcodes", cfg.Postcodes.Cooldown(), cfg.Postcodes.Timeout())),
	)
	nominatim := geocode.NewNominatim(
		geocode.WithBaseURL(cfg.Nominatim.BaseURL),
		geocode.WithUserAgent(cfg.Nominatim.UserAgent),
		geocode.WithGate(resilience.NewGate("nominatim", cfg.Nominatim.Cooldown(), cfg.Nominatim.Timeout())),
	)

	var (
		region geocode.RegionLocator
		text   pluscode.TextGeocoder
	)
	if cfg.Google.Key != "" {
		g := geocode.NewGoogle(cfg.Google.Key,
			geocode.WithBaseURL(cfg.Google.BaseURL),
			geocode.WithGate(resilience.NewGate("google", cfg.Google.Cooldown(), cfg.Google.Timeout())),
		)
		region, text = g, g
	} else {
		zap.L().Info("google.key not set; locality lookup and area-text anchors disabled")
	}

	deps := pipeline.Deps{
		Matcher:    op,
		Normalizer: geocode.NewNormalizer(nominatim, region, cfg.Cache.TTL()),
		Resolver:   pluscode.NewResolver(pc, text),
	}

	env := &enrichEnv{Overpass: op}
	if !opts.queryOnly {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		policy, err := reconcile.ParsePolicy(cfg.Reconcile.FeaturePolicy)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		env.Store = st
		deps.Reconciler = reconcile.New(st, policy)
	}

	env.Pipeline = pipeline.New(deps, pipeline.Options{
		Concurrency:  cfg.Pipeline.Concurrency,
		RadiusMeters: cfg.Pipeline.RadiusMeters,
		QueryOnly:    opts.queryOnly,
		NoBoundary:   opts.noBoundary,
	})
	return env, nil
}

// runSources loads every source before enriching any, so a missing file
// aborts the run before the first provider call.
func runSources(ctx context.Context, env *enrichEnv, sources []dataset.Source, output string) error {
	loaded := make([][]dataset.Row, len(sources))
	for i, src := range sources {
		rows, err := dataset.LoadWithOptions(ctx, src.Path, src.Options())
		if err != nil {
			return err
		}
		zap.L().Info("loaded source", zap.String("source", src.Label), zap.Int("rows", len(rows)))
		loaded[i] = rows
	}

	var features []geo.EnrichedFeature
	for i, src := range sources {
		report, err := env.Pipeline.Run(ctx, src, loaded[i])
		if report != nil {
			features = append(features, report.Features...)
			emitReport(report)
		}
		if err != nil {
			return writeOutput(output, features, err)
		}
	}
	return writeOutput(output, features, nil)
}

func emitReport(r *pipeline.Report) {
	fmt.Println(pipeline.FormatReport(r))
}

// writeOutput writes whatever was enriched, including on a cancelled run,
// and returns runErr unless the write itself fails.
func writeOutput(path string, features []geo.EnrichedFeature, runErr error) error {
	if path == "" {
		return runErr
	}
	if err := pipeline.WriteOutput(path, features); err != nil {
		if runErr != nil {
			zap.L().Error("write output", zap.Error(err))
			return runErr
		}
		return err
	}
	zap.L().Info("wrote output", zap.String("path", path), zap.Int("features", len(features)))
	return runErr
}
