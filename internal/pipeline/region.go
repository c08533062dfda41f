package pipeline

import (
	"context"
	"iter"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/reconcile"
	"github.com/sells-group/facility-enrich/internal/resilience"
	"github.com/sells-group/facility-enrich/internal/store"
)

// RegionSearcher lists outlines by name or brand inside a region.
type RegionSearcher interface {
	FetchRegion(ctx context.Context, regionCode, pattern string, timeoutSecs int) ([]geo.EnrichedFeature, error)
	SearchRegion(ctx context.Context, regionCode, pattern string, timeoutSecs int) iter.Seq[geo.EnrichedFeature]
}

// RegionQuery is one regional brand search.
type RegionQuery struct {
	RegionCode  string
	Pattern     string
	TimeoutSecs int
	// Retries is the total number of attempts; 1 or less means one try.
	Retries int
}

// RegionLabel is the data source recorded for region search results.
const RegionLabel = "overpass_region"

// RunRegion searches a region and reconciles each match as a location at
// the center of its bounding box.
func (p *Pipeline) RunRegion(ctx context.Context, searcher RegionSearcher, q RegionQuery) (*Report, error) {
	features, err := p.regionFeatures(ctx, searcher, q)
	report := newReport(RegionLabel+":"+q.RegionCode, len(features))
	if err != nil {
		report.add(Event{Stage: StageRegion, Kind: resilience.KindOf(err), Err: err})
	}

	for i := range features {
		if ctx.Err() != nil {
			break
		}
		f := &features[i]
		row := i + 1
		if f.Boundary == nil {
			continue
		}
		center := f.Boundary.Center()
		f.Point = &center
		report.add(Event{Row: row, Company: f.CompanyName, Stage: StageEnriched, Boundary: true, Address: !f.Address.Empty()})
		report.Features = append(report.Features, *f)
		if p.opts.QueryOnly {
			continue
		}

		res, err := p.deps.Reconciler.Reconcile(ctx, reconcile.Record{
			CompanyName: f.CompanyName,
			Coordinate:  &center,
			Meta: store.LocationMeta{
				EntityType:  f.EntityType,
				Country:     f.Address.Country,
				CountryCode: f.Address.CountryCode,
				Source:      RegionLabel,
				SourceRef:   f.Boundary.OSMType + "/" + strconv.FormatInt(f.Boundary.OSMID, 10),
			},
			Features:   []geo.EnrichedFeature{*f},
			DataSource: RegionLabel,
		})
		if err != nil {
			report.add(Event{Row: row, Company: f.CompanyName, Stage: StageReconcile, Kind: resilience.KindOf(err), Err: err})
			continue
		}
		report.add(Event{Row: row, Company: f.CompanyName, Stage: StagePersisted, Attached: res.FeaturesAttached})
	}

	report.finish()
	report.Log()
	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "pipeline: region run cancelled")
	}
	return report, nil
}

// regionFeatures runs the lazy search for a single attempt and the
// retrying fetch otherwise.
func (p *Pipeline) regionFeatures(ctx context.Context, searcher RegionSearcher, q RegionQuery) ([]geo.EnrichedFeature, error) {
	if q.Retries <= 1 {
		var out []geo.EnrichedFeature
		for f := range searcher.SearchRegion(ctx, q.RegionCode, q.Pattern, q.TimeoutSecs) {
			out = append(out, f)
		}
		return out, nil
	}

	features, err := resilience.DoVal(ctx, resilience.ProviderRetry(q.Retries, "overpass"),
		func(ctx context.Context) ([]geo.EnrichedFeature, error) {
			return searcher.FetchRegion(ctx, q.RegionCode, q.Pattern, q.TimeoutSecs)
		})
	if err != nil {
		zap.L().Warn("pipeline: region search failed",
			zap.String("region", q.RegionCode),
			zap.String("pattern", q.Pattern),
			zap.Error(err))
		return nil, err
	}
	return features, nil
}
