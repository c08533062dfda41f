package pipeline

import (
	"context"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-enrich/internal/dataset"
	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/reconcile"
	"github.com/sells-group/facility-enrich/internal/resilience"
	"github.com/sells-group/facility-enrich/internal/store"
)

// ImportLabel is the default data source for features read back from a
// GeoJSON output file.
const ImportLabel = "geojson_import"

// ReadOutput reads a FeatureCollection written by WriteOutput.
func ReadOutput(path string) ([]geo.EnrichedFeature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(dataset.ErrFileNotFound, "pipeline: %s", path)
		}
		return nil, eris.Wrapf(err, "pipeline: read %s", path)
	}
	return geo.DecodeFeatureCollection(data)
}

// RunImport reconciles already-enriched features without calling any
// provider. Each feature becomes one location at its point.
func (p *Pipeline) RunImport(ctx context.Context, label string, features []geo.EnrichedFeature) (*Report, error) {
	if label == "" {
		label = ImportLabel
	}
	report := newReport(label, len(features))

	for i := range features {
		if ctx.Err() != nil {
			break
		}
		f := &features[i]
		row := i + 1
		report.add(Event{Row: row, Company: f.CompanyName, Stage: StageEnriched, Boundary: f.Boundary != nil, Address: !f.Address.Empty()})
		report.Features = append(report.Features, *f)
		if p.opts.QueryOnly {
			continue
		}

		meta := store.LocationMeta{
			EntityType:  f.EntityType,
			Country:     f.Address.Country,
			CountryCode: f.Address.CountryCode,
			Source:      label,
			SourceRef:   strconv.Itoa(row),
		}
		if f.Boundary != nil && f.Boundary.OSMID != 0 {
			meta.SourceRef = f.Boundary.OSMType + "/" + strconv.FormatInt(f.Boundary.OSMID, 10)
		}
		res, err := p.deps.Reconciler.Reconcile(ctx, reconcile.Record{
			CompanyName: f.CompanyName,
			Coordinate:  f.Point,
			Meta:        meta,
			Features:    []geo.EnrichedFeature{*f},
			DataSource:  label,
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
		return report, eris.Wrap(err, "pipeline: import cancelled")
	}
	return report, nil
}
