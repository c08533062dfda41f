// Package pipeline drives facility enrichment: it resolves each source row
// to a coordinate, matches a containing outline, normalizes the address and
// hands the result to reconciliation.
package pipeline

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/facility-enrich/internal/dataset"
	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/reconcile"
	"github.com/sells-group/facility-enrich/internal/resilience"
	"github.com/sells-group/facility-enrich/internal/store"
	"github.com/sells-group/facility-enrich/pkg/geocode"
	"github.com/sells-group/facility-enrich/pkg/pluscode"
)

// Matcher finds the outline containing a point.
type Matcher interface {
	NearestContaining(ctx context.Context, point geo.Coordinate, radiusMeters int) (*geo.BoundaryFeature, error)
}

// Normalizer turns a point into address metadata.
type Normalizer interface {
	Normalize(ctx context.Context, p geo.Coordinate) (geocode.Result, error)
	RegionFromCoords(ctx context.Context, p geo.Coordinate) (geocode.Region, error)
}

// Resolver decodes plus codes.
type Resolver interface {
	Resolve(ctx context.Context, code string, anchor pluscode.Anchor) (geo.Coordinate, error)
}

// Reconciler persists an enriched record.
type Reconciler interface {
	Reconcile(ctx context.Context, rec reconcile.Record) (reconcile.Result, error)
}

// Deps are the collaborators of a Pipeline. A nil Matcher or Normalizer
// skips that stage; a nil Reconciler makes every run query-only.
type Deps struct {
	Matcher    Matcher
	Normalizer Normalizer
	Resolver   Resolver
	Reconciler Reconciler
}

// Options tunes a Pipeline.
type Options struct {
	Concurrency  int
	RadiusMeters int
	QueryOnly    bool
	NoBoundary   bool
}

var errNoOutline = resilience.Imprecise("overpass", "row dropped without an outline")

// Pipeline enriches rows of one source at a time.
type Pipeline struct {
	deps Deps
	opts Options
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.RadiusMeters <= 0 {
		opts.RadiusMeters = 30
	}
	if deps.Reconciler == nil {
		opts.QueryOnly = true
	}
	return &Pipeline{deps: deps, opts: opts}
}

// Run enriches rows from src with bounded concurrency. Per-record failures
// become report events and never stop the batch. Cancelling ctx stops
// starting new records; records already reconciled stay committed and the
// partial report is returned with the context error.
func (p *Pipeline) Run(ctx context.Context, src dataset.Source, rows []dataset.Row) (*Report, error) {
	report := newReport(src.Label, len(rows))
	zap.L().Info("pipeline: run started",
		zap.String("run_id", report.RunID),
		zap.String("source", src.Label),
		zap.Int("rows", len(rows)),
		zap.Int("concurrency", p.opts.Concurrency),
		zap.Bool("query_only", p.opts.QueryOnly),
	)

	results := make([]*geo.EnrichedFeature, len(rows))
	var mu sync.Mutex
	sink := func(ev Event) {
		mu.Lock()
		report.add(ev)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i := range rows {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = p.enrichRow(ctx, src, rows[i], sink)
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range results {
		if f != nil {
			report.Features = append(report.Features, *f)
		}
	}
	report.finish()
	report.Log()

	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "pipeline: run cancelled")
	}
	return report, nil
}

// enrichRow runs every stage for one row. It returns nil when the row yields
// no feature.
func (p *Pipeline) enrichRow(ctx context.Context, src dataset.Source, row dataset.Row, sink func(Event)) *geo.EnrichedFeature {
	company := value(src, row, dataset.ColCompanyName)
	fail := func(stage Stage, err error) {
		sink(Event{Row: row.Line, Company: company, Stage: stage, Kind: resilience.KindOf(err), Err: err})
	}

	point, plusCode, err := p.coordinate(ctx, src, row)
	if err != nil {
		fail(StageResolve, err)
		return nil
	}

	feature := &geo.EnrichedFeature{
		Point:       &point,
		CompanyName: company,
		EntityType:  value(src, row, dataset.ColEntityType),
		Tags:        tags(src, row),
	}

	if !p.opts.NoBoundary && p.deps.Matcher != nil {
		boundary, err := p.deps.Matcher.NearestContaining(ctx, point, p.opts.RadiusMeters)
		switch {
		case err != nil:
			fail(StageBoundary, err)
		case boundary == nil:
			fail(StageBoundary, resilience.Imprecise("overpass", "no outline contains the point"))
		default:
			feature.Boundary = boundary
		}
	}

	// Without a fallback the outline is final, so drop before spending an
	// address lookup.
	if src.RequireBoundary && feature.Boundary == nil && src.BoundaryFallback == "" {
		fail(StageBoundary, errNoOutline)
		return nil
	}
	p.address(ctx, src, point, feature, fail)
	if src.RequireBoundary && feature.Boundary == nil {
		fail(StageBoundary, errNoOutline)
		return nil
	}
	sink(Event{Row: row.Line, Company: company, Stage: StageEnriched, Boundary: feature.Boundary != nil, Address: !feature.Address.Empty()})

	if p.opts.QueryOnly {
		return feature
	}

	rec := reconcile.Record{
		CompanyName: company,
		Coordinate:  &point,
		Meta:        meta(src, row, feature, plusCode),
		Features:    []geo.EnrichedFeature{*feature},
		DataSource:  src.Label,
	}
	res, err := p.deps.Reconciler.Reconcile(ctx, rec)
	if err != nil {
		fail(StageReconcile, err)
		return feature
	}
	sink(Event{Row: row.Line, Company: company, Stage: StagePersisted, Attached: res.FeaturesAttached})
	return feature
}

// coordinate returns the row's point and, for plus-code rows, the full code
// it decoded from.
func (p *Pipeline) coordinate(ctx context.Context, src dataset.Source, row dataset.Row) (geo.Coordinate, string, error) {
	if row.Coordinate != nil {
		return *row.Coordinate, "", nil
	}
	if src.PlusCodeColumn == "" {
		return geo.Coordinate{}, "", resilience.Tag(resilience.KindInvalidInput, "",
			eris.New("pipeline: row has no coordinate"))
	}

	cell := row.Get(src.PlusCodeColumn)
	if cell == "" {
		return geo.Coordinate{}, "", resilience.Tag(resilience.KindInvalidInput, "",
			eris.Errorf("pipeline: empty %s", src.PlusCodeColumn))
	}
	if p.deps.Resolver == nil {
		return geo.Coordinate{}, "", resilience.Tag(resilience.KindFatal, "",
			eris.New("pipeline: no plus code resolver configured"))
	}

	code, area := pluscode.SplitCodeAndArea(cell)
	c, err := p.deps.Resolver.Resolve(ctx, code, pluscode.Anchor{
		Postcode: row.Get(dataset.ColPostcode),
		AreaText: area,
	})
	if err != nil {
		return geo.Coordinate{}, "", err
	}
	return c, pluscode.Encode(c, 10), nil
}

// address fills feature.Address. When no outline matched and the source
// opts in, the reverse geocoder's polygon becomes the feature boundary.
func (p *Pipeline) address(ctx context.Context, src dataset.Source, point geo.Coordinate, feature *geo.EnrichedFeature, fail func(Stage, error)) {
	if p.deps.Normalizer == nil {
		return
	}

	if src.Address == dataset.AddressRegion {
		r, err := p.deps.Normalizer.RegionFromCoords(ctx, point)
		if err != nil {
			fail(StageAddress, err)
			return
		}
		feature.Address = r.Address()
		return
	}

	res, err := p.deps.Normalizer.Normalize(ctx, point)
	if err != nil {
		fail(StageAddress, err)
		return
	}
	feature.Address = res.Address
	if src.BoundaryFallback == dataset.BoundaryFallbackNominatim &&
		feature.Boundary == nil && res.Boundary != nil && !p.opts.NoBoundary {
		feature.Boundary = res.Boundary
	}
}

// value returns the row's column value, falling back to the source default.
func value(src dataset.Source, row dataset.Row, col string) string {
	if v := row.Get(col); v != "" {
		return v
	}
	return src.Defaults[col]
}

func meta(src dataset.Source, row dataset.Row, f *geo.EnrichedFeature, plusCode string) store.LocationMeta {
	country := value(src, row, dataset.ColCountry)
	if country == "" {
		country = f.Address.Country
	}
	ref := strconv.Itoa(row.Line)
	if src.SourceRefColumn != "" {
		ref = row.Get(src.SourceRefColumn)
	}
	return store.LocationMeta{
		EntityType:  f.EntityType,
		Country:     country,
		CountryCode: f.Address.CountryCode,
		Postcode:    value(src, row, dataset.ColPostcode),
		PlusCode:    plusCode,
		State:       value(src, row, dataset.ColState),
		StateCode:   value(src, row, dataset.ColStateCode),
		County:      value(src, row, dataset.ColCounty),
		DUNSNumber:  value(src, row, dataset.ColDUNS),
		Source:      src.Label,
		SourceRef:   ref,
	}
}

// consumed columns are never copied into tags by TagAll.
var consumed = map[string]bool{
	dataset.ColCompanyName: true,
	dataset.ColEntityType:  true,
	dataset.ColLatitude:    true,
	dataset.ColLongitude:   true,
}

func tags(src dataset.Source, row dataset.Row) map[string]string {
	cols := src.Tags
	if src.TagAll {
		cols = make([]string, 0, len(row.Values))
		for col := range row.Values {
			if !consumed[col] && col != src.PlusCodeColumn && col != src.SourceRefColumn {
				cols = append(cols, col)
			}
		}
	}
	if len(cols) == 0 {
		return nil
	}

	out := make(map[string]string, len(cols))
	for _, col := range cols {
		v := row.Get(col)
		if v == "" {
			v = src.TagDefault
		}
		out[TagKey(col)] = v
	}
	return out
}

// TagKey converts a column header to a snake_case property name.
func TagKey(col string) string {
	return strings.Join(strings.Fields(strings.ToLower(col)), "_")
}

func newReport(source string, rows int) *Report {
	return &Report{
		RunID:     uuid.New().String(),
		Source:    source,
		Rows:      rows,
		StartedAt: time.Now().UTC(),
	}
}
