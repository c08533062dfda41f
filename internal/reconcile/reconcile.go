// Package reconcile merges enriched records into persisted companies,
// locations and features without duplicating companies or locations.
package reconcile

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
	"github.com/sells-group/facility-enrich/internal/store"
)

// UnknownCompany names records whose company name is blank.
const UnknownCompany = "Unknown"

// Policy decides what happens to a feature that matches one already attached
// to the same location.
type Policy string

// Feature policies.
const (
	// PolicyAppend always inserts, so repeated runs accumulate features.
	PolicyAppend Policy = "append"
	// PolicySkipDuplicate skips features with the same source, OSM identity
	// and bounding box as an existing one.
	PolicySkipDuplicate Policy = "skip_duplicate"
)

// ParsePolicy validates a configured policy name. Empty means append.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyAppend:
		return PolicyAppend, nil
	case PolicySkipDuplicate:
		return PolicySkipDuplicate, nil
	default:
		return "", eris.Errorf("reconcile: unknown feature policy %q", s)
	}
}

// Record is one enriched input row ready to persist.
type Record struct {
	CompanyName string
	Coordinate  *geo.Coordinate
	Meta        store.LocationMeta
	Features    []geo.EnrichedFeature
	DataSource  string
}

// Result reports what Reconcile wrote.
type Result struct {
	CompanyID        int64
	LocationID       int64
	FeaturesAttached int
	FeaturesSkipped  int
}

// Engine reconciles records against a store.
type Engine struct {
	store  store.Store
	policy Policy
}

// New creates an Engine.
func New(st store.Store, policy Policy) *Engine {
	if policy == "" {
		policy = PolicyAppend
	}
	return &Engine{store: st, policy: policy}
}

// Policy returns the engine's feature policy.
func (e *Engine) Policy() Policy { return e.policy }

// Reconcile upserts the company and location of rec and attaches its
// features, all in one transaction.
func (e *Engine) Reconcile(ctx context.Context, rec Record) (Result, error) {
	var res Result
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if res.CompanyID, err = UpsertCompany(ctx, tx, rec.CompanyName); err != nil {
			return err
		}
		if res.LocationID, err = UpsertLocation(ctx, tx, res.CompanyID, rec.Coordinate, rec.Meta); err != nil {
			return err
		}
		for i := range rec.Features {
			attached, err := e.AttachFeature(ctx, tx, res.LocationID, rec.Features[i], rec.DataSource)
			if err != nil {
				return err
			}
			if attached {
				res.FeaturesAttached++
			} else {
				res.FeaturesSkipped++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// NormalizeName composes, trims and collapses internal whitespace. A blank
// name becomes UnknownCompany.
func NormalizeName(name string) string {
	name = strings.Join(strings.Fields(norm.NFC.String(name)), " ")
	if name == "" {
		return UnknownCompany
	}
	return name
}

// UpsertCompany returns the id of the company named name, creating it when
// absent.
func UpsertCompany(ctx context.Context, tx store.Tx, name string) (int64, error) {
	name = NormalizeName(name)

	id, found, err := tx.FindCompany(ctx, name)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	id, inserted, err := tx.InsertCompany(ctx, name)
	if err != nil {
		return 0, err
	}
	if inserted {
		return id, nil
	}

	// Lost a race with a concurrent insert.
	id, found, err = tx.FindCompany(ctx, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, resilience.Tag(resilience.KindPersistenceConflict, "store",
			eris.Errorf("reconcile: company %q conflicted but is not visible", name))
	}
	return id, nil
}

// UpsertLocation returns the id of the location of companyID at c, creating
// it when absent. Without a coordinate a new location is always created.
func UpsertLocation(ctx context.Context, tx store.Tx, companyID int64, c *geo.Coordinate, meta store.LocationMeta) (int64, error) {
	if c == nil {
		id, _, err := tx.InsertLocation(ctx, companyID, nil, nil, meta)
		return id, err
	}

	id, found, err := tx.FindLocation(ctx, companyID, c.Lat, c.Lon)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	lat, lon := c.Lat, c.Lon
	id, inserted, err := tx.InsertLocation(ctx, companyID, &lat, &lon, meta)
	if err != nil {
		return 0, err
	}
	if inserted {
		return id, nil
	}

	id, found, err = tx.FindLocation(ctx, companyID, c.Lat, c.Lon)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, resilience.Tag(resilience.KindPersistenceConflict, "store",
			eris.Errorf("reconcile: location %d@%s conflicted but is not visible", companyID, c))
	}
	return id, nil
}

// AttachFeature inserts f under locationID. Features without geometry, and
// duplicates under PolicySkipDuplicate, are skipped and report false.
func (e *Engine) AttachFeature(ctx context.Context, tx store.Tx, locationID int64, f geo.EnrichedFeature, dataSource string) (bool, error) {
	row, ok := FeatureRow(locationID, f, dataSource)
	if !ok {
		return false, nil
	}

	if e.policy == PolicySkipDuplicate {
		exists, err := tx.FeatureExists(ctx, row)
		if err != nil {
			return false, err
		}
		if exists {
			zap.L().Debug("reconcile: skipped duplicate feature",
				zap.Int64("location_id", locationID),
				zap.Int64("osm_id", row.OSMID))
			return false, nil
		}
	}

	if _, err := tx.InsertFeature(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

// FeatureRow converts an enriched feature to its persisted form. It reports
// false when the feature has no geometry.
func FeatureRow(locationID int64, f geo.EnrichedFeature, dataSource string) (store.Feature, bool) {
	g := f.Geometry()
	if g == nil {
		return store.Feature{}, false
	}

	row := store.Feature{
		LocationID: locationID,
		Geometry:   g,
		Address:    f.Address.DisplayName,
		DataSource: dataSource,
	}
	if f.Boundary != nil {
		row.BBox = f.Boundary.BBox()
		row.OSMID = f.Boundary.OSMID
		row.OSMType = f.Boundary.OSMType
	} else {
		b := g.Bounds()
		row.BBox = [4]float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}
	}
	return row, true
}

// SeedIfEmpty runs seed only when no feature is persisted yet, or when force
// is set. It reports whether seed ran.
func SeedIfEmpty(ctx context.Context, st store.Store, force bool, seed func(ctx context.Context) error) (bool, error) {
	counts, err := st.Counts(ctx)
	if err != nil {
		return false, eris.Wrap(err, "reconcile: count features")
	}
	if counts.Features > 0 && !force {
		zap.L().Info("reconcile: store already seeded, skipping",
			zap.Int("features", counts.Features))
		return false, nil
	}
	if err := seed(ctx); err != nil {
		return true, err
	}
	return true, nil
}
