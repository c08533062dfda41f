package geocode

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

// Reverser reverse geocodes a point into an address and boundary.
type Reverser interface {
	ReverseGeocode(ctx context.Context, p geo.Coordinate) (*geo.AddressInfo, *geo.BoundaryFeature, error)
}

// RegionLocator returns the locality and country around a point.
type RegionLocator interface {
	RegionFromCoords(ctx context.Context, p geo.Coordinate) (Region, error)
}

// Result is a normalized address plus the boundary the primary provider
// matched, if any.
type Result struct {
	Address  geo.AddressInfo
	Boundary *geo.BoundaryFeature
	Source   string
}

// Normalizer turns coordinates into address metadata, trying the primary
// reverser before the secondary region locator. Outcomes are memoised per
// rounded coordinate. Provider failures are never cached.
type Normalizer struct {
	primary   Reverser
	secondary RegionLocator
	cache     *gocache.Cache
}

type reverseEntry struct {
	info     *geo.AddressInfo
	boundary *geo.BoundaryFeature
	err      error
}

type regionEntry struct {
	region Region
}

// NewNormalizer creates a Normalizer. Either provider may be nil. A
// non-positive ttl keeps entries for the life of the process.
func NewNormalizer(primary Reverser, secondary RegionLocator, ttl time.Duration) *Normalizer {
	exp := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		exp = ttl
		cleanup = 2 * ttl
	}
	return &Normalizer{primary: primary, secondary: secondary, cache: gocache.New(exp, cleanup)}
}

// ReverseGeocode calls the primary reverser through the cache.
func (n *Normalizer) ReverseGeocode(ctx context.Context, p geo.Coordinate) (*geo.AddressInfo, *geo.BoundaryFeature, error) {
	if n.primary == nil {
		return nil, nil, resilience.Unavailable(nominatimProvider, errNotConfigured)
	}
	key := "reverse:" + p.CacheKey()
	if v, ok := n.cache.Get(key); ok {
		e := v.(reverseEntry)
		return e.info, e.boundary, e.err
	}

	info, boundary, err := n.primary.ReverseGeocode(ctx, p)
	if err == nil || resilience.Is(err, resilience.KindInsufficientPrecision) {
		n.cache.SetDefault(key, reverseEntry{info: info, boundary: boundary, err: err})
	}
	return info, boundary, err
}

// RegionFromCoords calls the secondary locator through the cache.
func (n *Normalizer) RegionFromCoords(ctx context.Context, p geo.Coordinate) (Region, error) {
	if n.secondary == nil {
		return Region{}, resilience.Unavailable(googleProvider, errNotConfigured)
	}
	key := "region:" + p.CacheKey()
	if v, ok := n.cache.Get(key); ok {
		return v.(regionEntry).region, nil
	}

	r, err := n.secondary.RegionFromCoords(ctx, p)
	if err != nil {
		return Region{}, err
	}
	n.cache.SetDefault(key, regionEntry{region: r})
	return r, nil
}

// Normalize returns address metadata for p. The secondary supplies locality
// and country, without a boundary, only when the primary is unavailable. A
// primary result dropped for precision leaves the address empty and its
// error is returned.
func (n *Normalizer) Normalize(ctx context.Context, p geo.Coordinate) (Result, error) {
	info, boundary, err := n.ReverseGeocode(ctx, p)
	switch {
	case err == nil && info != nil:
		return Result{Address: *info, Boundary: boundary, Source: nominatimProvider}, nil
	case err == nil:
		return Result{}, resilience.Imprecise(nominatimProvider, "no address at point")
	case !resilience.Is(err, resilience.KindProviderUnavailable):
		return Result{}, err
	}
	zap.L().Debug("geocode: primary reverse geocode unavailable",
		zap.String("point", p.String()),
		zap.Error(err))

	r, rerr := n.RegionFromCoords(ctx, p)
	if rerr != nil {
		return Result{}, rerr
	}
	if r.Empty() {
		return Result{}, resilience.Imprecise(googleProvider, "no locality or country at point")
	}
	return Result{Address: r.Address(), Source: googleProvider}, nil
}

// Len returns the number of cached entries.
func (n *Normalizer) Len() int {
	return n.cache.ItemCount()
}
