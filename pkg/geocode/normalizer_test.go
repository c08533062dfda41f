package geocode

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

type fakeReverser struct {
	calls    int
	info     *geo.AddressInfo
	boundary *geo.BoundaryFeature
	err      error
}

func (f *fakeReverser) ReverseGeocode(context.Context, geo.Coordinate) (*geo.AddressInfo, *geo.BoundaryFeature, error) {
	f.calls++
	return f.info, f.boundary, f.err
}

type fakeLocator struct {
	calls  int
	region Region
	err    error
}

func (f *fakeLocator) RegionFromCoords(context.Context, geo.Coordinate) (Region, error) {
	f.calls++
	return f.region, f.err
}

func TestNormalize_Primary(t *testing.T) {
	primary := &fakeReverser{info: &geo.AddressInfo{DisplayName: "London, United Kingdom", Country: "United Kingdom", CountryCode: "GB"}}
	secondary := &fakeLocator{}
	n := NewNormalizer(primary, secondary, 0)

	res, err := n.Normalize(context.Background(), london)
	require.NoError(t, err)
	assert.Equal(t, "nominatim", res.Source)
	assert.Equal(t, "London, United Kingdom", res.Address.DisplayName)
	assert.Equal(t, 0, secondary.calls)

	_, err = n.Normalize(context.Background(), geo.Coordinate{Lat: 51.5000001, Lon: -0.1200001})
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls, "rounded coordinate served from cache")
}

func TestNormalize_ImpreciseLeavesAddressEmpty(t *testing.T) {
	primary := &fakeReverser{err: resilience.Imprecise("nominatim", "dropped LineString geometry")}
	secondary := &fakeLocator{region: Region{City: "Paris, France", Country: "France", CountryCode: "FR"}}
	n := NewNormalizer(primary, secondary, 0)

	res, err := n.Normalize(context.Background(), london)
	require.Error(t, err)
	assert.True(t, resilience.Is(err, resilience.KindInsufficientPrecision))
	assert.True(t, res.Address.Empty())
	assert.Nil(t, res.Boundary)

	_, err = n.Normalize(context.Background(), london)
	require.Error(t, err)
	assert.Equal(t, 1, primary.calls, "imprecise outcome served from cache")
	assert.Equal(t, 0, secondary.calls)
}

func TestNormalize_FallsBackWhenPrimaryUnavailable(t *testing.T) {
	primary := &fakeReverser{err: resilience.StatusError("nominatim", 503)}
	secondary := &fakeLocator{region: Region{City: "Paris, France", Country: "France", CountryCode: "FR"}}
	n := NewNormalizer(primary, secondary, 0)

	res, err := n.Normalize(context.Background(), london)
	require.NoError(t, err)
	assert.Equal(t, "google", res.Source)
	assert.Nil(t, res.Boundary)
	assert.Equal(t, geo.AddressInfo{DisplayName: "Paris, France", Country: "France", CountryCode: "FR"}, res.Address)
}

func TestNormalize_ProviderFailureNotCached(t *testing.T) {
	primary := &fakeReverser{err: resilience.StatusError("nominatim", 503)}
	secondary := &fakeLocator{err: resilience.Unavailable("google", errors.New("down"))}
	n := NewNormalizer(primary, secondary, 0)

	_, err := n.Normalize(context.Background(), london)
	require.Error(t, err)
	assert.True(t, resilience.Is(err, resilience.KindProviderUnavailable))

	_, _ = n.Normalize(context.Background(), london)
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, 2, secondary.calls)
	assert.Equal(t, 0, n.Len())
}

func TestNormalize_EmptyRegion(t *testing.T) {
	n := NewNormalizer(nil, &fakeLocator{}, 0)

	_, err := n.Normalize(context.Background(), london)
	assert.True(t, resilience.Is(err, resilience.KindInsufficientPrecision))
}

func TestNormalize_NoProviders(t *testing.T) {
	n := NewNormalizer(nil, nil, 0)

	_, err := n.Normalize(context.Background(), london)
	assert.True(t, resilience.Is(err, resilience.KindProviderUnavailable))
}
