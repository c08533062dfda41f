package pluscode

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

type fakePostcodes struct {
	coord geo.Coordinate
	err   error
	calls int
}

func (f *fakePostcodes) Lookup(context.Context, string) (geo.Coordinate, error) {
	f.calls++
	return f.coord, f.err
}

type fakeText struct {
	coord geo.Coordinate
	got   string
}

func (f *fakeText) GeocodeText(_ context.Context, text string) (geo.Coordinate, error) {
	f.got = text
	return f.coord, nil
}

var london = geo.Coordinate{Lat: 51.5007, Lon: -0.1246}

func TestDecode_RoundTrip(t *testing.T) {
	for _, c := range []geo.Coordinate{london, {Lat: 40.7484, Lon: -73.9857}, {Lat: -33.8568, Lon: 151.2153}} {
		code := Encode(c, 10)
		require.True(t, IsFull(code), code)

		center, err := Decode(code)
		require.NoError(t, err)
		assert.InDelta(t, c.Lat, center.Lat, 0.0002)
		assert.InDelta(t, c.Lon, center.Lon, 0.0002)

		again, err := Decode(Encode(center, 10))
		require.NoError(t, err)
		assert.Equal(t, center, again)
	}
}

func TestResolve_FullCodeNoNetwork(t *testing.T) {
	pc := &fakePostcodes{}
	r := NewResolver(pc, nil)

	code := Encode(london, 10)
	got, err := r.Resolve(context.Background(), code, Anchor{})
	require.NoError(t, err)
	assert.InDelta(t, london.Lat, got.Lat, 0.0002)
	assert.Equal(t, 0, pc.calls)
}

func TestResolve_ShortCodeWithPostcode(t *testing.T) {
	full := Encode(london, 10)
	short := full[4:]
	pc := &fakePostcodes{coord: geo.Coordinate{Lat: 51.501, Lon: -0.1416}}
	r := NewResolver(pc, nil)

	first, err := r.Resolve(context.Background(), short, Anchor{Postcode: "SW1A 1AA"})
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), short, Anchor{Postcode: "SW1A 1AA"})
	require.NoError(t, err)

	assert.Equal(t, first, second, "same anchor resolves identically")
	want, _ := Decode(full)
	assert.Equal(t, want, first)
	assert.Equal(t, 2, pc.calls)
}

func TestResolve_ShortCodeWithAreaText(t *testing.T) {
	full := Encode(london, 10)
	text := &fakeText{coord: geo.Coordinate{Lat: 51.5072, Lon: -0.1276}}
	r := NewResolver(nil, text)

	got, err := r.Resolve(context.Background(), full[4:], Anchor{AreaText: " London, UK "})
	require.NoError(t, err)
	want, _ := Decode(full)
	assert.Equal(t, want, got)
	assert.Equal(t, "London, UK", text.got)
}

func TestResolve_ShortCodeNeedsAnchor(t *testing.T) {
	r := NewResolver(&fakePostcodes{}, nil)
	_, err := r.Resolve(context.Background(), Encode(london, 10)[4:], Anchor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAnchorRequired)
	assert.Equal(t, resilience.KindInvalidInput, resilience.KindOf(err))
}

func TestResolve_ProviderError(t *testing.T) {
	pc := &fakePostcodes{err: resilience.StatusError("postcodes", 404)}
	r := NewResolver(pc, nil)

	_, err := r.Resolve(context.Background(), Encode(london, 10)[4:], Anchor{Postcode: "ZZ1 1ZZ"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Equal(t, resilience.KindProviderUnavailable, resilience.KindOf(err))

	_, err = NewResolver(nil, nil).Resolve(context.Background(), Encode(london, 10)[4:], Anchor{AreaText: "London"})
	assert.ErrorIs(t, err, ErrProvider)
}

func TestResolve_InvalidCode(t *testing.T) {
	r := NewResolver(nil, nil)
	for _, code := range []string{"", "hello", "9C3X", "++++", "9C3XGV9C+5W+"} {
		_, err := r.Resolve(context.Background(), code, Anchor{Postcode: "SW1A 1AA"})
		require.Error(t, err, code)
		assert.True(t, errors.Is(err, ErrInvalidCode), code)
		assert.Equal(t, resilience.KindInvalidInput, resilience.KindOf(err), code)
	}
}

func TestValid(t *testing.T) {
	code := Encode(london, 10)
	assert.True(t, Valid(code))
	assert.True(t, Valid(code[4:]))
	assert.True(t, Valid(" "+code+" "))
	assert.False(t, Valid("not a code"))
	assert.False(t, IsFull(code[4:]))
}

func TestSplitCodeAndArea(t *testing.T) {
	code, area := SplitCodeAndArea("GV9C+5W London, UK")
	assert.Equal(t, "GV9C+5W", code)
	assert.Equal(t, "London, UK", area)

	code, area = SplitCodeAndArea("  9C3XGV9C+5W ")
	assert.Equal(t, "9C3XGV9C+5W", code)
	assert.Equal(t, "", area)
}
