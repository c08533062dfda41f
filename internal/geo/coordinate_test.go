package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCoordinate(t *testing.T) {
	c, err := NewCoordinate(51.5, -0.12)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.12, 51.5}, c.XY())

	_, err = NewCoordinate(91, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = NewCoordinate(0, -181)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestParseDegrees(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12.34", 12.34, true},
		{" -0.12 ", -0.12, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDegrees(tt.in)
		assert.Equal(t, tt.ok, ok, "input=%q", tt.in)
		assert.InDelta(t, tt.want, got, 1e-12, "input=%q", tt.in)
	}
}

func TestCacheKey(t *testing.T) {
	a := Coordinate{Lat: 51.500001, Lon: -0.120001}
	b := Coordinate{Lat: 51.500002, Lon: -0.120002}
	assert.Equal(t, a.CacheKey(), b.CacheKey())
}

func TestCountryName(t *testing.T) {
	assert.Equal(t, "United Kingdom", CountryName("GB"))
	assert.Equal(t, "United States", CountryName("us"))
	assert.Equal(t, "", CountryName("XYZ"))
	assert.Equal(t, "", CountryName(""))
}

func TestSplitRegionCode(t *testing.T) {
	country, sub := SplitRegionCode("us-ca")
	assert.Equal(t, "US", country)
	assert.Equal(t, "US-CA", sub)

	country, sub = SplitRegionCode("GB")
	assert.Equal(t, "GB", country)
	assert.Equal(t, "GB", sub)
}

func TestSubdivisionName(t *testing.T) {
	assert.Equal(t, "California", SubdivisionName("US-CA"))
	assert.Equal(t, "California", SubdivisionName(" us-ca "))
	assert.NotEmpty(t, SubdivisionName("DE-BY"), "subdivisions outside US and GB resolve")
	assert.Equal(t, "", SubdivisionName("DE-XX"))
	assert.Equal(t, "", SubdivisionName("ZZ-AA"))
	assert.Equal(t, "", SubdivisionName("GB"))
}
