package pipeline

import (
	"context"
	"iter"
	"slices"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/pkg/geocode"
	"github.com/sells-group/facility-enrich/pkg/pluscode"
)

// --- Matcher Mock ---

type mockMatcher struct {
	mock.Mock
}

func (m *mockMatcher) NearestContaining(ctx context.Context, point geo.Coordinate, radius int) (*geo.BoundaryFeature, error) {
	args := m.Called(ctx, point, radius)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*geo.BoundaryFeature), args.Error(1)
}

// --- Normalizer Mock ---

type mockNormalizer struct {
	mock.Mock
}

func (m *mockNormalizer) Normalize(ctx context.Context, p geo.Coordinate) (geocode.Result, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(geocode.Result), args.Error(1)
}

func (m *mockNormalizer) RegionFromCoords(ctx context.Context, p geo.Coordinate) (geocode.Region, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(geocode.Region), args.Error(1)
}

// --- Resolver Mock ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, code string, anchor pluscode.Anchor) (geo.Coordinate, error) {
	args := m.Called(ctx, code, anchor)
	return args.Get(0).(geo.Coordinate), args.Error(1)
}

// --- Region Searcher Fake ---

type fakeSearcher struct {
	features []geo.EnrichedFeature
	err      error
	fetches  int
	searches int
}

func (f *fakeSearcher) FetchRegion(context.Context, string, string, int) ([]geo.EnrichedFeature, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.features), nil
}

func (f *fakeSearcher) SearchRegion(context.Context, string, string, int) iter.Seq[geo.EnrichedFeature] {
	return func(yield func(geo.EnrichedFeature) bool) {
		f.searches++
		for _, feat := range f.features {
			if !yield(feat) {
				return
			}
		}
	}
}
