// Package pluscode resolves Open Location Codes to coordinates. Full codes
// decode offline; short codes are recovered against an anchor resolved by a
// postcode or free-text lookup.
package pluscode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	olc "github.com/google/open-location-code/go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-enrich/internal/geo"
	"github.com/sells-group/facility-enrich/internal/resilience"
)

const providerName = "pluscode"

// Resolution failures. Each is returned inside a resilience.Error so both
// errors.Is and resilience.KindOf apply.
var (
	ErrInvalidCode    = errors.New("pluscode: invalid code")
	ErrAnchorRequired = errors.New("pluscode: short code requires an anchor")
	ErrProvider       = errors.New("pluscode: anchor lookup failed")
)

// Anchor locates a short code. Postcode takes precedence over AreaText.
type Anchor struct {
	Postcode string
	AreaText string
}

// Empty reports whether neither anchor field is set.
func (a Anchor) Empty() bool {
	return strings.TrimSpace(a.Postcode) == "" && strings.TrimSpace(a.AreaText) == ""
}

// PostcodeLookup resolves a postcode to its centroid.
type PostcodeLookup interface {
	Lookup(ctx context.Context, postcode string) (geo.Coordinate, error)
}

// TextGeocoder resolves free text such as "London, UK" to a coordinate.
type TextGeocoder interface {
	GeocodeText(ctx context.Context, text string) (geo.Coordinate, error)
}

// Resolver decodes full and short plus codes. Either lookup may be nil, in
// which case anchors of that kind fail with ErrProvider.
type Resolver struct {
	postcodes PostcodeLookup
	text      TextGeocoder
}

// NewResolver creates a Resolver.
func NewResolver(postcodes PostcodeLookup, text TextGeocoder) *Resolver {
	return &Resolver{postcodes: postcodes, text: text}
}

// Resolve returns the center of the cell identified by code.
func (r *Resolver) Resolve(ctx context.Context, code string, anchor Anchor) (geo.Coordinate, error) {
	code = normalize(code)

	if olc.CheckFull(code) == nil {
		return Decode(code)
	}
	if olc.CheckShort(code) != nil {
		return geo.Coordinate{}, invalid(code)
	}
	if anchor.Empty() {
		return geo.Coordinate{}, resilience.Tag(resilience.KindInvalidInput, providerName,
			eris.Wrapf(ErrAnchorRequired, "pluscode: %s", code))
	}

	ref, err := r.anchor(ctx, anchor)
	if err != nil {
		return geo.Coordinate{}, resilience.Unavailable(providerName, fmt.Errorf("%w: %w", ErrProvider, err))
	}

	full, err := olc.RecoverNearest(code, ref.Lat, ref.Lon)
	if err != nil {
		return geo.Coordinate{}, invalid(code)
	}
	return Decode(full)
}

func (r *Resolver) anchor(ctx context.Context, a Anchor) (geo.Coordinate, error) {
	if pc := strings.TrimSpace(a.Postcode); pc != "" {
		if r.postcodes == nil {
			return geo.Coordinate{}, eris.New("no postcode lookup configured")
		}
		return r.postcodes.Lookup(ctx, pc)
	}
	if r.text == nil {
		return geo.Coordinate{}, eris.New("no text geocoder configured")
	}
	return r.text.GeocodeText(ctx, strings.TrimSpace(a.AreaText))
}

// Decode returns the center of a full code.
func Decode(code string) (geo.Coordinate, error) {
	code = normalize(code)
	if olc.CheckFull(code) != nil {
		return geo.Coordinate{}, invalid(code)
	}
	area, err := olc.Decode(code)
	if err != nil {
		return geo.Coordinate{}, invalid(code)
	}
	lat, lon := area.Center()
	return geo.Coordinate{Lat: lat, Lon: lon}, nil
}

// Encode returns the full code of length digits containing c.
func Encode(c geo.Coordinate, length int) string {
	return olc.Encode(c.Lat, c.Lon, length)
}

// Valid reports whether code is a well-formed full or short code.
func Valid(code string) bool {
	return olc.Check(normalize(code)) == nil
}

// IsFull reports whether code is a well-formed full code.
func IsFull(code string) bool {
	return olc.CheckFull(normalize(code)) == nil
}

// SplitCodeAndArea splits a cell such as "GV9C+5W London, UK" into the code
// and the trailing area text.
func SplitCodeAndArea(s string) (code, area string) {
	s = strings.TrimSpace(s)
	code, area, _ = strings.Cut(s, " ")
	return code, strings.TrimSpace(area)
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func invalid(code string) error {
	return resilience.Tag(resilience.KindInvalidInput, providerName, eris.Wrapf(ErrInvalidCode, "pluscode: %q", code))
}
