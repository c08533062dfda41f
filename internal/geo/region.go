package geo

import (
	"strings"
	"sync"

	"github.com/pariz/gountries"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// CountryName returns the English name for an ISO 3166-1 alpha-2 code, or ""
// when the code is unknown.
func CountryName(alpha2 string) string {
	alpha2 = strings.ToUpper(strings.TrimSpace(alpha2))
	if len(alpha2) != 2 {
		return ""
	}
	region, err := language.ParseRegion(alpha2)
	if err != nil || !region.IsCountry() {
		return ""
	}
	return display.English.Regions().Name(region)
}

// SplitRegionCode splits an ISO 3166-2 code such as "US-CA" into its country
// part and the full subdivision code. A bare country code returns itself for both.
func SplitRegionCode(code string) (country, subdivision string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	country, _, _ = strings.Cut(code, "-")
	return country, code
}

// SubdivisionName returns the name of an ISO 3166-2 subdivision such as
// "US-CA" or "DE-BY", or "" when the code is unknown.
func SubdivisionName(code string) string {
	country, sub, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(code)), "-")
	if !ok || sub == "" {
		return ""
	}
	c, err := countries().FindCountryByAlpha(country)
	if err != nil {
		return ""
	}
	for _, d := range c.SubDivisions() {
		if strings.EqualFold(d.Code, sub) {
			return d.Name
		}
	}
	return ""
}

var countries = sync.OnceValue(gountries.New)
