package overpass

import (
	"fmt"
	"strings"

	"github.com/sells-group/facility-enrich/internal/geo"
)

// excludedKeys are tags whose elements are never facility outlines.
var excludedKeys = []string{"highway", "natural", "waterway", "amenity"}

func nearestQuery(p geo.Coordinate, radius int) string {
	var filters strings.Builder
	for _, k := range excludedKeys {
		fmt.Fprintf(&filters, `[!"%s"]`, k)
	}
	around := fmt.Sprintf("(around:%d,%s,%s)", radius, formatDeg(p.Lat), formatDeg(p.Lon))

	return fmt.Sprintf(`[out:json][timeout:150];
(
  way%[1]s%[2]s;
  relation%[1]s%[2]s;
);
out geom;`, around, filters.String())
}

func regionQuery(regionCode, pattern string, timeoutSecs int) string {
	pattern = quote(pattern)
	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n", timeoutSecs)
	fmt.Fprintf(&b, "area[\"ISO3166-2\"=\"%s\"]->.searchArea;\n(\n", quote(regionCode))
	for _, kind := range []string{"way", "relation"} {
		for _, tag := range []string{"brand", "name"} {
			fmt.Fprintf(&b, "  %s[\"%s\"~\"%s\",i][\"highway\"!~\".\"](area.searchArea);\n", kind, tag, pattern)
		}
	}
	b.WriteString(");\nout geom;")
	return b.String()
}

func formatDeg(v float64) string {
	return fmt.Sprintf("%.7f", v)
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(s string) string {
	return quoter.Replace(s)
}
