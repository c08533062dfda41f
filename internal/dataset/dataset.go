// Package dataset loads facility source tables into cleaned, renamed rows.
package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/facility-enrich/internal/fetcher"
	"github.com/sells-group/facility-enrich/internal/geo"
)

// Format is a source table encoding.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Sentinel load failures. ErrFileNotFound is fatal for a run.
var (
	ErrFileNotFound = errors.New("dataset: file not found")
	ErrParse        = errors.New("dataset: parse error")
)

// Source column names that are not renamed.
const (
	ColLatitude  = "Latitude"
	ColLongitude = "Longitude"
)

// Canonical column names.
const (
	ColCompanyName = "company_name"
	ColEntityType  = "entity_type"
	ColCountry     = "country"
	ColPostcode    = "postcode"
	ColDUNS        = "duns_number"
	ColState       = "state"
	ColStateCode   = "state_code"
	ColCounty      = "county"
)

// DefaultRename maps corporate export headers to canonical column names.
var DefaultRename = map[string]string{
	"Company Name":                   ColCompanyName,
	"Entity Type":                    ColEntityType,
	"Country/Region":                 ColCountry,
	"Postal Code":                    ColPostcode,
	"D-U-N-S® Number":                ColDUNS,
	"State Or Province":              ColState,
	"State Or Province Abbreviation": ColStateCode,
	"County":                         ColCounty,
}

// Row is one cleaned source record.
type Row struct {
	// Line is the 1-based row number in the source file.
	Line   int
	Values map[string]string
	// Coordinate is nil when either coordinate is missing or non-numeric.
	Coordinate *geo.Coordinate
}

// Get returns the value of col, or "".
func (r Row) Get(col string) string {
	return r.Values[col]
}

// Options controls a load.
type Options struct {
	Format    Format // detected from the file extension when empty
	Sheet     string // XLSX worksheet; first sheet when empty
	Delimiter rune   // CSV only
	Filter    string // expr boolean expression; empty keeps every row
	// Rename entries are applied on top of DefaultRename.
	Rename map[string]string
	// RequireCoordinates drops rows without a usable coordinate.
	RequireCoordinates bool
}

// Load reads path with the default rename table and drops rows without
// coordinates.
func Load(ctx context.Context, path, filterExpr string, format Format) ([]Row, error) {
	return LoadWithOptions(ctx, path, Options{
		Format:             format,
		Filter:             filterExpr,
		RequireCoordinates: true,
	})
}

// LoadWithOptions reads, filters, renames, cleans and coerces the table at
// path. Filters see the raw cells.
func LoadWithOptions(ctx context.Context, path string, opts Options) ([]Row, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrFileNotFound, "dataset: %s", path)
		}
		return nil, eris.Wrapf(err, "dataset: stat %s", path)
	}

	format := opts.Format
	if format == "" {
		format = DetectFormat(path)
	}

	filter, err := CompileFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	recs, err := read(ctx, path, format, opts)
	if err != nil {
		return nil, eris.Wrapf(ErrParse, "dataset: read %s: %v", path, err)
	}

	rename := mergeRename(opts.Rename)
	delimited := format == FormatCSV

	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		raw := rec.Map()
		keep, err := filter.Match(filterEnv(raw, rename))
		var evalErr *evalError
		if errors.As(err, &evalErr) {
			// Type mismatches on malformed cells exclude the row.
			zap.L().Debug("dataset: filter skipped row",
				zap.String("path", path), zap.Int("row", rec.Line), zap.Error(evalErr.err))
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(ErrParse, "dataset: filter row %d: %v", rec.Line, err)
		}
		if !keep {
			continue
		}

		values := make(map[string]string, len(raw))
		for col, v := range raw {
			if to, ok := rename[col]; ok {
				col = to
			}
			values[col] = strings.TrimSpace(v)
		}
		if delimited {
			stripDecorations(values)
		}

		row := Row{Line: rec.Line, Values: values, Coordinate: coerceCoordinate(values)}
		if opts.RequireCoordinates && row.Coordinate == nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DetectFormat guesses the format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

func read(ctx context.Context, path string, format Format, opts Options) ([]fetcher.Record, error) {
	switch format {
	case FormatCSV:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return fetcher.Collect(fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{Delimiter: opts.Delimiter, LazyQuotes: true}))
	case FormatXLSX:
		return fetcher.Collect(fetcher.StreamXLSX(ctx, path, fetcher.XLSXOptions{SheetName: opts.Sheet}))
	default:
		return nil, eris.Errorf("unsupported format %q", format)
	}
}

// filterEnv exposes the raw cells to filters under their source headers and,
// for renamed headers, under the canonical name too.
func filterEnv(raw, rename map[string]string) map[string]string {
	env := make(map[string]string, len(raw)*2)
	for col, v := range raw {
		v = strings.TrimSpace(v)
		env[col] = v
		if to, ok := rename[col]; ok {
			env[to] = v
		}
	}
	return env
}

func mergeRename(extra map[string]string) map[string]string {
	m := make(map[string]string, len(DefaultRename)+len(extra))
	for k, v := range DefaultRename {
		m[k] = v
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// stripDecorations removes the stray quote marks corporate exports leave
// around coordinates and names.
func stripDecorations(values map[string]string) {
	for _, col := range []string{ColLatitude, ColLongitude} {
		if v, ok := values[col]; ok {
			v = strings.NewReplacer("'", "", "`", "").Replace(v)
			values[col] = strings.TrimSpace(v)
		}
	}
	if v, ok := values[ColCompanyName]; ok {
		values[ColCompanyName] = strings.Trim(v, "'` \t")
	}
}

func coerceCoordinate(values map[string]string) *geo.Coordinate {
	lat, ok := geo.ParseDegrees(values[ColLatitude])
	if !ok {
		return nil
	}
	lon, ok := geo.ParseDegrees(values[ColLongitude])
	if !ok {
		return nil
	}
	c, err := geo.NewCoordinate(lat, lon)
	if err != nil {
		return nil
	}
	return &c
}

// Filter is a compiled row predicate.
type Filter struct {
	src     string
	program *vm.Program
}

type evalError struct{ err error }

func (e *evalError) Error() string { return "evaluate filter: " + e.err.Error() }

// CompileFilter compiles src. An empty src matches every row. Column names
// that are not identifiers are reachable as $env["Column Name"].
func CompileFilter(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return &Filter{}, nil
	}
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, eris.Wrapf(ErrParse, "dataset: compile filter %q: %v", src, err)
	}
	return &Filter{src: src, program: program}, nil
}

// Match evaluates the filter against one row. Numeric-looking values are
// exposed as numbers so range comparisons work.
func (f *Filter) Match(values map[string]string) (bool, error) {
	if f == nil || f.program == nil {
		return true, nil
	}
	env := make(map[string]any, len(values))
	for k, v := range values {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			env[k] = n
		} else {
			env[k] = v
		}
	}
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, &evalError{err: err}
	}
	keep, ok := out.(bool)
	if !ok {
		return false, eris.Errorf("filter %q returned %T, not bool", f.src, out)
	}
	return keep, nil
}
