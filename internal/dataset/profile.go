package dataset

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile lists the source tables a seed run enriches.
type Profile struct {
	Sources []Source `yaml:"sources"`
}

// Source describes one source table and how its rows map onto facilities.
type Source struct {
	Name      string            `yaml:"name"`
	Path      string            `yaml:"path"`
	Format    Format            `yaml:"format"`
	Sheet     string            `yaml:"sheet"`
	Delimiter string            `yaml:"delimiter"`
	Filter    string            `yaml:"filter"`
	Rename    map[string]string `yaml:"rename"`
	// PlusCodeColumn names a column holding "<code> <area text>" cells.
	// Sources with one do not require coordinates.
	PlusCodeColumn string `yaml:"plus_code_column"`
	// Label is stored as the location source; defaults to Name.
	Label           string `yaml:"label"`
	SourceRefColumn string `yaml:"source_ref_column"`
	// Tags lists extra columns copied onto each feature as snake_case
	// properties. TagAll copies every column not otherwise consumed.
	Tags       []string `yaml:"tags"`
	TagAll     bool     `yaml:"tag_all"`
	TagDefault string   `yaml:"tag_default"`
	// Defaults fills blank canonical columns, e.g. entity_type: Branch.
	Defaults map[string]string `yaml:"defaults"`
	// Address selects the address provider chain: "auto" tries reverse
	// geocoding first, "region" uses only the locality lookup.
	Address string `yaml:"address"`
	// RequireBoundary drops rows with no containing outline.
	RequireBoundary bool `yaml:"require_boundary"`
	// BoundaryFallback names a provider whose polygon is adopted when no
	// outline contains the point. Empty keeps the bare point.
	BoundaryFallback string `yaml:"boundary_fallback"`
}

// Address modes.
const (
	AddressAuto   = "auto"
	AddressRegion = "region"
)

// BoundaryFallbackNominatim adopts the reverse geocoder's polygon.
const BoundaryFallbackNominatim = "nominatim"

// LoadProfile reads a profile from a YAML file. Relative source paths are
// resolved against the profile's directory.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrapf(ErrFileNotFound, "dataset: profile %s", path)
		}
		return nil, eris.Wrapf(err, "dataset: read profile %s", path)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(ErrParse, "dataset: parse profile %s: %v", path, err)
	}

	base := filepath.Dir(path)
	for i := range p.Sources {
		s := &p.Sources[i]
		if s.Path == "" {
			return nil, eris.Wrapf(ErrParse, "dataset: profile source %d has no path", i)
		}
		if !filepath.IsAbs(s.Path) {
			s.Path = filepath.Join(base, s.Path)
		}
		if s.Name == "" {
			s.Name = filepath.Base(s.Path)
		}
		if s.Label == "" {
			s.Label = s.Name
		}
		switch s.Address {
		case "":
			s.Address = AddressAuto
		case AddressAuto, AddressRegion:
		default:
			return nil, eris.Wrapf(ErrParse, "dataset: profile source %s: unknown address mode %q", s.Name, s.Address)
		}
		switch s.BoundaryFallback {
		case "", BoundaryFallbackNominatim:
		default:
			return nil, eris.Wrapf(ErrParse, "dataset: profile source %s: unknown boundary fallback %q", s.Name, s.BoundaryFallback)
		}
	}
	return &p, nil
}

// Options converts the source into load options.
func (s Source) Options() Options {
	var delim rune
	if s.Delimiter != "" {
		delim = []rune(s.Delimiter)[0]
	}
	return Options{
		Format:             s.Format,
		Sheet:              s.Sheet,
		Delimiter:          delim,
		Filter:             s.Filter,
		Rename:             s.Rename,
		RequireCoordinates: s.PlusCodeColumn == "",
	}
}
