package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/facility-enrich/internal/geo"
)

// WriteOutput writes features to path as an indented GeoJSON
// FeatureCollection, creating parent directories.
func WriteOutput(path string, features []geo.EnrichedFeature) error {
	data, err := json.MarshalIndent(geo.FeatureCollection(features), "", "    ")
	if err != nil {
		return eris.Wrap(err, "pipeline: encode output")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "pipeline: create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write %s", path)
	}
	return nil
}
