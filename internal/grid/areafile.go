package grid

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
)

// LoadAreaFile reads a GeoJSON outline. The area is named after the file
// unless the feature carries a "name" property.
func LoadAreaFile(path string) (SearchArea, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SearchArea{}, eris.Wrapf(err, "grid: read area file %s", path)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseArea(name, data)
}

// ParseArea builds an area from a GeoJSON geometry, feature or feature
// collection. The first polygon found is used; a multipolygon must have a
// single part.
func ParseArea(name string, data []byte) (SearchArea, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return SearchArea{}, eris.Wrap(err, "grid: decode area geojson")
	}

	var features []*geojson.Feature
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return SearchArea{}, eris.Wrap(err, "grid: decode area feature collection")
		}
		features = fc.Features
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return SearchArea{}, eris.Wrap(err, "grid: decode area feature")
		}
		features = []*geojson.Feature{f}
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return SearchArea{}, eris.Wrap(err, "grid: decode area geometry")
		}
		features = []*geojson.Feature{geojson.NewFeature(g.Geometry())}
	}

	for _, f := range features {
		poly, err := outline(name, f.Geometry)
		if err != nil {
			return SearchArea{}, err
		}
		if poly == nil {
			continue
		}
		if n := f.Properties.MustString("name", ""); n != "" {
			name = n
		}
		area := NewPolygonArea(name, poly)
		if err := area.Validate(); err != nil {
			return SearchArea{}, err
		}
		return area, nil
	}
	return SearchArea{}, &ConfigError{Field: "area_file", Value: name, Reason: "no polygon found"}
}

func outline(name string, g orb.Geometry) (orb.Polygon, error) {
	switch g := g.(type) {
	case orb.Polygon:
		return g, nil
	case orb.MultiPolygon:
		if len(g) != 1 {
			return nil, &ConfigError{Field: "area_file", Value: name, Reason: "multipolygon must have exactly one part"}
		}
		return g[0], nil
	default:
		return nil, nil
	}
}
