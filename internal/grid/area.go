package grid

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// SearchArea is a named region to cover. Bound is always set; Polygon is an
// optional tighter outline inside Bound.
type SearchArea struct {
	Name    string      `json:"name"`
	Bound   orb.Bound   `json:"bound"`
	Polygon orb.Polygon `json:"polygon,omitempty"`
}

// NewBoundArea builds an area from a south-west / north-east box.
func NewBoundArea(name string, minLat, minLon, maxLat, maxLon float64) SearchArea {
	return SearchArea{
		Name: name,
		Bound: orb.Bound{
			Min: orb.Point{minLon, minLat},
			Max: orb.Point{maxLon, maxLat},
		},
	}
}

// NewCircleArea builds an area from a center coordinate and an extent in metres.
func NewCircleArea(name string, center orb.Point, radius float64) SearchArea {
	return SearchArea{Name: name, Bound: geo.NewBoundAroundPoint(center, radius)}
}

// NewPolygonArea builds an area from an outline; the bound is derived from it.
func NewPolygonArea(name string, poly orb.Polygon) SearchArea {
	return SearchArea{Name: name, Bound: poly.Bound(), Polygon: poly}
}

// Validate rejects empty or inverted extents with a *ConfigError.
func (a SearchArea) Validate() error {
	b := a.Bound
	switch {
	case b.Min.Lat() < -90 || b.Max.Lat() > 90:
		return &ConfigError{Field: "area", Value: a.Name, Reason: "latitude out of range"}
	case b.Min.Lon() < -180 || b.Max.Lon() > 180:
		return &ConfigError{Field: "area", Value: a.Name, Reason: "longitude out of range"}
	case b.Min.Lat() > b.Max.Lat() || b.Min.Lon() > b.Max.Lon():
		return &ConfigError{Field: "area", Value: a.Name, Reason: "south-west corner is north or east of north-east corner"}
	case len(a.Polygon) > 0 && len(a.Polygon[0]) < 4:
		return &ConfigError{Field: "area", Value: a.Name, Reason: "polygon outer ring needs at least 4 points"}
	}
	return nil
}

// Touches reports whether any part of the footprint overlaps the area.
// Polygon distance is measured in degrees of latitude, which is close enough
// at grid-point scale.
func (a SearchArea) Touches(f Footprint) bool {
	if !f.Bound().Intersects(a.Bound) {
		return false
	}
	if len(a.Polygon) == 0 {
		return true
	}
	if planar.PolygonContains(a.Polygon, f.Center) {
		return true
	}
	return planar.DistanceFrom(a.Polygon, f.Center) <= metersToLatDegrees(f.Radius)
}

// testAreas are small Berlin boxes used to tune parameters cheaply.
var testAreas = map[string]SearchArea{
	"alexanderplatz":   NewBoundArea("Alexanderplatz (Dense)", 52.5150, 13.4050, 52.5250, 13.4150),
	"tiergarten":       NewBoundArea("Tiergarten (Sparse)", 52.5100, 13.3500, 52.5200, 13.3600),
	"kreuzberg":        NewBoundArea("Kreuzberg (Mixed)", 52.4900, 13.3900, 52.5000, 13.4000),
	"friedrichstrasse": NewBoundArea("Friedrichstraße Area", 52.5000, 13.3850, 52.5300, 13.3950),
}

// TestArea returns a named test area.
func TestArea(name string) (SearchArea, error) {
	a, ok := testAreas[name]
	if !ok {
		return SearchArea{}, &ConfigError{Field: "test_area", Value: name, Reason: "unknown test area"}
	}
	return a, nil
}

// TestAreaNames lists the known test areas in alphabetical order.
func TestAreaNames() []string {
	names := make([]string, 0, len(testAreas))
	for n := range testAreas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
