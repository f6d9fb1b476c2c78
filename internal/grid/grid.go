// Package grid generates the point lattices used to query a places provider:
// the evenly spaced standard grid over a search area and the denser refinement
// sub-grids spawned inside undersampled points.
package grid

import (
	"github.com/paulmach/orb"
)

// Tier distinguishes points of the standard grid from refinement points.
type Tier string

const (
	// TierStandard marks points produced by GeoGrid.
	TierStandard Tier = "standard"
	// TierRefinement marks points produced by Subdivider.
	TierRefinement Tier = "refinement"
)

// GridPoint is a single query unit: a circle on the earth's surface.
// Points are never mutated after creation.
type GridPoint struct {
	ID       string    `json:"id"`
	Center   orb.Point `json:"center"`
	Radius   float64   `json:"radius"`
	Tier     Tier      `json:"tier"`
	ParentID string    `json:"parent_id,omitempty"`
	Depth    int       `json:"depth"`
}

// Lat returns the latitude of the point's center.
func (p GridPoint) Lat() float64 { return p.Center.Lat() }

// Lon returns the longitude of the point's center.
func (p GridPoint) Lon() float64 { return p.Center.Lon() }

// Footprint returns the circle covered by a query at this point.
func (p GridPoint) Footprint() Footprint {
	return Footprint{Center: p.Center, Radius: p.Radius}
}

// Footprint is a circle in metres around a center coordinate.
type Footprint struct {
	Center orb.Point `json:"center"`
	Radius float64   `json:"radius"`
}

// Contains reports whether q lies inside the circle.
func (f Footprint) Contains(q orb.Point) bool {
	return Distance(f.Center, q) <= f.Radius+distanceSlack
}

// Within reports whether f is confined to parent: its center lies inside the
// parent circle and its radius is strictly smaller.
func (f Footprint) Within(parent Footprint) bool {
	return f.Radius < parent.Radius && parent.Contains(f.Center)
}

// Bound returns the lat/lon box enclosing the circle.
func (f Footprint) Bound() orb.Bound {
	dLat := metersToLatDegrees(f.Radius)
	dLon := metersToLonDegrees(f.Radius, f.Center.Lat())
	return orb.Bound{
		Min: orb.Point{f.Center.Lon() - dLon, f.Center.Lat() - dLat},
		Max: orb.Point{f.Center.Lon() + dLon, f.Center.Lat() + dLat},
	}
}
