package grid

import (
	"fmt"
	"iter"

	"github.com/paulmach/orb"
)

// GeoGrid lays the standard grid over a search area.
type GeoGrid struct {
	radius float64
	step   float64
}

// NewGeoGrid validates cfg and returns a grid generator. A radius above the
// provider ceiling fails here rather than being clamped.
func NewGeoGrid(cfg Config) (*GeoGrid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &GeoGrid{radius: cfg.InitialRadius, step: cfg.Step}, nil
}

// Standard yields the standard grid points of area in row-major order, south
// to north and west to east. Rows are spaced step metres apart in latitude;
// the longitude step is recomputed per row so spacing stays step metres on the
// ground. Points whose footprint misses the area are skipped, but keep their
// row/column position in the id so ids are stable across runs.
func (g *GeoGrid) Standard(area SearchArea) iter.Seq[GridPoint] {
	return func(yield func(GridPoint) bool) {
		minLat, maxLat := area.Bound.Min.Lat(), area.Bound.Max.Lat()
		minLon, maxLon := area.Bound.Min.Lon(), area.Bound.Max.Lon()
		latStep := metersToLatDegrees(g.step)

		for row := 0; ; row++ {
			lat := round6(minLat + float64(row)*latStep)
			if lat > maxLat {
				return
			}
			lonStep := metersToLonDegrees(g.step, lat)
			for col := 0; ; col++ {
				lon := round6(minLon + float64(col)*lonStep)
				if lon > maxLon {
					break
				}
				p := GridPoint{
					ID:     fmt.Sprintf("s-%04d-%04d", row, col),
					Center: orb.Point{lon, lat},
					Radius: g.radius,
					Tier:   TierStandard,
				}
				if !area.Touches(p.Footprint()) {
					continue
				}
				if !yield(p) {
					return
				}
			}
		}
	}
}
