package transport

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placegrid/internal/grid"
	"github.com/sells-group/placegrid/pkg/google"
)

// fallbackExtent is the half-width used when a geocoding result has no viewport.
const fallbackExtent = 10000.0

// ResolveArea geocodes a free-form location into a search area spanning the
// result's viewport.
func ResolveArea(ctx context.Context, client google.Client, location string) (grid.SearchArea, error) {
	res, err := client.Geocode(ctx, location)
	if err != nil {
		return grid.SearchArea{}, eris.Wrapf(err, "transport: resolve area %q", location)
	}

	name := res.FormattedAddress
	if name == "" {
		name = location
	}

	var area grid.SearchArea
	if vp := res.Geometry.Viewport; vp != nil {
		area = grid.NewBoundArea(name, vp.Southwest.Lat, vp.Southwest.Lng, vp.Northeast.Lat, vp.Northeast.Lng)
	} else {
		center := orb.Point{res.Geometry.Location.Lng, res.Geometry.Location.Lat}
		area = grid.NewCircleArea(name, center, fallbackExtent)
	}
	if err := area.Validate(); err != nil {
		return grid.SearchArea{}, eris.Wrapf(err, "transport: resolve area %q", location)
	}

	zap.L().Info("location resolved",
		zap.String("location", location),
		zap.String("address", name),
		zap.Float64("south", area.Bound.Min.Lat()),
		zap.Float64("west", area.Bound.Min.Lon()),
		zap.Float64("north", area.Bound.Max.Lat()),
		zap.Float64("east", area.Bound.Max.Lon()),
	)
	return area, nil
}
