package grid

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// metersPerDegree is the length of one degree of latitude on the sphere used
// by orb/geo, so lattice offsets and distance checks agree.
var metersPerDegree = orb.EarthRadius * math.Pi / 180

// distanceSlack absorbs the equirectangular offset error (well under a metre
// at the radii the provider accepts).
const distanceSlack = 0.5

// Distance returns the great-circle distance between two points in metres.
func Distance(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b)
}

func metersToLatDegrees(m float64) float64 {
	return m / metersPerDegree
}

func metersToLonDegrees(m, lat float64) float64 {
	return m / (metersPerDegree * math.Cos(lat*math.Pi/180))
}

// offset moves origin north by dn metres and east by de metres.
func offset(origin orb.Point, dn, de float64) orb.Point {
	return orb.Point{
		origin.Lon() + metersToLonDegrees(de, origin.Lat()),
		origin.Lat() + metersToLatDegrees(dn),
	}
}

// round6 keeps coordinates at the precision the provider echoes back (~0.1 m).
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
