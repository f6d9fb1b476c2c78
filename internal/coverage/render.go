package coverage

import (
	_ "embed"
	"html/template"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
)

//go:embed map.html.tmpl
var mapTemplate string

var mapTmpl = template.Must(template.New("map").Parse(mapTemplate))

// defaultCenter is used for snapshots without points (Berlin).
var defaultCenter = orb.Point{13.405, 52.52}

// Feature kinds set in the "kind" property of exported features.
const (
	KindArea  = "area"
	KindPoint = "grid_point"
	KindPlace = "place"
)

// FeatureCollection exports the snapshot as GeoJSON: one polygon per area,
// one point feature per grid point (radius in properties) and one per place.
func FeatureCollection(s *Snapshot) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, a := range s.Areas {
		var g orb.Geometry = a.Bound.ToPolygon()
		if len(a.Polygon) > 0 {
			g = a.Polygon
		}
		f := geojson.NewFeature(g)
		f.Properties["kind"] = KindArea
		f.Properties["name"] = a.Name
		fc.Append(f)
	}
	for _, p := range s.Points {
		f := geojson.NewFeature(p.Center)
		f.ID = p.ID
		f.Properties["kind"] = KindPoint
		f.Properties["id"] = p.ID
		f.Properties["area"] = p.Area
		f.Properties["radius"] = p.Radius
		f.Properties["tier"] = string(p.Tier)
		f.Properties["depth"] = p.Depth
		f.Properties["raw_count"] = p.RawCount
		f.Properties["refined"] = p.Refined
		if p.ParentID != "" {
			f.Properties["parent_id"] = p.ParentID
		}
		fc.Append(f)
	}
	for _, pl := range s.Places {
		f := geojson.NewFeature(pl.Location)
		f.ID = pl.ID
		f.Properties["kind"] = KindPlace
		f.Properties["place_id"] = pl.ID
		f.Properties["name"] = pl.Name
		fc.Append(f)
	}
	return fc
}

type mapData struct {
	Title    string
	Stats    Stats
	Center   [2]float64
	Features *geojson.FeatureCollection
}

// Render writes a standalone HTML map of the snapshot. Standard points,
// refinement points and places are separate toggleable layers.
func Render(w io.Writer, s *Snapshot) error {
	c := s.Center(defaultCenter)
	data := mapData{
		Title:    s.Label,
		Stats:    s.Stats(),
		Center:   [2]float64{c.Lat(), c.Lon()},
		Features: FeatureCollection(s),
	}
	if data.Title == "" {
		data.Title = "coverage"
	}
	if err := mapTmpl.Execute(w, data); err != nil {
		return eris.Wrap(err, "coverage: render map")
	}
	return nil
}
