package coverage

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placegrid/internal/grid"
	"github.com/sells-group/placegrid/internal/search"
)

func record(id string, lon, lat float64, raw int, refined bool, places ...string) search.QueryRecord {
	rec := search.QueryRecord{
		Point:   grid.GridPoint{ID: id, Center: orb.Point{lon, lat}, Radius: 750, Tier: grid.TierStandard},
		Result:  search.QueryResult{GridPointID: id, RawCount: raw},
		Refined: refined,
	}
	for _, p := range places {
		rec.Result.Places = append(rec.Result.Places, search.PlaceStub{ID: p, Name: "name " + p, Location: orb.Point{lon, lat}})
	}
	return rec
}

func snapshotOf(t *testing.T, areaName string, lon, lat float64, prefix string) *Snapshot {
	t.Helper()
	area := grid.NewBoundArea(areaName, lat, lon, lat+0.01, lon+0.01)
	recs := []search.QueryRecord{
		record(prefix+"-a", lon, lat, 3, false, prefix+"-p1", prefix+"-p2"),
		record(prefix+"-b", lon+0.005, lat, 1, false, prefix+"-p3"),
	}
	return FromRecords(areaName, area, recs, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
}

func TestFromRecords_LatestRecordWins(t *testing.T) {
	area := grid.NewBoundArea("a", 52.5, 13.4, 52.51, 13.41)
	recs := []search.QueryRecord{
		record("s-0000-0000", 13.4, 52.5, 2, false, "p1"),
		record("s-0000-0001", 13.41, 52.5, 1, false, "p2"),
		record("s-0000-0000", 13.4, 52.5, 60, true, "p1", "p3"),
	}

	snap := FromRecords("a", area, recs, time.Now())
	require.Len(t, snap.Points, 2)
	assert.Equal(t, "s-0000-0000", snap.Points[0].ID)
	assert.Equal(t, 60, snap.Points[0].RawCount)
	assert.True(t, snap.Points[0].Refined)
	assert.Equal(t, 2, snap.Points[0].Places)
	assert.Len(t, snap.Places, 3)
}

func TestMergeSnapshots_DisjointAreasUnion(t *testing.T) {
	a := snapshotOf(t, "mitte", 13.40, 52.52, "m")
	b := snapshotOf(t, "kreuzberg", 13.39, 52.49, "k")

	merged := MergeSnapshots(a, b)
	assert.Len(t, merged.Points, len(a.Points)+len(b.Points))
	assert.Len(t, merged.Places, len(a.Places)+len(b.Places))
	assert.Len(t, merged.Areas, 2)

	ids := make(map[string]bool)
	for _, p := range merged.Points {
		ids[p.ID] = true
	}
	for _, s := range []*Snapshot{a, b} {
		for _, p := range s.Points {
			assert.True(t, ids[p.ID], p.ID)
		}
	}
}

func TestMergeSnapshots_SameGridIDsInDifferentAreas(t *testing.T) {
	a := snapshotOf(t, "tiergarten", 13.35, 52.51, "s")
	b := snapshotOf(t, "kreuzberg", 13.39, 52.49, "s")
	require.Equal(t, a.Points[0].ID, b.Points[0].ID)

	merged := MergeSnapshots(a, b)
	assert.Len(t, merged.Points, 4)
	assert.Equal(t, "tiergarten/s-a", merged.Points[0].Key())
	assert.Equal(t, "kreuzberg/s-a", merged.Points[2].Key())
}

func TestMergeSnapshots_CollisionLastWriteWins(t *testing.T) {
	first := snapshotOf(t, "mitte", 13.40, 52.52, "m")
	second := snapshotOf(t, "mitte", 13.40, 52.52, "m")
	second.Points[0].RawCount = 60
	second.Points[0].Refined = true
	second.Places[0].Name = "renamed"

	merged := MergeSnapshots(first, second)
	require.Len(t, merged.Points, 2)
	assert.Equal(t, 60, merged.Points[0].RawCount)
	assert.True(t, merged.Points[0].Refined)
	assert.Len(t, merged.Areas, 1)

	// Places keep the first-seen stub.
	require.Len(t, merged.Places, 3)
	assert.Equal(t, "name m-p1", merged.Places[0].Name)
}

func TestMergeSnapshots_Commutative(t *testing.T) {
	a := snapshotOf(t, "mitte", 13.40, 52.52, "m")
	b := snapshotOf(t, "kreuzberg", 13.39, 52.49, "k")

	ab := MergeSnapshots(a, b)
	ba := MergeSnapshots(b, a)
	assert.ElementsMatch(t, ab.Points, ba.Points)
	assert.ElementsMatch(t, ab.Places, ba.Places)
	assert.Nil(t, MergeSnapshots(nil).Points)
}

func TestStatsAndCenter(t *testing.T) {
	snap := &Snapshot{
		Points: []PointSummary{
			{ID: "s-0", Center: orb.Point{13.0, 52.0}, Tier: grid.TierStandard, Refined: true},
			{ID: "s-0/r000", Center: orb.Point{13.2, 52.2}, Tier: grid.TierRefinement},
		},
		Places: []search.PlaceStub{{ID: "p1"}},
	}
	assert.Equal(t, Stats{StandardPoints: 1, RefinementPoints: 1, RefinedParents: 1, UniquePlaces: 1}, snap.Stats())

	c := snap.Center(defaultCenter)
	assert.InDelta(t, 13.1, c.Lon(), 1e-9)
	assert.InDelta(t, 52.1, c.Lat(), 1e-9)
	assert.Equal(t, defaultCenter, (&Snapshot{}).Center(defaultCenter))
}

func TestSaveLoad(t *testing.T) {
	snap := snapshotOf(t, "mitte", 13.40, 52.52, "m")
	path := filepath.Join(t.TempDir(), "map_data.json")

	require.NoError(t, Save(path, snap))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "coverage: read")
}

func TestFeatureCollection(t *testing.T) {
	snap := snapshotOf(t, "mitte", 13.40, 52.52, "m")
	fc := FeatureCollection(snap)
	require.Len(t, fc.Features, 1+2+3)

	kinds := make(map[string]int)
	for _, f := range fc.Features {
		kinds[f.Properties.MustString("kind")]++
	}
	assert.Equal(t, map[string]int{KindArea: 1, KindPoint: 2, KindPlace: 3}, kinds)

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	back, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, back.Features, 6)
	assert.Equal(t, 750.0, back.Features[1].Properties.MustFloat64("radius"))
}

func TestRender(t *testing.T) {
	snap := snapshotOf(t, "mitte", 13.40, 52.52, "m")
	snap.Places[0].Name = "</script><script>alert(1)</script>"

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, snap))
	html := buf.String()

	assert.True(t, strings.HasPrefix(html, "<!DOCTYPE html>"))
	assert.Contains(t, html, "leaflet")
	assert.Contains(t, html, "m-p1")
	assert.Contains(t, html, `"grid_point"`)
	assert.NotContains(t, html, "<script>alert(1)")
}

func TestRender_EmptySnapshot(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, &Snapshot{}))
	assert.Contains(t, buf.String(), "52.52")
}
