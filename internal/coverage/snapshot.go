// Package coverage projects search results into snapshots for inspection:
// which grid points were queried, how many results each returned and where
// the unique places are. Snapshots from several runs can be merged and
// rendered as one map.
package coverage

import (
	"encoding/json"
	"os"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placegrid/internal/grid"
	"github.com/sells-group/placegrid/internal/search"
)

// PointSummary is what a snapshot keeps of one queried grid point.
type PointSummary struct {
	// Area names the search area the point was generated for. Grid ids are
	// only unique within one area.
	Area     string    `json:"area,omitempty"`
	ID       string    `json:"id"`
	Center   orb.Point `json:"center"`
	Radius   float64   `json:"radius"`
	Tier     grid.Tier `json:"tier"`
	ParentID string    `json:"parent_id,omitempty"`
	Depth    int       `json:"depth"`
	RawCount int       `json:"raw_count"`
	Places   int       `json:"places"`
	Refined  bool      `json:"refined"`
}

// Snapshot is the geometry of one or more runs. It is write-once per run and
// never feeds back into progress.
type Snapshot struct {
	Label     string             `json:"label"`
	Areas     []grid.SearchArea  `json:"areas"`
	Points    []PointSummary     `json:"points"`
	Places    []search.PlaceStub `json:"places"`
	CreatedAt time.Time          `json:"created_at"`
}

// Stats are headline numbers for a snapshot.
type Stats struct {
	StandardPoints   int `json:"standard_points"`
	RefinementPoints int `json:"refinement_points"`
	RefinedParents   int `json:"refined_parents"`
	UniquePlaces     int `json:"unique_places"`
}

// FromRecords builds a snapshot from a run's query log. A point recorded more
// than once keeps its latest record.
func FromRecords(label string, area grid.SearchArea, records []search.QueryRecord, createdAt time.Time) *Snapshot {
	snap := &Snapshot{Label: label, Areas: []grid.SearchArea{area}, CreatedAt: createdAt.UTC()}

	idx := make(map[string]int, len(records))
	dedup := search.NewDeduplicator()
	for _, rec := range records {
		ps := summarize(rec)
		ps.Area = area.Name
		if i, ok := idx[ps.ID]; ok {
			snap.Points[i] = ps
		} else {
			idx[ps.ID] = len(snap.Points)
			snap.Points = append(snap.Points, ps)
		}
		dedup.Add(rec.Result.Places)
	}
	snap.Places = dedup.Places()
	return snap
}

// Key identifies the point across snapshots.
func (p PointSummary) Key() string {
	return p.Area + "/" + p.ID
}

func summarize(rec search.QueryRecord) PointSummary {
	p := rec.Point
	return PointSummary{
		ID:       p.ID,
		Center:   p.Center,
		Radius:   p.Radius,
		Tier:     p.Tier,
		ParentID: p.ParentID,
		Depth:    p.Depth,
		RawCount: rec.Result.RawCount,
		Places:   len(rec.Result.Places),
		Refined:  rec.Refined,
	}
}

// MergeSnapshots unions grid points by area and id, and places by place id.
// When two snapshots hold the same point of the same area the later
// snapshot's summary wins; places follow the first-seen rule of
// search.Deduplicator.
func MergeSnapshots(snaps ...*Snapshot) *Snapshot {
	out := &Snapshot{Label: "combined"}
	idx := make(map[string]int)
	areas := make(map[string]bool)
	dedup := search.NewDeduplicator()

	for _, s := range snaps {
		if s == nil {
			continue
		}
		for _, a := range s.Areas {
			key := a.Name + "|" + boundKey(a.Bound)
			if !areas[key] {
				areas[key] = true
				out.Areas = append(out.Areas, a)
			}
		}
		for _, p := range s.Points {
			key := p.Key()
			if i, ok := idx[key]; ok {
				out.Points[i] = p
				continue
			}
			idx[key] = len(out.Points)
			out.Points = append(out.Points, p)
		}
		dedup.Add(s.Places)
		if s.CreatedAt.After(out.CreatedAt) {
			out.CreatedAt = s.CreatedAt
		}
	}
	out.Places = dedup.Places()
	return out
}

func boundKey(b orb.Bound) string {
	data, _ := json.Marshal(b)
	return string(data)
}

// Stats counts the snapshot's points and places.
func (s *Snapshot) Stats() Stats {
	st := Stats{UniquePlaces: len(s.Places)}
	for _, p := range s.Points {
		if p.Tier == grid.TierRefinement {
			st.RefinementPoints++
		} else {
			st.StandardPoints++
		}
		if p.Refined {
			st.RefinedParents++
		}
	}
	return st
}

// Center is the mean of the snapshot's point centers, or fallback when it has
// no points.
func (s *Snapshot) Center(fallback orb.Point) orb.Point {
	if len(s.Points) == 0 {
		return fallback
	}
	var lon, lat float64
	for _, p := range s.Points {
		lon += p.Center.Lon()
		lat += p.Center.Lat()
	}
	n := float64(len(s.Points))
	return orb.Point{lon / n, lat / n}
}

// Save writes the snapshot as indented JSON.
func Save(path string, s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "coverage: marshal snapshot")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "coverage: write %s", path)
	}
	return nil
}

// Load reads a snapshot written by Save.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "coverage: read %s", path)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrapf(err, "coverage: decode %s", path)
	}
	return &s, nil
}
