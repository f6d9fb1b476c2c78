package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/sells-group/placegrid/internal/grid"
)

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusNotStarted means no progress has been saved.
	StatusNotStarted Status = "not_started"
	// StatusInProgress means a run is started and has pending points.
	StatusInProgress Status = "in_progress"
	// StatusInterrupted is observed when a persisted run is still in progress
	// but no process is driving it.
	StatusInterrupted Status = "interrupted"
	// StatusCompleted means every pending point has been processed.
	StatusCompleted Status = "completed"
)

// progressVersion is bumped when the persisted schema changes.
const progressVersion = 1

// ProgressState is the sole source of truth for resume. It is owned by the
// Tracker and flushed after every processed point.
type ProgressState struct {
	Version          int              `json:"version"`
	RunID            string           `json:"run_id"`
	Fingerprint      string           `json:"fingerprint"`
	Area             grid.SearchArea  `json:"area"`
	Category         string           `json:"category"`
	Config           grid.Config      `json:"config"`
	Status           Status           `json:"status"`
	Completed        []string         `json:"completed"`
	Pending          []grid.GridPoint `json:"pending"`
	QueryCount       int              `json:"query_count"`
	UniquePlaceCount int              `json:"unique_place_count"`
	RefinementCount  int              `json:"refinement_count"`
	StartedAt        time.Time        `json:"started_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Clone returns a deep copy so a candidate state can be persisted before it
// replaces the current one.
func (s *ProgressState) Clone() *ProgressState {
	c := *s
	c.Completed = slices.Clone(s.Completed)
	c.Pending = slices.Clone(s.Pending)
	return &c
}

// gridShape is the part of grid.Config that decides which points a run
// queries. NearLimit only changes logging and MaxRadius only bounds
// validation, so a run may resume with either changed.
type gridShape struct {
	InitialRadius float64 `json:"initial_radius"`
	Step          float64 `json:"step"`
	Threshold     int     `json:"threshold"`
	RadiusFactor  float64 `json:"radius_factor"`
	OverlapFactor float64 `json:"overlap_factor"`
	MaxDepth      int     `json:"max_depth"`
}

func shapeOf(cfg grid.Config) gridShape {
	return gridShape{
		InitialRadius: cfg.InitialRadius,
		Step:          cfg.Step,
		Threshold:     cfg.Threshold,
		RadiusFactor:  cfg.RadiusFactor,
		OverlapFactor: cfg.OverlapFactor,
		MaxDepth:      cfg.MaxDepth,
	}
}

// diff names the first field that differs from o, or "" when none does.
func (g gridShape) diff(o gridShape) string {
	switch {
	case g.InitialRadius != o.InitialRadius:
		return fmt.Sprintf("initial_radius %g != %g", g.InitialRadius, o.InitialRadius)
	case g.Step != o.Step:
		return fmt.Sprintf("step %g != %g", g.Step, o.Step)
	case g.Threshold != o.Threshold:
		return fmt.Sprintf("threshold %d != %d", g.Threshold, o.Threshold)
	case g.RadiusFactor != o.RadiusFactor:
		return fmt.Sprintf("radius_factor %g != %g", g.RadiusFactor, o.RadiusFactor)
	case g.OverlapFactor != o.OverlapFactor:
		return fmt.Sprintf("overlap_factor %g != %g", g.OverlapFactor, o.OverlapFactor)
	case g.MaxDepth != o.MaxDepth:
		return fmt.Sprintf("max_depth %d != %d", g.MaxDepth, o.MaxDepth)
	}
	return ""
}

// Fingerprint identifies the parameters a run was started with. A change to
// the area, the category or any grid setting that moves or adds points
// produces a different value.
func Fingerprint(area grid.SearchArea, category string, cfg grid.Config) string {
	b, _ := json.Marshal(struct {
		Area     grid.SearchArea `json:"area"`
		Category string          `json:"category"`
		Grid     gridShape       `json:"grid"`
	}{area, category, shapeOf(cfg)})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// mismatchReason names which parameter differs between s and the request.
func (s *ProgressState) mismatchReason(area grid.SearchArea, category string, cfg grid.Config) string {
	switch {
	case s.Category != category:
		return "category " + s.Category + " != " + category
	case Fingerprint(s.Area, "", grid.Config{}) != Fingerprint(area, "", grid.Config{}):
		return "area " + s.Area.Name + " differs from " + area.Name
	}
	if d := shapeOf(s.Config).diff(shapeOf(cfg)); d != "" {
		return "grid configuration differs: " + d
	}
	return "grid configuration differs"
}
