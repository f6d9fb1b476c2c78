// Package search drives an adaptive grid search against a places provider:
// it queues grid points, queries them one at a time, refines points whose
// result count suggests truncation, deduplicates places and checkpoints after
// every point so an interrupted run resumes exactly where it stopped.
package search

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"github.com/sells-group/placegrid/internal/grid"
)

// PlaceStub is the minimal record kept for a discovered place.
type PlaceStub struct {
	ID       string    `json:"place_id"`
	Name     string    `json:"name"`
	Location orb.Point `json:"location"`
	Types    []string  `json:"types,omitempty"`
}

// QueryResult is what the provider returned for one grid point. RawCount is
// the number of results before any local filtering; the provider itself never
// reports more than its cap.
type QueryResult struct {
	GridPointID string      `json:"grid_point_id"`
	RawCount    int         `json:"raw_result_count"`
	Places      []PlaceStub `json:"places"`
}

// QueryRecord is the durable log entry written for each processed point.
type QueryRecord struct {
	Point     grid.GridPoint `json:"point"`
	Result    QueryResult    `json:"result"`
	Refined   bool           `json:"refined"`
	QueriedAt time.Time      `json:"queried_at"`
}

// RefinementRecord is an append-only audit entry for every subdivision.
type RefinementRecord struct {
	ParentID  string    `json:"parent_id"`
	Center    orb.Point `json:"center"`
	Radius    float64   `json:"radius"`
	RawCount  int       `json:"raw_count"`
	Children  int       `json:"children"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryFunc issues one provider query for a grid point. It returns an error
// only once the transport's own retry policy is exhausted.
type QueryFunc func(ctx context.Context, p grid.GridPoint) (QueryResult, error)

// Store persists run progress. Writes must be durable before returning, and
// the append methods must never truncate earlier output.
type Store interface {
	SaveProgress(ctx context.Context, state *ProgressState) error
	// LoadProgress returns nil, nil when no progress has been saved.
	LoadProgress(ctx context.Context) (*ProgressState, error)
	AppendRefinement(ctx context.Context, rec RefinementRecord) error
	AppendUniqueIDs(ctx context.Context, ids []string) error
	AppendResult(ctx context.Context, rec QueryRecord) error
	LoadResults(ctx context.Context) ([]QueryRecord, error)
	// LoadUniqueIDs returns the logged place ids without repeats.
	LoadUniqueIDs(ctx context.Context) ([]string, error)
	LoadRefinements(ctx context.Context) ([]RefinementRecord, error)
	// Reset moves the current run aside so a fresh one can start.
	Reset(ctx context.Context) error
}
