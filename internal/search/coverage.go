package search

import (
	"fmt"

	"github.com/sells-group/placegrid/internal/grid"
)

// NeedsRefinement reports whether a point's raw result count reached the
// refinement threshold.
//
// This is a heuristic. The provider truncates at a fixed cap and never
// reports the uncapped count, so hitting the threshold only suggests the
// point undercounted a dense area; staying below it does not prove the area
// was exhausted.
func NeedsRefinement(result QueryResult, threshold int) bool {
	return result.RawCount >= threshold
}

// Evaluator applies the configured thresholds to query results.
type Evaluator struct {
	threshold int
	nearLimit int
}

// NewEvaluator builds an Evaluator from cfg.
func NewEvaluator(cfg grid.Config) Evaluator {
	return Evaluator{threshold: cfg.Threshold, nearLimit: cfg.NearLimit}
}

// NeedsRefinement applies the refinement threshold.
func (e Evaluator) NeedsRefinement(result QueryResult) bool {
	return NeedsRefinement(result, e.threshold)
}

// NearLimit reports counts so close to the provider cap that truncation is
// almost certain. Zero disables the check.
func (e Evaluator) NearLimit(result QueryResult) bool {
	return e.nearLimit > 0 && result.RawCount >= e.nearLimit
}

// Reason describes why a result triggered refinement.
func (e Evaluator) Reason(result QueryResult) string {
	return fmt.Sprintf("raw_count %d >= threshold %d", result.RawCount, e.threshold)
}
