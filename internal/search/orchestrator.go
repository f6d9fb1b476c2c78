package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/placegrid/internal/grid"
)

// defaultProgressInterval is how many completed points pass between progress
// log lines.
const defaultProgressInterval = 25

// Budget caps the number of transport calls a run may issue. Zero means
// unlimited.
type Budget struct {
	MaxCalls int
}

// RunSummary reports what one invocation of Run did.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Fingerprint     string        `json:"fingerprint"`
	Status          Status        `json:"status"`
	Resumed         bool          `json:"resumed"`
	QueriesIssued   int           `json:"queries_issued"`
	PointsCompleted int           `json:"points_completed"`
	Failures        int           `json:"failures"`
	Refinements     int           `json:"refinements"`
	NearLimit       int           `json:"near_limit"`
	NewPlaces       int           `json:"new_places"`
	UniquePlaces    int           `json:"unique_places"`
	TotalQueries    int           `json:"total_queries"`
	Pending         int           `json:"pending"`
	BudgetExhausted bool          `json:"budget_exhausted"`
	Interrupted     bool          `json:"interrupted"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Orchestrator drains a Tracker's pending queue one point at a time.
type Orchestrator struct {
	tracker  *Tracker
	query    QueryFunc
	metrics  *Metrics
	logEvery int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records run activity on m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithProgressInterval logs progress every n completed points.
func WithProgressInterval(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.logEvery = n
		}
	}
}

// NewOrchestrator creates an Orchestrator that queries points with q.
func NewOrchestrator(t *Tracker, q QueryFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{tracker: t, query: q, logEvery: defaultProgressInterval}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run starts or resumes the run for area and category and processes pending
// points in queue order until the queue is empty, the budget is spent or ctx
// is cancelled. A failed query leaves its point pending and the run continues
// with the next one. Cancellation is not an error: the last checkpoint is
// consistent and the summary reports the run as interrupted.
func (o *Orchestrator) Run(ctx context.Context, area grid.SearchArea, category string, budget Budget) (*RunSummary, error) {
	log := zap.L().With(
		zap.String("component", "search"),
		zap.String("area", area.Name),
		zap.String("category", category),
	)
	start := time.Now()

	resumed, err := o.tracker.Open(ctx, area, category)
	if err != nil {
		return nil, err
	}
	state := o.tracker.State()
	log = log.With(zap.String("run_id", state.RunID), zap.String("fingerprint", state.Fingerprint))
	if resumed {
		log.Info("resuming search",
			zap.Int("completed", len(state.Completed)),
			zap.Int("pending", len(state.Pending)),
			zap.Int("unique_places", o.tracker.UniquePlaces()),
		)
	} else {
		log.Info("starting search", zap.Int("standard_points", len(state.Pending)))
	}

	sum := &RunSummary{RunID: state.RunID, Fingerprint: state.Fingerprint, Resumed: resumed}
	deferred := make(map[string]bool)

	for o.tracker.Status() == StatusInProgress {
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		p, ok := o.tracker.Next(deferred)
		if !ok {
			break
		}
		if budget.MaxCalls > 0 && sum.QueriesIssued >= budget.MaxCalls {
			sum.BudgetExhausted = true
			log.Info("query budget exhausted", zap.Int("max_calls", budget.MaxCalls))
			break
		}

		sum.QueriesIssued++
		o.inc(func(m *Metrics) { m.Queries.Inc() })

		result, err := o.query(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				sum.Interrupted = true
				break
			}
			terr := &TransportError{PointID: p.ID, Err: err}
			log.Warn("query failed, point deferred", zap.String("point", p.ID), zap.Error(terr))
			deferred[p.ID] = true
			sum.Failures++
			o.inc(func(m *Metrics) { m.Failures.Inc() })
			continue
		}

		// The in-flight result is checkpointed even if ctx was cancelled meanwhile.
		out, err := o.tracker.RecordPointDone(context.WithoutCancel(ctx), p, result)
		if err != nil {
			log.Error("checkpoint failed, stopping run", zap.String("point", p.ID), zap.Error(err))
			o.fill(sum, start)
			return sum, err
		}
		sum.PointsCompleted++
		sum.NewPlaces += out.NewPlaces

		if o.tracker.eval.NearLimit(result) {
			sum.NearLimit++
			o.inc(func(m *Metrics) { m.NearLimit.Inc() })
			log.Warn("result count near provider cap",
				zap.String("point", p.ID),
				zap.Int("raw_count", result.RawCount),
				zap.Int("depth", p.Depth),
			)
		}
		switch {
		case out.Refined:
			sum.Refinements++
			o.inc(func(m *Metrics) { m.Refinements.Inc() })
			log.Info("point refined",
				zap.String("point", p.ID),
				zap.Int("raw_count", result.RawCount),
				zap.Int("children", out.Children),
			)
		case out.AtMaxDepth:
			log.Warn("threshold hit at maximum refinement depth",
				zap.String("point", p.ID),
				zap.Int("raw_count", result.RawCount),
				zap.Int("depth", p.Depth),
			)
		}
		o.inc(func(m *Metrics) {
			m.UniquePlaces.Set(float64(o.tracker.UniquePlaces()))
			m.Pending.Set(float64(o.tracker.Pending()))
		})

		if sum.PointsCompleted%o.logEvery == 0 {
			log.Info("progress",
				zap.Int("points_completed", sum.PointsCompleted),
				zap.Int("pending", o.tracker.Pending()),
				zap.Int("unique_places", o.tracker.UniquePlaces()),
			)
		}
	}

	if o.tracker.Status() == StatusInProgress && o.tracker.Pending() == 0 {
		if err := o.tracker.Finish(context.WithoutCancel(ctx)); err != nil {
			log.Error("finish failed", zap.Error(err))
			o.fill(sum, start)
			return sum, err
		}
	}

	o.fill(sum, start)
	log.Info("search stopped",
		zap.String("status", string(sum.Status)),
		zap.Int("queries", sum.QueriesIssued),
		zap.Int("failures", sum.Failures),
		zap.Int("refinements", sum.Refinements),
		zap.Int("new_places", sum.NewPlaces),
		zap.Int("unique_places", sum.UniquePlaces),
		zap.Int("pending", sum.Pending),
		zap.Duration("elapsed", sum.Elapsed),
	)
	return sum, nil
}

func (o *Orchestrator) fill(sum *RunSummary, start time.Time) {
	sum.Status = o.tracker.Status()
	if sum.Status == StatusInProgress {
		sum.Status = StatusInterrupted
	}
	sum.UniquePlaces = o.tracker.UniquePlaces()
	sum.Pending = o.tracker.Pending()
	if st := o.tracker.State(); st != nil {
		sum.TotalQueries = st.QueryCount
	}
	sum.Elapsed = time.Since(start)
}

func (o *Orchestrator) inc(fn func(*Metrics)) {
	if o.metrics != nil {
		fn(o.metrics)
	}
}
