package search

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placegrid/internal/grid"
)

// Outcome describes what recording one point changed.
type Outcome struct {
	// Refined is true when the point was subdivided.
	Refined bool
	// Children is the number of refinement points enqueued.
	Children int
	// AtMaxDepth is true when the threshold was hit but the point was
	// already at the deepest allowed refinement level.
	AtMaxDepth bool
	// NewPlaces is the number of place ids seen for the first time.
	NewPlaces int
}

// Tracker owns ProgressState and moves a run through
// not_started -> in_progress -> completed. Every mutation is persisted before
// it becomes visible, so a crash loses at most the in-flight query.
type Tracker struct {
	store Store
	cfg   grid.Config
	grid  *grid.GeoGrid
	sub   *grid.Subdivider
	eval  Evaluator
	now   func() time.Time

	status  Status
	state   *ProgressState
	dedup   *Deduplicator
	done    map[string]struct{}
	queued  map[string]struct{}
	refined map[string]struct{} // parents already in the refinement log
}

// NewTracker validates cfg and returns a Tracker in the not_started state.
func NewTracker(store Store, cfg grid.Config) (*Tracker, error) {
	g, err := grid.NewGeoGrid(cfg)
	if err != nil {
		return nil, err
	}
	sub, err := grid.NewSubdivider(cfg)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		store:  store,
		cfg:    cfg,
		grid:   g,
		sub:    sub,
		eval:   NewEvaluator(cfg),
		now:    time.Now,
		status:  StatusNotStarted,
		dedup:   NewDeduplicator(),
		refined: make(map[string]struct{}),
	}, nil
}

// Start begins a new run with the full standard grid pending. It refuses to
// overwrite saved progress; Resume it or Reset the store first.
func (t *Tracker) Start(ctx context.Context, area grid.SearchArea, category string) error {
	if t.status != StatusNotStarted {
		return eris.Errorf("search: cannot start a run that is %s", t.status)
	}
	if err := validateRun(area, category); err != nil {
		return err
	}

	fp := Fingerprint(area, category, t.cfg)
	existing, err := t.store.LoadProgress(ctx)
	if err != nil {
		return &PersistenceError{Op: "load progress", Fingerprint: fp, Err: err}
	}
	if existing != nil {
		return eris.Errorf("search: progress for run %s already saved; resume it or start fresh", existing.Fingerprint)
	}

	pending := slices.Collect(t.grid.Standard(area))
	if len(pending) == 0 {
		return &grid.ConfigError{Field: "area", Value: area.Name, Reason: "produces no grid points"}
	}

	now := t.now().UTC()
	state := &ProgressState{
		Version:     progressVersion,
		RunID:       uuid.New().String(),
		Fingerprint: fp,
		Area:        area,
		Category:    category,
		Config:      t.cfg,
		Status:      StatusInProgress,
		Completed:   []string{},
		Pending:     pending,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.SaveProgress(ctx, state); err != nil {
		return &PersistenceError{Op: "save progress", Fingerprint: fp, Err: err}
	}

	t.adopt(state)
	t.dedup = NewDeduplicator()
	t.refined = make(map[string]struct{})
	t.status = StatusInProgress
	return nil
}

// Resume reloads the saved run. Completed points are never re-queued and only
// their logged results seed the unique place set; a result logged for a point
// whose checkpoint never landed is queried again. A run
// saved with a different area, category or configuration fails with
// *StateMismatchError; no saved run fails with ErrNoProgress.
func (t *Tracker) Resume(ctx context.Context, area grid.SearchArea, category string) error {
	if t.status != StatusNotStarted {
		return eris.Errorf("search: cannot resume a run that is %s", t.status)
	}

	fp := Fingerprint(area, category, t.cfg)
	state, err := t.store.LoadProgress(ctx)
	if err != nil {
		return &PersistenceError{Op: "load progress", Fingerprint: fp, Err: err}
	}
	if state == nil {
		return ErrNoProgress
	}
	if state.Fingerprint != fp {
		return &StateMismatchError{
			Persisted: state.Fingerprint,
			Requested: fp,
			Reason:    state.mismatchReason(area, category, t.cfg),
		}
	}

	records, err := t.store.LoadResults(ctx)
	if err != nil {
		return &PersistenceError{Op: "load results", Fingerprint: fp, Err: err}
	}
	refinements, err := t.store.LoadRefinements(ctx)
	if err != nil {
		return &PersistenceError{Op: "load refinements", Fingerprint: fp, Err: err}
	}

	t.adopt(state)
	// Settings outside the fingerprint follow the resuming session.
	t.state.Config = t.cfg
	dedup := NewDeduplicator()
	for _, rec := range records {
		if _, ok := t.done[rec.Point.ID]; ok {
			dedup.Add(rec.Result.Places)
		}
	}
	t.dedup = dedup
	t.refined = make(map[string]struct{}, len(refinements))
	for _, ref := range refinements {
		t.refined[ref.ParentID] = struct{}{}
	}
	t.status = StatusInProgress
	if state.Status == StatusCompleted && len(t.state.Pending) == 0 {
		t.status = StatusCompleted
	}
	return nil
}

// Open resumes the saved run if there is one and starts a new run otherwise.
func (t *Tracker) Open(ctx context.Context, area grid.SearchArea, category string) (resumed bool, err error) {
	err = t.Resume(ctx, area, category)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrNoProgress) {
		return false, err
	}
	return false, t.Start(ctx, area, category)
}

// Next returns the first pending point not in skip.
func (t *Tracker) Next(skip map[string]bool) (grid.GridPoint, bool) {
	if t.state == nil {
		return grid.GridPoint{}, false
	}
	for _, p := range t.state.Pending {
		if !skip[p.ID] {
			return p, true
		}
	}
	return grid.GridPoint{}, false
}

// RecordPointDone moves p from pending to completed, accumulates its places
// and, when the result hit the threshold, enqueues p's refinement points and
// logs a RefinementRecord. Everything is persisted before the in-memory state
// advances; on a *PersistenceError the point remains pending. A parent is
// logged as refined at most once, even when its checkpoint is retried.
// Recording an already completed point is a no-op.
func (t *Tracker) RecordPointDone(ctx context.Context, p grid.GridPoint, result QueryResult) (Outcome, error) {
	if t.status != StatusInProgress {
		return Outcome{}, eris.Errorf("search: cannot record point %s on a run that is %s", p.ID, t.status)
	}
	if _, ok := t.done[p.ID]; ok {
		return Outcome{}, nil
	}
	if _, ok := t.queued[p.ID]; !ok {
		return Outcome{}, eris.Errorf("search: point %s is not pending", p.ID)
	}
	if result.GridPointID == "" {
		result.GridPointID = p.ID
	}

	var out Outcome
	newIDs := t.dedup.Missing(result.Places)
	out.NewPlaces = len(newIDs)

	next := t.state.Clone()
	next.Pending = slices.DeleteFunc(next.Pending, func(q grid.GridPoint) bool { return q.ID == p.ID })
	next.Completed = append(next.Completed, p.ID)
	next.QueryCount++

	var children []grid.GridPoint
	if t.eval.NeedsRefinement(result) {
		if t.sub.Eligible(p) {
			for _, c := range t.sub.Subdivide(p) {
				if _, ok := t.done[c.ID]; ok {
					continue
				}
				if _, ok := t.queued[c.ID]; ok {
					continue
				}
				children = append(children, c)
			}
			out.Refined = true
			out.Children = len(children)
			next.Pending = append(next.Pending, children...)
			next.RefinementCount++
		} else {
			out.AtMaxDepth = true
		}
	}

	now := t.now().UTC()
	next.UniquePlaceCount = t.dedup.Len() + len(newIDs)
	next.UpdatedAt = now

	fail := func(op string, err error) (Outcome, error) {
		return Outcome{}, &PersistenceError{Op: op, PointID: p.ID, Fingerprint: t.state.Fingerprint, Err: err}
	}
	if len(newIDs) > 0 {
		if err := t.store.AppendUniqueIDs(ctx, newIDs); err != nil {
			return fail("append unique ids", err)
		}
	}
	rec := QueryRecord{Point: p, Result: result, Refined: out.Refined, QueriedAt: now}
	if err := t.store.AppendResult(ctx, rec); err != nil {
		return fail("append result", err)
	}
	if _, logged := t.refined[p.ID]; out.Refined && !logged {
		ref := RefinementRecord{
			ParentID:  p.ID,
			Center:    p.Center,
			Radius:    p.Radius,
			RawCount:  result.RawCount,
			Children:  len(children),
			Reason:    t.eval.Reason(result),
			Timestamp: now,
		}
		if err := t.store.AppendRefinement(ctx, ref); err != nil {
			return fail("append refinement", err)
		}
		t.refined[p.ID] = struct{}{}
	}
	if err := t.store.SaveProgress(ctx, next); err != nil {
		return fail("save progress", err)
	}

	t.dedup.Add(result.Places)
	t.state = next
	delete(t.queued, p.ID)
	t.done[p.ID] = struct{}{}
	for _, c := range children {
		t.queued[c.ID] = struct{}{}
	}
	return out, nil
}

// Finish marks the run completed. It fails while points are still pending.
func (t *Tracker) Finish(ctx context.Context) error {
	if t.status == StatusCompleted {
		return nil
	}
	if t.status != StatusInProgress {
		return eris.Errorf("search: cannot finish a run that is %s", t.status)
	}
	if n := len(t.state.Pending); n > 0 {
		return eris.Errorf("search: cannot finish with %d points pending", n)
	}

	next := t.state.Clone()
	next.Status = StatusCompleted
	next.UpdatedAt = t.now().UTC()
	if err := t.store.SaveProgress(ctx, next); err != nil {
		return &PersistenceError{Op: "save progress", Fingerprint: next.Fingerprint, Err: err}
	}
	t.state = next
	t.status = StatusCompleted
	return nil
}

// Status returns the tracker's lifecycle state.
func (t *Tracker) Status() Status { return t.status }

// State returns a copy of the current progress, or nil before Start/Resume.
func (t *Tracker) State() *ProgressState {
	if t.state == nil {
		return nil
	}
	return t.state.Clone()
}

// Pending returns the number of points still queued.
func (t *Tracker) Pending() int {
	if t.state == nil {
		return 0
	}
	return len(t.state.Pending)
}

// Places returns the unique places accumulated so far.
func (t *Tracker) Places() []PlaceStub { return t.dedup.Places() }

// UniquePlaces returns the number of unique places accumulated so far.
func (t *Tracker) UniquePlaces() int { return t.dedup.Len() }

// adopt installs state and rebuilds the id indexes. Pending entries that are
// already completed are dropped so the two sets stay disjoint.
func (t *Tracker) adopt(state *ProgressState) {
	t.done = make(map[string]struct{}, len(state.Completed))
	for _, id := range state.Completed {
		t.done[id] = struct{}{}
	}
	t.queued = make(map[string]struct{}, len(state.Pending))
	state.Pending = slices.DeleteFunc(state.Pending, func(p grid.GridPoint) bool {
		_, completed := t.done[p.ID]
		_, dup := t.queued[p.ID]
		t.queued[p.ID] = struct{}{}
		return completed || dup
	})
	t.state = state
}

// Inspect reports the persisted state of a run without resuming it. A saved
// run that is not completed is reported as interrupted.
func Inspect(ctx context.Context, store Store) (*ProgressState, Status, error) {
	state, err := store.LoadProgress(ctx)
	if err != nil {
		return nil, "", &PersistenceError{Op: "load progress", Err: err}
	}
	if state == nil {
		return nil, StatusNotStarted, nil
	}
	if state.Status == StatusCompleted {
		return state, StatusCompleted, nil
	}
	return state, StatusInterrupted, nil
}

func validateRun(area grid.SearchArea, category string) error {
	if strings.TrimSpace(category) == "" {
		return &grid.ConfigError{Field: "category", Value: category, Reason: "must not be empty"}
	}
	return area.Validate()
}
