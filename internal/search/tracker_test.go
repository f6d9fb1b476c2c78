package search

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placegrid/internal/grid"
)

// drain processes up to limit pending points (all when limit < 0) and returns
// how many were recorded.
func drain(t *testing.T, tr *Tracker, f *fakeProvider, limit int) int {
	t.Helper()
	ctx := context.Background()
	n := 0
	for limit < 0 || n < limit {
		p, ok := tr.Next(nil)
		if !ok {
			break
		}
		res, err := f.query(ctx, p)
		require.NoError(t, err)
		_, err = tr.RecordPointDone(ctx, p, res)
		require.NoError(t, err)
		n++
	}
	return n
}

func TestTracker_StartInitialisesPending(t *testing.T) {
	store := newMemStore()
	tr, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, StatusNotStarted, tr.Status())

	require.NoError(t, tr.Start(context.Background(), berlinSquare(), "physiotherapist"))
	assert.Equal(t, StatusInProgress, tr.Status())

	st := tr.State()
	assert.Len(t, st.Pending, 4)
	assert.Empty(t, st.Completed)
	assert.NotEmpty(t, st.RunID)
	assert.Equal(t, Fingerprint(berlinSquare(), "physiotherapist", grid.DefaultConfig()), st.Fingerprint)

	saved, err := store.LoadProgress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, st.Pending, saved.Pending)
}

func TestTracker_StartRejectsEmptyCategory(t *testing.T) {
	tr, err := NewTracker(newMemStore(), grid.DefaultConfig())
	require.NoError(t, err)

	err = tr.Start(context.Background(), berlinSquare(), " ")
	var cfgErr *grid.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "category", cfgErr.Field)
	assert.Equal(t, StatusNotStarted, tr.Status())
}

func TestTracker_StartRefusesExistingProgress(t *testing.T) {
	store := newMemStore()
	first, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background(), berlinSquare(), "physiotherapist"))

	second, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	err = second.Start(context.Background(), berlinSquare(), "physiotherapist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already saved")
}

func TestTracker_ResumeWithoutProgress(t *testing.T) {
	tr, err := NewTracker(newMemStore(), grid.DefaultConfig())
	require.NoError(t, err)
	err = tr.Resume(context.Background(), berlinSquare(), "physiotherapist")
	assert.ErrorIs(t, err, ErrNoProgress)
}

func TestTracker_ResumeCategoryMismatch(t *testing.T) {
	store := newMemStore()
	first, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background(), berlinSquare(), "physiotherapist"))

	second, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	err = second.Resume(context.Background(), berlinSquare(), "dentist")

	var mismatch *StateMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Contains(t, mismatch.Reason, "category")
	assert.Equal(t, StatusNotStarted, second.Status())

	// Open must not silently start over a mismatched run either.
	_, err = second.Open(context.Background(), berlinSquare(), "dentist")
	assert.True(t, errors.As(err, &mismatch))
}

func TestTracker_ResumeConfigMismatch(t *testing.T) {
	store := newMemStore()
	first, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, first.Start(context.Background(), berlinSquare(), "physiotherapist"))

	cfg := grid.DefaultConfig()
	cfg.Threshold = 50
	second, err := NewTracker(store, cfg)
	require.NoError(t, err)

	var mismatch *StateMismatchError
	require.True(t, errors.As(second.Resume(context.Background(), berlinSquare(), "physiotherapist"), &mismatch))
	assert.Equal(t, "grid configuration differs: threshold 45 != 50", mismatch.Reason)
}

func TestTracker_ResumeAcceptsLoggingOnlySettings(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	first, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx, berlinSquare(), "physiotherapist"))

	cfg := grid.DefaultConfig()
	cfg.NearLimit = 55
	cfg.MaxRadius = 4000
	assert.Equal(t, Fingerprint(berlinSquare(), "physiotherapist", grid.DefaultConfig()),
		Fingerprint(berlinSquare(), "physiotherapist", cfg))

	second, err := NewTracker(store, cfg)
	require.NoError(t, err)
	require.NoError(t, second.Resume(ctx, berlinSquare(), "physiotherapist"))
	assert.Equal(t, StatusInProgress, second.Status())
	assert.Equal(t, 55, second.State().Config.NearLimit)

	for _, change := range []func(*grid.Config){
		func(c *grid.Config) { c.Step = 700 },
		func(c *grid.Config) { c.RadiusFactor = 4 },
		func(c *grid.Config) { c.OverlapFactor = 1.5 },
		func(c *grid.Config) { c.MaxDepth = 2 },
	} {
		moved := grid.DefaultConfig()
		change(&moved)
		assert.NotEqual(t, Fingerprint(berlinSquare(), "physiotherapist", grid.DefaultConfig()),
			Fingerprint(berlinSquare(), "physiotherapist", moved))
	}
}

func TestTracker_RecordPointDoneIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, berlinSquare(), "physiotherapist"))

	p, ok := tr.Next(nil)
	require.True(t, ok)
	res := QueryResult{RawCount: 2, Places: []PlaceStub{stub("p1", "one"), stub("p2", "two")}}

	_, err = tr.RecordPointDone(ctx, p, res)
	require.NoError(t, err)
	out, err := tr.RecordPointDone(ctx, p, res)
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)

	st := tr.State()
	assert.Equal(t, []string{p.ID}, st.Completed)
	assert.Equal(t, 1, st.QueryCount)
	assert.Equal(t, 2, st.UniquePlaceCount)
	assert.Equal(t, []string{"p1", "p2"}, store.ids)
	for _, q := range st.Pending {
		assert.NotEqual(t, p.ID, q.ID)
	}
}

func TestTracker_RecordUnknownPoint(t *testing.T) {
	ctx := context.Background()
	tr, err := NewTracker(newMemStore(), grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, berlinSquare(), "physiotherapist"))

	_, err = tr.RecordPointDone(ctx, grid.GridPoint{ID: "s-9999-9999"}, QueryResult{})
	assert.ErrorContains(t, err, "not pending")
}

func TestTracker_RefinementRespectsMaxDepth(t *testing.T) {
	ctx := context.Background()
	for _, depth := range []int{0, 1} {
		cfg := grid.DefaultConfig()
		cfg.MaxDepth = depth
		store := newMemStore()
		tr, err := NewTracker(store, cfg)
		require.NoError(t, err)
		require.NoError(t, tr.Start(ctx, berlinSquare(), "physiotherapist"))

		// Every point saturates.
		for {
			p, ok := tr.Next(nil)
			if !ok {
				break
			}
			out, err := tr.RecordPointDone(ctx, p, QueryResult{RawCount: 60})
			require.NoError(t, err)
			assert.Equal(t, p.Depth < depth, out.Refined, "depth %d point %s", depth, p.ID)
			assert.Equal(t, p.Depth >= depth, out.AtMaxDepth)
			assert.LessOrEqual(t, p.Depth, depth)
		}
		require.NoError(t, tr.Finish(ctx))
		assert.Equal(t, len(store.refinements), tr.State().RefinementCount)
	}
}

func TestTracker_PendingNeverContainsCompleted(t *testing.T) {
	store := newMemStore()
	tr, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background(), berlinSquare(), "physiotherapist"))

	f := newFakeProvider(berlinCenter())
	for drain(t, tr, f, 7) > 0 {
		st := tr.State()
		done := make(map[string]bool)
		for _, id := range st.Completed {
			done[id] = true
		}
		for _, p := range st.Pending {
			require.False(t, done[p.ID], "pending point %s already completed", p.ID)
		}
	}
}

func TestTracker_FinishRequiresEmptyQueue(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, berlinSquare(), "physiotherapist"))

	assert.ErrorContains(t, tr.Finish(ctx), "pending")

	drain(t, tr, newFakeProvider(berlinCenter()), -1)
	require.NoError(t, tr.Finish(ctx))
	assert.Equal(t, StatusCompleted, tr.Status())

	_, status, err := Inspect(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
}

func TestInspect(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	st, status, err := Inspect(ctx, store)
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.Equal(t, StatusNotStarted, status)

	tr, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, berlinSquare(), "physiotherapist"))
	drain(t, tr, newFakeProvider(berlinCenter()), 2)

	st, status, err = Inspect(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, status)
	assert.Len(t, st.Completed, 2)
}

// fullRun processes an uninterrupted run and returns its unique ids and
// completed count.
func fullRun(t *testing.T) ([]string, int) {
	t.Helper()
	tr, err := NewTracker(newMemStore(), grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Start(context.Background(), berlinSquare(), "physiotherapist"))
	drain(t, tr, newFakeProvider(berlinCenter()), -1)
	require.NoError(t, tr.Finish(context.Background()))

	return sortedIDs(tr.Places()), len(tr.State().Completed)
}

func TestTracker_ResumeMatchesUninterruptedRun(t *testing.T) {
	wantIDs, wantCompleted := fullRun(t)
	require.Greater(t, wantCompleted, 4, "fixture should trigger refinement")

	ks := []int{0, 1, 2, 3, 4, 5, 17, wantCompleted / 2, wantCompleted - 1, wantCompleted}
	for _, k := range ks {
		ctx := context.Background()
		store := newMemStore()
		f := newFakeProvider(berlinCenter())

		first, err := NewTracker(store, grid.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, first.Start(ctx, berlinSquare(), "physiotherapist"))
		drain(t, first, f, k)

		// Crash: first is dropped without Finish.
		second, err := NewTracker(store, grid.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, second.Resume(ctx, berlinSquare(), "physiotherapist"))
		drain(t, second, f, -1)
		require.NoError(t, second.Finish(ctx))

		assert.Equal(t, wantIDs, sortedIDs(second.Places()), "k=%d", k)
		assert.Len(t, second.State().Completed, wantCompleted, "k=%d", k)
		assert.Equal(t, wantCompleted, f.calls, "k=%d: no point queried twice", k)
	}
}

func TestTracker_PersistenceFailureKeepsPointPending(t *testing.T) {
	ctx := context.Background()
	wantIDs, wantCompleted := fullRun(t)

	store := newMemStore()
	store.failSaveAt = 6 // Start saves once; the 5th point's checkpoint fails.
	f := newFakeProvider(berlinCenter())

	first, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx, berlinSquare(), "physiotherapist"))
	drain(t, first, f, 4)

	p, ok := first.Next(nil)
	require.True(t, ok)
	res, err := f.query(ctx, p)
	require.NoError(t, err)
	_, err = first.RecordPointDone(ctx, p, res)

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, p.ID, perr.PointID)
	assert.Equal(t, "save progress", perr.Op)
	assert.ErrorIs(t, err, errDiskFull)

	// The in-memory state did not advance either.
	next, ok := first.Next(nil)
	require.True(t, ok)
	assert.Equal(t, p.ID, next.ID)
	assert.Len(t, first.State().Completed, 4)

	second, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, second.Resume(ctx, berlinSquare(), "physiotherapist"))
	resumed, ok := second.Next(nil)
	require.True(t, ok)
	assert.Equal(t, p.ID, resumed.ID)

	drain(t, second, f, -1)
	require.NoError(t, second.Finish(ctx))

	assert.Equal(t, wantIDs, sortedIDs(second.Places()))
	assert.Len(t, second.State().Completed, wantCompleted)
}

func TestTracker_ResultLogFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tr, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, tr.Start(ctx, berlinSquare(), "physiotherapist"))

	store.failResult = true
	p, _ := tr.Next(nil)
	_, err = tr.RecordPointDone(ctx, p, QueryResult{RawCount: 1, Places: []PlaceStub{stub("p1", "one")}})

	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "append result", perr.Op)
	assert.Equal(t, 0, tr.UniquePlaces())
}

func TestTracker_RefinementLoggedOncePerParent(t *testing.T) {
	ctx := context.Background()
	saturated := QueryResult{RawCount: 60, Places: []PlaceStub{stub("p1", "one")}}

	t.Run("checkpoint retried in the same session", func(t *testing.T) {
		store := newMemStore()
		store.failSaveAt = 2 // the first point's checkpoint
		tr, err := NewTracker(store, grid.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, tr.Start(ctx, berlinSquare(), "physiotherapist"))

		p, _ := tr.Next(nil)
		_, err = tr.RecordPointDone(ctx, p, saturated)
		require.Error(t, err)
		require.Len(t, store.refinements, 1)

		out, err := tr.RecordPointDone(ctx, p, saturated)
		require.NoError(t, err)
		assert.True(t, out.Refined)
		assert.Len(t, store.refinements, 1)
		assert.Equal(t, 1, tr.State().RefinementCount)
	})

	t.Run("checkpoint retried after resume", func(t *testing.T) {
		store := newMemStore()
		store.failSaveAt = 2
		first, err := NewTracker(store, grid.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, first.Start(ctx, berlinSquare(), "physiotherapist"))

		p, _ := first.Next(nil)
		_, err = first.RecordPointDone(ctx, p, saturated)
		require.Error(t, err)

		second, err := NewTracker(store, grid.DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, second.Resume(ctx, berlinSquare(), "physiotherapist"))
		again, ok := second.Next(nil)
		require.True(t, ok)
		require.Equal(t, p.ID, again.ID)

		out, err := second.RecordPointDone(ctx, again, saturated)
		require.NoError(t, err)
		assert.True(t, out.Refined)
		assert.Positive(t, out.Children)
		require.Len(t, store.refinements, 1)
		assert.Equal(t, p.ID, store.refinements[0].ParentID)
	})
}

func TestTracker_ResumeIgnoresResultsOfUncheckpointedPoints(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failSaveAt = 2
	first, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx, berlinSquare(), "physiotherapist"))

	p, _ := first.Next(nil)
	res := QueryResult{RawCount: 2, Places: []PlaceStub{stub("p1", "one"), stub("p2", "two")}}
	_, err = first.RecordPointDone(ctx, p, res)
	require.Error(t, err)
	require.Len(t, store.results, 1, "the result was logged before the checkpoint failed")

	second, err := NewTracker(store, grid.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, second.Resume(ctx, berlinSquare(), "physiotherapist"))
	assert.Equal(t, 0, second.UniquePlaces())

	out, err := second.RecordPointDone(ctx, p, res)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NewPlaces)
	assert.Equal(t, 2, second.State().UniquePlaceCount)
}

func sortedIDs(places []PlaceStub) []string {
	ids := make([]string, 0, len(places))
	for _, p := range places {
		ids = append(ids, p.ID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
