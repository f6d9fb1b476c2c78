package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/paulmach/orb"

	"github.com/sells-group/placegrid/internal/grid"
)

var errDiskFull = errors.New("disk full")

// memStore is an in-memory Store. Progress is round-tripped through JSON so
// tests observe exactly what a durable store would hand back.
type memStore struct {
	mu          sync.Mutex
	progress    []byte
	results     []QueryRecord
	refinements []RefinementRecord
	ids         []string

	saves      int
	failSaveAt int // fail the n-th SaveProgress call; 0 never fails
	failResult bool
}

func newMemStore() *memStore { return &memStore{} }

func (m *memStore) SaveProgress(_ context.Context, state *ProgressState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failSaveAt > 0 && m.saves == m.failSaveAt {
		return errDiskFull
	}
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.progress = b
	return nil
}

func (m *memStore) LoadProgress(_ context.Context) (*ProgressState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.progress == nil {
		return nil, nil
	}
	var s ProgressState
	if err := json.Unmarshal(m.progress, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *memStore) AppendRefinement(_ context.Context, rec RefinementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refinements = append(m.refinements, rec)
	return nil
}

func (m *memStore) AppendUniqueIDs(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, ids...)
	return nil
}

func (m *memStore) AppendResult(_ context.Context, rec QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failResult {
		return errDiskFull
	}
	m.results = append(m.results, rec)
	return nil
}

func (m *memStore) LoadResults(_ context.Context) ([]QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.results), nil
}

func (m *memStore) LoadUniqueIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ids), nil
}

func (m *memStore) LoadRefinements(_ context.Context) ([]RefinementRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.refinements), nil
}

func (m *memStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = nil
	m.results = nil
	m.refinements = nil
	m.ids = nil
	return nil
}

// fakeProvider answers queries from a fixed set of places: a dense cluster
// around center plus a sparse scatter. Like the real provider it never
// returns more than its cap.
type fakeProvider struct {
	places []PlaceStub
	cap    int
	calls  int
	fail   map[string]error
}

func newFakeProvider(center orb.Point) *fakeProvider {
	rng := rand.New(rand.NewPCG(7, 11))
	f := &fakeProvider{cap: 60, fail: make(map[string]error)}
	add := func(spread float64) {
		dn := (rng.Float64()*2 - 1) * spread
		de := (rng.Float64()*2 - 1) * spread
		loc := orb.Point{
			center.Lon() + de/(metersPerDegree*math.Cos(center.Lat()*math.Pi/180)),
			center.Lat() + dn/metersPerDegree,
		}
		id := fmt.Sprintf("place-%03d", len(f.places))
		f.places = append(f.places, PlaceStub{ID: id, Name: "Praxis " + id, Location: loc, Types: []string{"physiotherapist"}})
	}
	for range 150 {
		add(300)
	}
	for range 40 {
		add(1500)
	}
	return f
}

func (f *fakeProvider) query(_ context.Context, p grid.GridPoint) (QueryResult, error) {
	f.calls++
	if err, ok := f.fail[p.ID]; ok {
		return QueryResult{}, err
	}
	var hits []PlaceStub
	for _, pl := range f.places {
		if grid.Distance(p.Center, pl.Location) <= p.Radius {
			hits = append(hits, pl)
		}
	}
	if len(hits) > f.cap {
		hits = hits[:f.cap]
	}
	return QueryResult{GridPointID: p.ID, RawCount: len(hits), Places: hits}, nil
}

// berlinSquare is a roughly 1km x 1km box in central Berlin.
func berlinSquare() grid.SearchArea {
	return grid.NewBoundArea("berlin-square", 52.5150, 13.4000, 52.5240, 13.4147)
}

func berlinCenter() orb.Point {
	return orb.Point{13.40735, 52.5195}
}

// metersPerDegree matches the sphere grid.Distance measures on.
var metersPerDegree = orb.EarthRadius * math.Pi / 180
