package transport

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placegrid/pkg/google"
)

// dryRunCap is the most results the dry-run provider returns for one query,
// matching the live API's three pages of twenty.
const dryRunCap = 3 * google.PageSize

type hotspot struct {
	name   string
	center orb.Point
	radius float64
	places int
}

// Known dense districts of Berlin with a synthetic place population each.
var hotspots = []hotspot{
	{name: "alexanderplatz", center: orb.Point{13.404954, 52.520008}, radius: 2000, places: 900},
	{name: "kreuzberg", center: orb.Point{13.391794, 52.504556}, radius: 1500, places: 300},
	{name: "mitte", center: orb.Point{13.386, 52.531}, radius: 1200, places: 500},
	{name: "tiergarten", center: orb.Point{13.3765, 52.5182}, radius: 1800, places: 250},
}

// berlinViewport is the viewport the Geocoding API returns for Berlin.
var berlinViewport = google.Viewport{
	Northeast: google.LatLng{Lat: 52.6755087, Lng: 13.7611609},
	Southwest: google.LatLng{Lat: 52.3382448, Lng: 13.0883450},
}

// backgroundPlaces are spread uniformly over the whole viewport.
const backgroundPlaces = 1200

// DryRun is an offline google.Client backed by a fixed synthetic population
// of places around Berlin. The same place type always yields the same
// population, so dry runs are reproducible and resumable.
type DryRun struct {
	placeType string
	places    []google.PlaceResult

	mu     sync.Mutex
	pages  map[string][]google.PlaceResult
	tokens int
}

// NewDryRun builds the synthetic population for placeType.
func NewDryRun(placeType string) *DryRun {
	h := fnv.New64a()
	_, _ = h.Write([]byte(placeType))
	seed := h.Sum64()

	d := &DryRun{
		placeType: placeType,
		pages:     make(map[string][]google.PlaceResult),
	}
	for i, hs := range hotspots {
		rng := rand.New(rand.NewPCG(seed, uint64(i+1)))
		for n := range hs.places {
			dist := hs.radius * math.Sqrt(rng.Float64())
			loc := geo.PointAtBearingAndDistance(hs.center, rng.Float64()*360, dist)
			d.places = append(d.places, d.place(fmt.Sprintf("dry_%s_%04d", hs.name, n), hs.name, loc, rng))
		}
	}

	rng := rand.New(rand.NewPCG(seed, 0))
	sw, ne := berlinViewport.Southwest, berlinViewport.Northeast
	for n := range backgroundPlaces {
		loc := orb.Point{
			sw.Lng + rng.Float64()*(ne.Lng-sw.Lng),
			sw.Lat + rng.Float64()*(ne.Lat-sw.Lat),
		}
		d.places = append(d.places, d.place(fmt.Sprintf("dry_outer_%04d", n), "outer", loc, rng))
	}
	return d
}

func (d *DryRun) place(id, district string, loc orb.Point, rng *rand.Rand) google.PlaceResult {
	return google.PlaceResult{
		PlaceID:          id,
		Name:             fmt.Sprintf("%s %s %s", d.placeType, district, id[len(id)-4:]),
		Geometry:         google.Geometry{Location: google.LatLng{Lat: loc.Lat(), Lng: loc.Lon()}},
		Types:            []string{d.placeType, "point_of_interest", "establishment"},
		Vicinity:         district + ", Berlin",
		BusinessStatus:   "OPERATIONAL",
		Rating:           math.Round((3+2*rng.Float64())*10) / 10,
		UserRatingsTotal: 1 + rng.IntN(150),
	}
}

// NearbySearch returns the places within the radius, nearest first, capped
// and paged like the live API.
func (d *DryRun) NearbySearch(ctx context.Context, req google.NearbySearchRequest) (*google.NearbySearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if req.PageToken != "" {
		rest, ok := d.pages[req.PageToken]
		if !ok {
			return nil, &google.APIError{Status: google.StatusInvalidRequest, Message: "unknown page token"}
		}
		delete(d.pages, req.PageToken)
		return d.page(rest), nil
	}

	if req.Type != "" && req.Type != d.placeType {
		return &google.NearbySearchResponse{Status: google.StatusZeroResults}, nil
	}

	center := orb.Point{req.Location.Lng, req.Location.Lat}
	type hit struct {
		dist float64
		p    google.PlaceResult
	}
	var hits []hit
	for _, p := range d.places {
		dist := geo.DistanceHaversine(center, orb.Point{p.Geometry.Location.Lng, p.Geometry.Location.Lat})
		if dist <= req.Radius {
			hits = append(hits, hit{dist: dist, p: p})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].p.PlaceID < hits[j].p.PlaceID
	})
	if len(hits) > dryRunCap {
		hits = hits[:dryRunCap]
	}

	results := make([]google.PlaceResult, len(hits))
	for i, h := range hits {
		results[i] = h.p
	}
	return d.page(results), nil
}

// page returns the first PageSize results and parks the rest behind a token.
// Callers hold d.mu.
func (d *DryRun) page(results []google.PlaceResult) *google.NearbySearchResponse {
	if len(results) == 0 {
		return &google.NearbySearchResponse{Status: google.StatusZeroResults}
	}
	resp := &google.NearbySearchResponse{Status: google.StatusOK}
	if len(results) <= google.PageSize {
		resp.Results = results
		return resp
	}
	resp.Results = results[:google.PageSize]
	d.tokens++
	resp.NextPageToken = fmt.Sprintf("dry-page-%d", d.tokens)
	d.pages[resp.NextPageToken] = results[google.PageSize:]
	return resp
}

// Geocode resolves every address to Berlin, the only city with a synthetic
// population.
func (d *DryRun) Geocode(ctx context.Context, address string) (*google.GeocodeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if address == "" {
		return nil, eris.New("transport: dry run geocode: empty address")
	}
	vp := berlinViewport
	return &google.GeocodeResult{
		PlaceID:          "dry_berlin",
		FormattedAddress: address,
		Geometry: google.Geometry{
			Location: google.LatLng{Lat: 52.520008, Lng: 13.404954},
			Viewport: &vp,
		},
		Types: []string{"locality", "political"},
	}, nil
}
