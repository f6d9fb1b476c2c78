// Package transport connects the search core to a places provider: it turns
// a grid point into one paginated Nearby Search and offers a deterministic
// offline provider for dry runs.
package transport

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placegrid/internal/grid"
	"github.com/sells-group/placegrid/internal/search"
	"github.com/sells-group/placegrid/pkg/google"
)

const (
	// defaultMaxPages is the Nearby Search page limit (3 pages of 20).
	defaultMaxPages = 3
	// defaultPageDelay is how long a next_page_token takes to become valid.
	defaultPageDelay = 2 * time.Second
)

// Places queries one grid point against the Nearby Search API.
type Places struct {
	client    google.Client
	placeType string
	keyword   string
	maxPages  int
	pageDelay time.Duration
	calls     int
}

// PlacesOption configures Places.
type PlacesOption func(*Places)

// WithMaxPages caps the pages fetched per grid point.
func WithMaxPages(n int) PlacesOption {
	return func(p *Places) {
		if n > 0 {
			p.maxPages = n
		}
	}
}

// WithPageDelay sets the wait before each page-token request.
func WithPageDelay(d time.Duration) PlacesOption {
	return func(p *Places) {
		if d >= 0 {
			p.pageDelay = d
		}
	}
}

// WithKeyword narrows results by a free-text keyword.
func WithKeyword(k string) PlacesOption {
	return func(p *Places) {
		p.keyword = k
	}
}

// NewPlaces creates a Places transport for one place type.
func NewPlaces(client google.Client, placeType string, opts ...PlacesOption) *Places {
	p := &Places{
		client:    client,
		placeType: placeType,
		maxPages:  defaultMaxPages,
		pageDelay: defaultPageDelay,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Calls returns the number of HTTP-level requests issued so far, counting
// every page.
func (p *Places) Calls() int { return p.calls }

// Query fetches every page for the point and returns the combined result.
// RawCount is the number of results over all pages, so a saturated point
// reports the provider cap.
func (p *Places) Query(ctx context.Context, pt grid.GridPoint) (search.QueryResult, error) {
	log := zap.L().With(zap.String("component", "transport"), zap.String("point", pt.ID))

	res := search.QueryResult{GridPointID: pt.ID}
	req := google.NearbySearchRequest{
		Location: google.LatLng{Lat: pt.Lat(), Lng: pt.Lon()},
		Radius:   pt.Radius,
		Type:     p.placeType,
		Keyword:  p.keyword,
	}

	for page := 0; page < p.maxPages; page++ {
		if page > 0 {
			if err := sleep(ctx, p.pageDelay); err != nil {
				return search.QueryResult{}, eris.Wrap(err, "transport: wait for page token")
			}
		}

		p.calls++
		resp, err := p.client.NearbySearch(ctx, req)
		if err != nil {
			return search.QueryResult{}, eris.Wrapf(err, "transport: nearby search page %d", page+1)
		}

		res.RawCount += len(resp.Results)
		for _, r := range resp.Results {
			if r.PlaceID == "" {
				continue
			}
			res.Places = append(res.Places, toStub(r))
		}

		if resp.NextPageToken == "" {
			break
		}
		req = google.NearbySearchRequest{PageToken: resp.NextPageToken}
	}

	log.Debug("point queried", zap.Int("raw_count", res.RawCount), zap.Int("places", len(res.Places)))
	return res, nil
}

func toStub(r google.PlaceResult) search.PlaceStub {
	return search.PlaceStub{
		ID:       r.PlaceID,
		Name:     r.Name,
		Location: orb.Point{r.Geometry.Location.Lng, r.Geometry.Location.Lat},
		Types:    r.Types,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
