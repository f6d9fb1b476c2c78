package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/placegrid/internal/resilience"
)

const defaultBaseURL = "https://maps.googleapis.com/maps/api"

// Client performs Google Maps Places and Geocoding operations.
type Client interface {
	NearbySearch(ctx context.Context, req NearbySearchRequest) (*NearbySearchResponse, error)
	Geocode(ctx context.Context, address string) (*GeocodeResult, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables the
// limiter.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p resilience.Policy) Option {
	return func(c *httpClient) {
		c.retry = p
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.Policy
}

// NewClient creates a Google Maps API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 1),
		retry:   resilience.DefaultPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.LogRetries("google")
	}
	return c
}

func (c *httpClient) NearbySearch(ctx context.Context, req NearbySearchRequest) (*NearbySearchResponse, error) {
	q := url.Values{}
	if req.PageToken != "" {
		// A page token carries the original query; other parameters are ignored.
		q.Set("pagetoken", req.PageToken)
	} else {
		q.Set("location", req.Location.String())
		q.Set("radius", strconv.FormatFloat(req.Radius, 'f', 0, 64))
		if req.Type != "" {
			q.Set("type", req.Type)
		}
		if req.Keyword != "" {
			q.Set("keyword", req.Keyword)
		}
	}

	resp, err := getJSON(ctx, c, "/place/nearbysearch/json", q, req.PageToken != "",
		func(r *NearbySearchResponse) (string, string) { return r.Status, r.ErrorMessage })
	if err != nil {
		return nil, eris.Wrap(err, "google: nearby search")
	}
	return resp, nil
}

func (c *httpClient) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	if address == "" {
		return nil, eris.New("google: geocode: empty address")
	}
	q := url.Values{}
	q.Set("address", address)

	resp, err := getJSON(ctx, c, "/geocode/json", q, false,
		func(r *geocodeResponse) (string, string) { return r.Status, r.ErrorMessage })
	if err != nil {
		return nil, eris.Wrapf(err, "google: geocode %q", address)
	}
	if len(resp.Results) == 0 {
		return nil, eris.Errorf("google: geocode %q: no results", address)
	}
	return &resp.Results[0], nil
}

// getJSON issues a rate-limited, retried GET and decodes the body into a
// fresh T on every attempt. status reads the provider status from the body.
func getJSON[T any](ctx context.Context, c *httpClient, path string, q url.Values, paging bool, status func(*T) (string, string)) (*T, error) {
	q.Set("key", c.apiKey)
	endpoint := c.baseURL + path + "?" + q.Encode()

	return resilience.Call(ctx, c.retry, func(ctx context.Context) (*T, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "rate limit wait")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, eris.Wrap(err, "create request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			// url.Error repeats the request URL, which carries the API key.
			var uerr *url.Error
			if errors.As(err, &uerr) {
				err = uerr.Err
			}
			return nil, eris.Wrap(err, "send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.Retry(eris.Wrap(err, "read response"))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &resilience.HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		out := new(T)
		if err := json.Unmarshal(body, out); err != nil {
			return nil, eris.Wrap(err, "unmarshal response")
		}
		st, msg := status(out)
		if err := classify(st, msg, paging); err != nil {
			return nil, err
		}
		return out, nil
	})
}

// classify returns nil for statuses that carry a usable body and an
// *APIError otherwise.
func classify(status, message string, paging bool) error {
	switch status {
	case StatusOK, StatusZeroResults:
		return nil
	}
	return &APIError{Status: status, Message: message, paging: paging}
}

// APIError is a non-OK status returned in the response body.
type APIError struct {
	Status  string
	Message string

	paging bool
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("google: status %s", e.Status)
	}
	return fmt.Sprintf("google: status %s: %s", e.Status, e.Message)
}

// Retryable reports whether the same request may succeed later. A fresh
// next_page_token answers INVALID_REQUEST until it becomes valid, so that
// status is retried only for page requests.
func (e *APIError) Retryable() bool {
	if e.Status == StatusInvalidRequest {
		return e.paging
	}
	return resilience.TransientStatus(e.Status)
}
