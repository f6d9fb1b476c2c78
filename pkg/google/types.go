package google

import "strconv"

// Response statuses returned in the body of Places and Geocoding responses.
const (
	StatusOK             = "OK"
	StatusZeroResults    = "ZERO_RESULTS"
	StatusOverQueryLimit = "OVER_QUERY_LIMIT"
	StatusRequestDenied  = "REQUEST_DENIED"
	StatusInvalidRequest = "INVALID_REQUEST"
	StatusUnknownError   = "UNKNOWN_ERROR"
)

// PageSize is the number of results per Nearby Search page. The API returns
// at most three pages.
const PageSize = 20

// LatLng is a coordinate as the Maps APIs encode it.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l LatLng) String() string {
	return strconv.FormatFloat(l.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(l.Lng, 'f', 6, 64)
}

// Geometry holds a result's location and, for geocoding results, its viewport.
type Geometry struct {
	Location LatLng    `json:"location"`
	Viewport *Viewport `json:"viewport,omitempty"`
}

// Viewport is the recommended bounding box for displaying a result.
type Viewport struct {
	Northeast LatLng `json:"northeast"`
	Southwest LatLng `json:"southwest"`
}

// NearbySearchRequest is one Nearby Search call. When PageToken is set the
// other fields are ignored by the API.
type NearbySearchRequest struct {
	Location  LatLng
	Radius    float64
	Type      string
	Keyword   string
	PageToken string
}

// NearbySearchResponse is one page of Nearby Search results.
type NearbySearchResponse struct {
	Results       []PlaceResult `json:"results"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	Status        string        `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// PlaceResult is a place in a Nearby Search response.
type PlaceResult struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	Geometry         Geometry `json:"geometry"`
	Types            []string `json:"types,omitempty"`
	Vicinity         string   `json:"vicinity,omitempty"`
	BusinessStatus   string   `json:"business_status,omitempty"`
	Rating           float64  `json:"rating,omitempty"`
	UserRatingsTotal int      `json:"user_ratings_total,omitempty"`
}

// GeocodeResult is a resolved address.
type GeocodeResult struct {
	PlaceID          string   `json:"place_id"`
	FormattedAddress string   `json:"formatted_address"`
	Geometry         Geometry `json:"geometry"`
	Types            []string `json:"types,omitempty"`
}

type geocodeResponse struct {
	Results      []GeocodeResult `json:"results"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
