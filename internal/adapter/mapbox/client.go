package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/couchcryptid/geocode-aggregator/internal/domain"
)

// Name is the registry key of the Mapbox provider.
const Name = "mapbox"

// DefaultBaseURL is the Mapbox Places endpoint.
const DefaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Client implements domain.Provider using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Mapbox provider. An empty baseURL selects DefaultBaseURL.
func NewClient(token, baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		token:      token,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

func (c *Client) Name() string { return Name }

// Geocode converts free-form text to the first matching feature.
func (c *Client) Geocode(ctx context.Context, q domain.GeocodeQuery) (*domain.Address, error) {
	addrs, err := c.search(ctx, q, url.PathEscape(q.Text()), c.params(q))
	if err != nil {
		return nil, err
	}
	return domain.FirstWithCoordinates(addrs), nil
}

// Reverse converts a coordinate to the nearest feature.
func (c *Client) Reverse(ctx context.Context, q domain.ReverseQuery) (*domain.Address, error) {
	// Mapbox uses lon,lat order.
	coord := fmt.Sprintf("%.6f,%.6f", q.Longitude(), q.Latitude())
	params := c.params(q)
	if q.GroupBy() != domain.GroupCity {
		// Reverse lookups reject limit > 1 unless a single type is requested.
		params.Set("limit", "1")
	}
	addrs, err := c.search(ctx, q, coord, params)
	if err != nil {
		return nil, err
	}
	return domain.FirstWithCoordinates(addrs), nil
}

// Suggest returns the place names of autocomplete matches.
func (c *Client) Suggest(ctx context.Context, q domain.SuggestQuery) ([]string, error) {
	params := c.params(q)
	params.Set("autocomplete", "true")
	addrs, err := c.search(ctx, q, url.PathEscape(q.Text()), params)
	if err != nil {
		return nil, err
	}
	return domain.FormattedAddresses(addrs), nil
}

func (c *Client) Batch(ctx context.Context, b domain.BatchQuery) ([]domain.Address, error) {
	return domain.RunBatch(ctx, c, b)
}

func (c *Client) params(q domain.Query) url.Values {
	params := url.Values{"access_token": {c.token}}
	if q.Limit() > 0 {
		params.Set("limit", strconv.Itoa(q.Limit()))
	}
	if q.GroupBy() == domain.GroupCity {
		params.Set("types", "place")
	}
	return params
}

func (c *Client) search(ctx context.Context, q domain.Query, path string, params url.Values) ([]domain.Address, error) {
	fullURL := fmt.Sprintf("%s/%s.json?%s", c.baseURL, path, params.Encode())

	features, err := c.doRequest(ctx, fullURL)
	if err != nil {
		c.logger.Debug("mapbox request failed", "query", q.String(), "error", err)
		return nil, domain.NewInvalidServerResponse(Name, q, err)
	}

	addrs := make([]domain.Address, 0, len(features))
	for _, f := range features {
		addrs = append(addrs, f.toAddress())
	}
	return addrs, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mapbox request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return mapboxResp.Features, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID        string         `json:"id"`
	Center    []float64      `json:"center"` // [lon, lat]
	PlaceName string         `json:"place_name"`
	Text      string         `json:"text"`
	Relevance float64        `json:"relevance"`
	Context   []contextEntry `json:"context"`
}

// contextEntry is a parent feature, e.g. {"id":"place.123","text":"Austin"}.
type contextEntry struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	ShortCode string `json:"short_code"`
}

func (f feature) toAddress() domain.Address {
	b := domain.NewAddressBuilder(Name).SetFormattedAddress(f.PlaceName)
	if len(f.Center) == 2 {
		b.SetLongitude(f.Center[0]).SetLatitude(f.Center[1])
	}

	// The feature itself may be the place or country; its parents are in Context.
	entries := append([]contextEntry{{ID: f.ID, Text: f.Text}}, f.Context...)
	for _, e := range entries {
		switch layer, _, _ := strings.Cut(e.ID, "."); layer {
		case "place":
			b.SetCity(e.Text)
		case "postcode":
			b.SetPostalCode(e.Text)
		case "country":
			b.SetCountry(e.Text)
		}
	}
	return b.Build()
}
