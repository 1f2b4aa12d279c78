// Package dadata implements a geocoding provider backed by the DaData.ru
// suggestions API.
package dadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Name is the registry key of the DaData provider.
const Name = "dadata"

// DefaultBaseURL is the root of the DaData suggestions REST API.
const DefaultBaseURL = "https://suggestions.dadata.ru/suggestions/api/4_1/rs"

// DefaultProxyPort is used when a proxy host is set without a port.
const DefaultProxyPort = 80

const (
	suggestPath   = "/suggest/address"
	geolocatePath = "/geolocate/address"
)

// Config holds the credentials and transport settings for a Client.
type Config struct {
	Token     string
	BaseURL   string
	Proxy     string
	ProxyPort int
	Timeout   time.Duration
}

// Client implements domain.Provider using the DaData suggestions API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a DaData provider. When cfg.Proxy is set all requests are
// routed through it.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("dadata token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxy, err := proxyURL(cfg.Proxy, cfg.ProxyPort)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(transport),
	}

	return &Client{
		token:      cfg.Token,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     logger,
	}, nil
}

func proxyURL(host string, port int) (*url.URL, error) {
	if port == 0 {
		port = DefaultProxyPort
	}
	raw := host
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse dadata proxy %q: %w", host, err)
	}
	if u.Port() == "" {
		u.Host = u.Hostname() + ":" + strconv.Itoa(port)
	}
	return u, nil
}

func (c *Client) Name() string { return Name }

// Geocode returns the first suggestion that carries coordinates.
func (c *Client) Geocode(ctx context.Context, q domain.GeocodeQuery) (*domain.Address, error) {
	addrs, err := c.execute(ctx, q, suggestPath, c.textRequest(q))
	if err != nil {
		return nil, err
	}
	return first(addrs), nil
}

// Reverse returns the nearest address to the query coordinate.
func (c *Client) Reverse(ctx context.Context, q domain.ReverseQuery) (*domain.Address, error) {
	body := request{
		Count: q.Limit(),
		Lat:   ptr(q.Latitude()),
		Lon:   ptr(q.Longitude()),
	}
	applyGroup(&body, q)

	addrs, err := c.execute(ctx, q, geolocatePath, body)
	if err != nil {
		return nil, err
	}
	return first(addrs), nil
}

// Suggest returns the unrestricted value of every suggestion.
func (c *Client) Suggest(ctx context.Context, q domain.SuggestQuery) ([]string, error) {
	addrs, err := c.execute(ctx, q, suggestPath, c.textRequest(q))
	if err != nil {
		return nil, err
	}
	return domain.FormattedAddresses(addrs), nil
}

func (c *Client) Batch(ctx context.Context, b domain.BatchQuery) ([]domain.Address, error) {
	return domain.RunBatch(ctx, c, b)
}

func (c *Client) textRequest(q domain.Query) request {
	body := request{Count: q.Limit(), Query: q.Text()}
	applyGroup(&body, q)
	return body
}

// applyGroup restricts results to settlements for city grouping.
func applyGroup(body *request, q domain.Query) {
	if q.GroupBy() == domain.GroupCity {
		body.FromBound = &bound{Value: "city"}
		body.ToBound = &bound{Value: "city"}
	}
}

// first mirrors the provider contract: only the first suggestion is
// considered, and only if DaData resolved its coordinates.
func first(addrs []domain.Address) *domain.Address {
	if len(addrs) == 0 || !addrs[0].HasCoordinates() {
		return nil
	}
	a := addrs[0]
	return &a
}

func (c *Client) execute(ctx context.Context, q domain.Query, path string, body request) ([]domain.Address, error) {
	suggestions, err := c.doRequest(ctx, c.baseURL+path, body)
	if err != nil {
		c.logger.Debug("dadata request failed", "query", q.String(), "error", err)
		return nil, domain.NewInvalidServerResponse(Name, q, err)
	}

	addrs := make([]domain.Address, 0, len(suggestions))
	for _, s := range suggestions {
		addrs = append(addrs, s.toAddress())
	}
	return addrs, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string, body request) ([]suggestion, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dadata request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("dadata API error: status %d: %s", resp.StatusCode, respBody)
	}

	var dadataResp response
	if err := json.NewDecoder(resp.Body).Decode(&dadataResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return dadataResp.Suggestions, nil
}

func ptr(v float64) *float64 { return &v }

// DaData API request and response types.

type request struct {
	Count     int      `json:"count,omitempty"`
	Query     string   `json:"query,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	FromBound *bound   `json:"from_bound,omitempty"`
	ToBound   *bound   `json:"to_bound,omitempty"`
}

type bound struct {
	Value string `json:"value"`
}

type response struct {
	Suggestions []suggestion `json:"suggestions"`
}

type suggestion struct {
	Value             string         `json:"value"`
	UnrestrictedValue string         `json:"unrestricted_value"`
	Data              suggestionData `json:"data"`
}

// suggestionData is the subset of DaData's address object the provider uses.
// Coordinates arrive as decimal strings, or null when unresolved.
type suggestionData struct {
	GeoLat     *string `json:"geo_lat"`
	GeoLon     *string `json:"geo_lon"`
	Country    string  `json:"country"`
	City       string  `json:"city"`
	Settlement string  `json:"settlement"`
	PostalCode string  `json:"postal_code"`
}

func (s suggestion) toAddress() domain.Address {
	b := domain.NewAddressBuilder(Name).
		SetFormattedAddress(s.UnrestrictedValue).
		SetCountry(s.Data.Country).
		SetPostalCode(s.Data.PostalCode)

	city := s.Data.City
	if city == "" {
		city = s.Data.Settlement
	}
	b.SetCity(city)

	if lat, ok := parseCoord(s.Data.GeoLat); ok {
		b.SetLatitude(lat)
	}
	if lon, ok := parseCoord(s.Data.GeoLon); ok {
		b.SetLongitude(lon)
	}
	return b.Build()
}

func parseCoord(s *string) (float64, bool) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(*s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
