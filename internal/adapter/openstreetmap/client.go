// Package openstreetmap implements a geocoding provider on top of a Nominatim
// server through github.com/codingsince1985/geo-golang.
package openstreetmap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codingsince1985/geo-golang"
	"github.com/codingsince1985/geo-golang/openstreetmap"
	"github.com/couchcryptid/geocode-aggregator/internal/domain"
)

// Name is the registry key of the OpenStreetMap provider.
const Name = "openstreetmap"

// DefaultBaseURL is the public Nominatim instance.
const DefaultBaseURL = "https://nominatim.openstreetmap.org/"

// cityZoom is the Nominatim reverse zoom level that resolves to a city.
const cityZoom = 10

// Client implements domain.Provider with a geo.Geocoder. Nominatim has no
// autocomplete endpoint, so Suggest always returns an empty list.
//
// geo-golang parses only the first Nominatim result, so a query's Limit has
// no effect here. GroupCity queries go through cityGeocoder.
type Client struct {
	geocoder     geo.Geocoder
	cityGeocoder geo.Geocoder
	logger       *slog.Logger
}

// NewClient creates a provider for the Nominatim server at baseURL. An empty
// baseURL selects DefaultBaseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	base := openstreetmap.GeocoderWithURL(baseURL).(geo.HTTPGeocoder)
	return &Client{
		geocoder: base,
		cityGeocoder: geo.HTTPGeocoder{
			EndpointBuilder:       cityEndpoint(baseURL),
			ResponseParserFactory: base.ResponseParserFactory,
		},
		logger: logger,
	}
}

// cityEndpoint builds Nominatim URLs narrowed to city-level features.
type cityEndpoint string

func (b cityEndpoint) GeocodeURL(address string) string {
	return string(b) + "search?format=json&limit=1&featuretype=city&q=" + address
}

func (b cityEndpoint) ReverseGeocodeURL(l geo.Location) string {
	return string(b) + fmt.Sprintf("reverse?format=json&zoom=%d&lat=%f&lon=%f", cityZoom, l.Lat, l.Lng)
}

func (c *Client) pick(q domain.Query) geo.Geocoder {
	if q.GroupBy() == domain.GroupCity && c.cityGeocoder != nil {
		return c.cityGeocoder
	}
	return c.geocoder
}

func (c *Client) Name() string { return Name }

// Geocode finds the coordinate for q and then reverse geocodes it for the
// address details.
func (c *Client) Geocode(ctx context.Context, q domain.GeocodeQuery) (*domain.Address, error) {
	g := c.pick(q)
	loc, err := run(ctx, func() (*geo.Location, error) { return g.Geocode(q.Text()) })
	if err != nil {
		return nil, c.fail(ctx, q, err)
	}
	if loc == nil {
		return nil, nil
	}

	b := domain.NewAddressBuilder(Name).SetLatitude(loc.Lat).SetLongitude(loc.Lng)

	details, err := run(ctx, func() (*geo.Address, error) { return g.ReverseGeocode(loc.Lat, loc.Lng) })
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		c.logger.Warn("openstreetmap address lookup failed, returning coordinates only",
			"query", q.String(),
			"error", err,
		)
	default:
		applyDetails(b, details)
	}

	addr := b.Build()
	return &addr, nil
}

// Reverse returns the address at the query coordinate.
func (c *Client) Reverse(ctx context.Context, q domain.ReverseQuery) (*domain.Address, error) {
	g := c.pick(q)
	details, err := run(ctx, func() (*geo.Address, error) {
		return g.ReverseGeocode(q.Latitude(), q.Longitude())
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, c.fail(ctx, q, err)
	}
	if details == nil || details.FormattedAddress == "" {
		return nil, nil
	}

	b := domain.NewAddressBuilder(Name).SetLatitude(q.Latitude()).SetLongitude(q.Longitude())
	applyDetails(b, details)
	addr := b.Build()
	return &addr, nil
}

// Suggest is not supported by Nominatim.
func (c *Client) Suggest(_ context.Context, _ domain.SuggestQuery) ([]string, error) {
	return []string{}, nil
}

func (c *Client) Batch(ctx context.Context, b domain.BatchQuery) ([]domain.Address, error) {
	return domain.RunBatch(ctx, c, b)
}

func (c *Client) fail(ctx context.Context, q domain.Query, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.Debug("openstreetmap request failed", "query", q.String(), "error", err)
	return domain.NewInvalidServerResponse(Name, q, err)
}

func applyDetails(b *domain.AddressBuilder, a *geo.Address) {
	if a == nil {
		return
	}
	b.SetFormattedAddress(a.FormattedAddress).
		SetCountry(a.Country).
		SetCity(a.City).
		SetPostalCode(a.Postcode)
}

// isNotFound reports Nominatim's "nothing here" reply, which geo-golang
// surfaces as an error.
func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "Unable to geocode")
}

// run executes a blocking geo-golang call and gives up when ctx is done.
// geo-golang applies its own request timeout, so the goroutine always exits.
func run[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("openstreetmap: %w", ctx.Err())
	case r := <-ch:
		return r.val, r.err
	}
}
