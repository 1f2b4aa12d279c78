package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/couchcryptid/geocode-aggregator/internal/adapter/httpadapter"
	"github.com/couchcryptid/geocode-aggregator/internal/aggregator"
	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"github.com/couchcryptid/geocode-aggregator/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockGeocoder struct {
	addr    *domain.Address
	suggest aggregator.SuggestResult
	batch   aggregator.BatchResult
	err     error

	lastProvider string
	lastGeocode  domain.GeocodeQuery
	lastReverse  domain.ReverseQuery
	lastBatch    domain.BatchQuery
}

func (m *mockGeocoder) Geocode(_ context.Context, q domain.GeocodeQuery, provider string) (*domain.Address, error) {
	m.lastGeocode, m.lastProvider = q, provider
	return m.addr, m.err
}

func (m *mockGeocoder) Reverse(_ context.Context, q domain.ReverseQuery, provider string) (*domain.Address, error) {
	m.lastReverse, m.lastProvider = q, provider
	return m.addr, m.err
}

func (m *mockGeocoder) Suggest(_ context.Context, _ domain.SuggestQuery, provider string) (aggregator.SuggestResult, error) {
	m.lastProvider = provider
	return m.suggest, m.err
}

func (m *mockGeocoder) Batch(_ context.Context, b domain.BatchQuery, provider string) (aggregator.BatchResult, error) {
	m.lastBatch, m.lastProvider = b, provider
	return m.batch, m.err
}

func berlin() *domain.Address {
	a := domain.NewAddressBuilder("mapbox").
		SetLatitude(52.517037).
		SetLongitude(13.38886).
		SetCity("Berlin").
		Build()
	return &a
}

func newTestServer(g httpadapter.Geocoder, readyErr error) (*httpadapter.Server, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	return httpadapter.NewServer(":0", g, &mockReadiness{err: readyErr}, metrics, slog.Default()), metrics
}

func serve(srv *httpadapter.Server, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// --- health ---

func TestHealthzReturns200(t *testing.T) {
	srv, _ := newTestServer(&mockGeocoder{}, nil)
	rec := serve(srv, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv, _ := newTestServer(&mockGeocoder{}, nil)
	rec := serve(srv, http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody(t, rec)["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv, _ := newTestServer(&mockGeocoder{}, fmt.Errorf("no providers registered"))
	rec := serve(srv, http.MethodGet, "/readyz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no providers registered", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(&mockGeocoder{}, nil)
	rec := serve(srv, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

// --- geocoding routes ---

func TestGeocode_Found(t *testing.T) {
	g := &mockGeocoder{addr: berlin()}
	srv, metrics := newTestServer(g, nil)

	rec := serve(srv, http.MethodGet, "/v1/geocode?q=Berlin&provider=mapbox&group_by=city&limit=3", "")

	require.Equal(t, http.StatusOK, rec.Code)
	addr := decodeBody(t, rec)["address"].(map[string]any)
	assert.Equal(t, "mapbox", addr["provided_by"])
	assert.Equal(t, "Berlin", addr["city"])

	assert.Equal(t, "mapbox", g.lastProvider)
	assert.Equal(t, "Berlin", g.lastGeocode.Text())
	assert.Equal(t, domain.GroupCity, g.lastGeocode.GroupBy())
	assert.Equal(t, 3, g.lastGeocode.Limit())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("geocode", "200")), 0)
}

func TestGeocode_NotFound(t *testing.T) {
	srv, metrics := newTestServer(&mockGeocoder{}, nil)

	rec := serve(srv, http.MethodGet, "/v1/geocode?q=Atlantis", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no address found", decodeBody(t, rec)["error"])
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("geocode", "404")), 0)
}

func TestGeocode_InvalidInput(t *testing.T) {
	srv, _ := newTestServer(&mockGeocoder{addr: berlin()}, nil)

	for _, target := range []string{
		"/v1/geocode",
		"/v1/geocode?q=%20%20",
		"/v1/geocode?q=Berlin&group_by=street",
		"/v1/geocode?q=Berlin&limit=many",
		"/v1/geocode?q=Berlin&limit=-1",
	} {
		rec := serve(srv, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGeocode_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown provider", &domain.UnknownProviderError{Name: "nope"}, http.StatusNotFound},
		{"upstream failure", &domain.InvalidServerResponse{Provider: "mapbox", Query: "Berlin", Err: errors.New("status 500")}, http.StatusBadGateway},
		{"timeout", &domain.InvalidServerResponse{Provider: "mapbox", Query: "Berlin", Err: domain.ErrProviderTimeout}, http.StatusGatewayTimeout},
		{"wrapped upstream failure", fmt.Errorf("geocode %q: %w", "Berlin",
			&domain.InvalidServerResponse{Provider: "dadata", Query: "Berlin"}), http.StatusBadGateway},
		{"client went away", fmt.Errorf("geocode: %w", context.Canceled), 499},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(&mockGeocoder{err: tc.err}, nil)
			rec := serve(srv, http.MethodGet, "/v1/geocode?q=Berlin", "")
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.err.Error(), decodeBody(t, rec)["error"])
		})
	}
}

func TestReverse(t *testing.T) {
	g := &mockGeocoder{addr: berlin()}
	srv, _ := newTestServer(g, nil)

	rec := serve(srv, http.MethodGet, "/v1/reverse?lat=52.517037&lon=13.38886", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 52.517037, g.lastReverse.Latitude(), 1e-9)
	assert.InDelta(t, 13.38886, g.lastReverse.Longitude(), 1e-9)
}

func TestReverse_InvalidCoordinates(t *testing.T) {
	srv, _ := newTestServer(&mockGeocoder{addr: berlin()}, nil)

	for _, target := range []string{
		"/v1/reverse?lon=13.4",
		"/v1/reverse?lat=north&lon=13.4",
		"/v1/reverse?lat=95&lon=13.4",
		"/v1/reverse?lat=52.5&lon=181",
	} {
		rec := serve(srv, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestSuggest(t *testing.T) {
	g := &mockGeocoder{suggest: aggregator.SuggestResult{
		Suggestions: []string{"Berlin, Germany", "Berlin, NH"},
		Failures: []domain.ProviderFailure{
			{Provider: "dadata", Query: "Berl", Err: errors.New("status 403")},
		},
	}}
	srv, _ := newTestServer(g, nil)

	rec := serve(srv, http.MethodGet, "/v1/suggest?q=Berl", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Suggestions []string `json:"suggestions"`
		Failures    []struct {
			Provider string `json:"provider"`
			Error    string `json:"error"`
		} `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Berlin, Germany", "Berlin, NH"}, body.Suggestions)
	require.Len(t, body.Failures, 1)
	assert.Equal(t, "dadata", body.Failures[0].Provider)
	assert.Equal(t, "status 403", body.Failures[0].Error)
}

func TestBatch(t *testing.T) {
	g := &mockGeocoder{batch: aggregator.BatchResult{
		Addresses: []domain.Address{*berlin()},
		Failures:  []domain.ProviderFailure{},
	}}
	srv, metrics := newTestServer(g, nil)

	rec := serve(srv, http.MethodPost, "/v1/batch", `{
		"id": "req-1",
		"provider": "mapbox",
		"queries": [
			{"type": "geocode", "text": "Berlin"},
			{"type": "reverse", "lat": 52.517037, "lon": 13.38886}
		]
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "req-1", body["id"])
	assert.Len(t, body["addresses"], 1)
	assert.Empty(t, body["failures"])
	assert.Equal(t, "mapbox", g.lastProvider)
	assert.Equal(t, 2, g.lastBatch.Len())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("batch", "200")), 0)
}

func TestBatch_BadRequests(t *testing.T) {
	srv, _ := newTestServer(&mockGeocoder{}, nil)

	for _, body := range []string{
		`not json`,
		`{"queries":[{"type":"teleport","text":"x"}]}`,
		`{"queries":[{"type":"reverse","lat":52.5}]}`,
	} {
		rec := serve(srv, http.MethodPost, "/v1/batch", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestBatch_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(&mockGeocoder{}, nil)
	rec := serve(srv, http.MethodGet, "/v1/batch", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_WithAggregator(t *testing.T) {
	agg := aggregator.New(aggregator.Options{})
	srv, _ := newTestServer(agg, nil)

	rec := serve(srv, http.MethodGet, "/v1/geocode?q=Berlin&provider=mapbox", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "mapbox")

	rec = serve(srv, http.MethodGet, "/v1/geocode?q=Berlin", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no address found", decodeBody(t, rec)["error"])
}
