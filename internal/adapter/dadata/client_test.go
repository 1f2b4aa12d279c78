package dadata

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

const moscowResponse = `{"suggestions":[
	{"value":"г Москва, ул Тверская, д 1","unrestricted_value":"125009, г Москва, ул Тверская, д 1",
	 "data":{"geo_lat":"55.7577","geo_lon":"37.6138","country":"Россия","city":"Москва","postal_code":"125009"}},
	{"value":"г Москва, ул Тверская, д 2","unrestricted_value":"125009, г Москва, ул Тверская, д 2",
	 "data":{"geo_lat":null,"geo_lon":null,"country":"Россия","city":"Москва","postal_code":"125009"}}
]}`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{Token: testToken, BaseURL: baseURL, Timeout: 5 * time.Second}, discardLogger())
	require.NoError(t, err)
	return c
}

// recorder captures the last request body sent to a fake DaData server.
type recorder struct {
	path   string
	header http.Header
	body   map[string]any
}

func fakeServer(t *testing.T, status int, respBody string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.path = r.URL.Path
		rec.header = r.Header.Clone()
		rec.body = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(Config{}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}

func TestClient_Geocode(t *testing.T) {
	srv, rec := fakeServer(t, http.StatusOK, moscowResponse)

	q, err := domain.NewGeocodeQuery("Москва, Тверская 1", domain.WithLimit(5))
	require.NoError(t, err)

	addr, err := testClient(t, srv.URL).Geocode(context.Background(), q)
	require.NoError(t, err)
	require.NotNil(t, addr)

	assert.Equal(t, "/suggest/address", rec.path)
	assert.Equal(t, "Token "+testToken, rec.header.Get("Authorization"))
	assert.Equal(t, "application/json", rec.header.Get("Accept"))
	assert.Equal(t, "application/json", rec.header.Get("Content-Type"))
	assert.Equal(t, "Москва, Тверская 1", rec.body["query"])
	assert.InDelta(t, 5, rec.body["count"], 0)

	assert.Equal(t, Name, addr.ProvidedBy)
	assert.InDelta(t, 55.7577, *addr.Latitude, 1e-9)
	assert.InDelta(t, 37.6138, *addr.Longitude, 1e-9)
	assert.Equal(t, "125009, г Москва, ул Тверская, д 1", addr.FormattedAddress)
	assert.Equal(t, "Москва", addr.City)
	assert.Equal(t, "Россия", addr.Country)
	assert.Equal(t, "125009", addr.PostalCode)
}

func TestClient_Geocode_FirstWithoutCoordinatesIsAbsent(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusOK, `{"suggestions":[
		{"unrestricted_value":"somewhere","data":{"geo_lat":null,"geo_lon":null}},
		{"unrestricted_value":"elsewhere","data":{"geo_lat":"1","geo_lon":"2"}}
	]}`)

	q, err := domain.NewGeocodeQuery("somewhere")
	require.NoError(t, err)
	addr, err := testClient(t, srv.URL).Geocode(context.Background(), q)
	require.NoError(t, err)
	assert.Nil(t, addr)
}

func TestClient_Geocode_EmptySuggestions(t *testing.T) {
	for _, body := range []string{`{"suggestions":[]}`, `{}`} {
		srv, _ := fakeServer(t, http.StatusOK, body)
		q, err := domain.NewGeocodeQuery("nowhere")
		require.NoError(t, err)

		addr, err := testClient(t, srv.URL).Geocode(context.Background(), q)
		require.NoError(t, err)
		assert.Nil(t, addr)
	}
}

func TestClient_GroupNarrowing(t *testing.T) {
	tests := []struct {
		group     domain.QueryGroup
		wantBound bool
	}{
		{domain.GroupNone, false},
		{domain.GroupAddress, false},
		{domain.GroupCity, true},
	}
	for _, tt := range tests {
		t.Run(tt.group.String(), func(t *testing.T) {
			srv, rec := fakeServer(t, http.StatusOK, moscowResponse)
			q, err := domain.NewGeocodeQuery("Москва", domain.WithGroupBy(tt.group))
			require.NoError(t, err)

			_, err = testClient(t, srv.URL).Geocode(context.Background(), q)
			require.NoError(t, err)

			if tt.wantBound {
				assert.Equal(t, map[string]any{"value": "city"}, rec.body["from_bound"])
				assert.Equal(t, map[string]any{"value": "city"}, rec.body["to_bound"])
			} else {
				assert.NotContains(t, rec.body, "from_bound")
				assert.NotContains(t, rec.body, "to_bound")
			}
		})
	}
}

func TestClient_Reverse(t *testing.T) {
	srv, rec := fakeServer(t, http.StatusOK, moscowResponse)

	q, err := domain.NewReverseQuery(55.7577, 37.6138)
	require.NoError(t, err)
	addr, err := testClient(t, srv.URL).Reverse(context.Background(), q)
	require.NoError(t, err)
	require.NotNil(t, addr)

	assert.Equal(t, "/geolocate/address", rec.path)
	assert.InDelta(t, 55.7577, rec.body["lat"], 1e-9)
	assert.InDelta(t, 37.6138, rec.body["lon"], 1e-9)
	assert.NotContains(t, rec.body, "query")
}

func TestClient_Suggest(t *testing.T) {
	srv, rec := fakeServer(t, http.StatusOK, moscowResponse)

	q, err := domain.NewSuggestQuery("Москва Тверская")
	require.NoError(t, err)
	got, err := testClient(t, srv.URL).Suggest(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, "/suggest/address", rec.path)
	assert.Equal(t, []string{
		"125009, г Москва, ул Тверская, д 1",
		"125009, г Москва, ул Тверская, д 2",
	}, got)
}

func TestClient_AcceptsAny2xx(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusNonAuthoritativeInfo, moscowResponse)

	q, err := domain.NewGeocodeQuery("Москва, Тверская 1")
	require.NoError(t, err)
	addr, err := testClient(t, srv.URL).Geocode(context.Background(), q)
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.Equal(t, "Москва", addr.City)
}

func TestClient_ServerError(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusForbidden, `{"message":"Forbidden"}`)

	q, err := domain.NewGeocodeQuery("Москва")
	require.NoError(t, err)
	_, err = testClient(t, srv.URL).Geocode(context.Background(), q)

	var isr *domain.InvalidServerResponse
	require.ErrorAs(t, err, &isr)
	assert.Equal(t, Name, isr.Provider)
	assert.Equal(t, "Москва", isr.Query)
	assert.Contains(t, err.Error(), "403")
}

func TestClient_UndecodableBody(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusOK, `<html>`)

	q, err := domain.NewSuggestQuery("Москва")
	require.NoError(t, err)
	_, err = testClient(t, srv.URL).Suggest(context.Background(), q)

	var isr *domain.InvalidServerResponse
	require.ErrorAs(t, err, &isr)
}

func TestClient_Proxy(t *testing.T) {
	var proxiedHost string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxiedHost = r.URL.Host
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(moscowResponse))
	}))
	defer proxy.Close()

	host, portStr, err := net.SplitHostPort(proxy.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := NewClient(Config{
		Token:     testToken,
		BaseURL:   "http://dadata.example/rs",
		Proxy:     host,
		ProxyPort: port,
		Timeout:   5 * time.Second,
	}, discardLogger())
	require.NoError(t, err)

	q, err := domain.NewGeocodeQuery("Москва")
	require.NoError(t, err)
	addr, err := c.Geocode(context.Background(), q)
	require.NoError(t, err)
	require.NotNil(t, addr)
	assert.Equal(t, "dadata.example", proxiedHost)
}

func TestProxyURL_DefaultPort(t *testing.T) {
	u, err := proxyURL("proxy.local", 0)
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.local:80", u.String())
}
