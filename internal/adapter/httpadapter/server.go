package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/aggregator"
	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"github.com/couchcryptid/geocode-aggregator/internal/observability"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBatchBody = 1 << 20

// Geocoder is the aggregate API served over HTTP. *aggregator.Aggregator
// implements it.
type Geocoder interface {
	Geocode(ctx context.Context, q domain.GeocodeQuery, providerName string) (*domain.Address, error)
	Reverse(ctx context.Context, q domain.ReverseQuery, providerName string) (*domain.Address, error)
	Suggest(ctx context.Context, q domain.SuggestQuery, providerName string) (aggregator.SuggestResult, error)
	Batch(ctx context.Context, b domain.BatchQuery, providerName string) (aggregator.BatchResult, error)
}

// Server exposes the geocoding API alongside health, readiness and metrics.
type Server struct {
	httpServer *http.Server
	geocoder   Geocoder
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /v1 geocoding routes.
func NewServer(addr string, geocoder Geocoder, ready sharedobs.ReadinessChecker, metrics *observability.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      otelhttp.NewHandler(mux, "geocoder.http"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		geocoder: geocoder,
		metrics:  metrics,
		logger:   logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/geocode", s.instrument("geocode", s.handleGeocode))
	mux.HandleFunc("GET /v1/reverse", s.instrument("reverse", s.handleReverse))
	mux.HandleFunc("GET /v1/suggest", s.instrument("suggest", s.handleSuggest))
	mux.HandleFunc("POST /v1/batch", s.instrument("batch", s.handleBatch))

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type addressResponse struct {
	Address *domain.Address `json:"address"`
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	opts, err := queryOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := domain.NewGeocodeQuery(r.URL.Query().Get("q"), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := s.geocoder.Geocode(r.Context(), q, r.URL.Query().Get("provider"))
	s.writeAddress(w, r, addr, err)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	opts, err := queryOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lat, err := floatParam(r, "lat")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lon, err := floatParam(r, "lon")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := domain.NewReverseQuery(lat, lon, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := s.geocoder.Reverse(r.Context(), q, r.URL.Query().Get("provider"))
	s.writeAddress(w, r, addr, err)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	opts, err := queryOptions(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := domain.NewSuggestQuery(r.URL.Query().Get("q"), opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.geocoder.Suggest(r.Context(), q, r.URL.Query().Get("provider"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var msg domain.BatchRequestMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&msg); err != nil {
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "decode batch request: " + err.Error()})
		return
	}
	req, err := msg.ToBatchRequest()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.geocoder.Batch(r.Context(), req.Batch, req.Provider)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, domain.NewBatchResponse(req.ID, result.Addresses, result.Failures))
}

func (s *Server) writeAddress(w http.ResponseWriter, r *http.Request, addr *domain.Address, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if addr == nil {
		sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "no address found"})
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, addressResponse{Address: addr})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WarnContext(r.Context(), "geocoding request failed",
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	sharedobs.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// statusClientClosedRequest reports a request the client gave up on before
// the answer was ready.
const statusClientClosedRequest = 499

// statusFor maps aggregator errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		unknown *domain.UnknownProviderError
		isr     *domain.InvalidServerResponse
	)
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, domain.ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &isr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryOptions(r *http.Request) ([]domain.QueryOption, error) {
	values := r.URL.Query()
	group, err := domain.ParseQueryGroup(values.Get("group_by"))
	if err != nil {
		return nil, err
	}
	opts := []domain.QueryOption{domain.WithGroupBy(group)}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: limit must be an integer", domain.ErrInvalidQuery)
		}
		opts = append(opts, domain.WithLimit(n))
	}
	return opts, nil
}

func floatParam(r *http.Request, key string) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is required", domain.ErrInvalidQuery, key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidQuery, key)
	}
	return v, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument counts requests per route and status code.
func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		}
	}
}
