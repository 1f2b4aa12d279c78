// Package providers builds concrete geocoding providers from configuration
// descriptors.
package providers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/adapter/dadata"
	"github.com/couchcryptid/geocode-aggregator/internal/adapter/mapbox"
	"github.com/couchcryptid/geocode-aggregator/internal/adapter/openstreetmap"
	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Descriptor parameter keys.
const (
	ParamToken     = "token"
	ParamBaseURL   = "base_url"
	ParamProxy     = "proxy"
	ParamProxyPort = "proxy_port"
)

// Factory turns descriptors into providers sharing one logger and HTTP timeout.
type Factory struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewFactory creates a Factory. timeout bounds each upstream HTTP request.
func NewFactory(timeout time.Duration, logger *slog.Logger) *Factory {
	return &Factory{timeout: timeout, logger: logger}
}

// Build returns the provider named by d.Identifier. Unknown identifiers and
// missing or malformed parameters yield a *domain.ConfigurationError.
func (f *Factory) Build(d domain.ProviderDescriptor) (domain.Provider, error) {
	switch d.Identifier {
	case dadata.Name:
		return f.buildDaData(d)
	case mapbox.Name:
		token := d.Param(ParamToken)
		if token == "" {
			return nil, configErr(d, "parameter %q is required", ParamToken)
		}
		return mapbox.NewClient(token, d.Param(ParamBaseURL), f.httpClient(), f.logger.With("provider", mapbox.Name)), nil
	case openstreetmap.Name:
		return openstreetmap.NewClient(d.Param(ParamBaseURL), f.logger.With("provider", openstreetmap.Name)), nil
	default:
		return nil, configErr(d, "unknown provider identifier")
	}
}

func (f *Factory) buildDaData(d domain.ProviderDescriptor) (domain.Provider, error) {
	cfg := dadata.Config{
		Token:   d.Param(ParamToken),
		BaseURL: d.Param(ParamBaseURL),
		Proxy:   d.Param(ParamProxy),
		Timeout: f.timeout,
	}
	if cfg.Token == "" {
		return nil, configErr(d, "parameter %q is required", ParamToken)
	}
	if raw := d.Param(ParamProxyPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return nil, configErr(d, "parameter %q must be a port number, got %q", ParamProxyPort, raw)
		}
		cfg.ProxyPort = port
	}

	c, err := dadata.NewClient(cfg, f.logger.With("provider", dadata.Name))
	if err != nil {
		return nil, configErr(d, "%s", err)
	}
	return c, nil
}

// httpClient returns a client whose requests carry trace context upstream.
func (f *Factory) httpClient() *http.Client {
	return &http.Client{
		Timeout:   f.timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func configErr(d domain.ProviderDescriptor, format string, args ...any) *domain.ConfigurationError {
	return &domain.ConfigurationError{Identifier: d.Identifier, Reason: fmt.Sprintf(format, args...)}
}
