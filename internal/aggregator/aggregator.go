// Package aggregator dispatches geocoding queries to a registry of providers.
//
// Geocode and Reverse consult providers one at a time in registration order
// and stop at the first address with coordinates. Suggest and Batch fan out to
// every provider concurrently and join the results in registration order,
// isolating each provider's failure from the others.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"github.com/couchcryptid/geocode-aggregator/internal/observability"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultProviderTimeout bounds a single provider call when Options leaves it unset.
const DefaultProviderTimeout = 5 * time.Second

// Factory builds a provider from its configuration descriptor.
type Factory func(desc domain.ProviderDescriptor) (domain.Provider, error)

// Options configures an Aggregator. Zero values select defaults.
type Options struct {
	ProviderTimeout time.Duration
	// MaxConcurrency caps in-flight provider calls during fan-out. Zero means
	// one goroutine per provider.
	MaxConcurrency int
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	Clock          clockwork.Clock
	Tracer         trace.Tracer
}

// Aggregator is a provider registry plus the dispatch algorithms over it.
// It is safe for concurrent use.
type Aggregator struct {
	mu        sync.RWMutex
	order     []string
	providers map[string]domain.Provider

	timeout        time.Duration
	maxConcurrency int
	logger         *slog.Logger
	metrics        *observability.Metrics
	clock          clockwork.Clock
	tracer         trace.Tracer
}

// New creates an empty Aggregator.
func New(opts Options) *Aggregator {
	a := &Aggregator{
		providers:      make(map[string]domain.Provider),
		timeout:        opts.ProviderTimeout,
		maxConcurrency: opts.MaxConcurrency,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
		clock:          opts.Clock,
		tracer:         opts.Tracer,
	}
	if a.timeout <= 0 {
		a.timeout = DefaultProviderTimeout
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(observability.TracerName)
	}
	return a
}

// RegisterProvider adds p under p.Name(). Registering a name that already
// exists replaces the earlier provider but keeps its position in the order.
func (a *Aggregator) RegisterProvider(p domain.Provider) *Aggregator {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.registerLocked(p)
	return a
}

func (a *Aggregator) registerLocked(p domain.Provider) {
	name := p.Name()
	if _, ok := a.providers[name]; ok {
		a.logger.Warn("provider re-registered, replacing previous instance", "provider", name)
	} else {
		a.order = append(a.order, name)
	}
	a.providers[name] = p
	if a.metrics != nil {
		a.metrics.ProvidersRegistered.Set(float64(len(a.order)))
	}
}

// RegisterProvidersFromConfig builds one provider per descriptor, in order,
// and registers them all. If any descriptor fails to build, nothing is
// registered and a *domain.ConfigurationError names the offending entry.
func (a *Aggregator) RegisterProvidersFromConfig(descs []domain.ProviderDescriptor, f Factory) (*Aggregator, error) {
	built := make([]domain.Provider, 0, len(descs))
	for i, d := range descs {
		p, err := f(d)
		if err != nil {
			var cfgErr *domain.ConfigurationError
			if errors.As(err, &cfgErr) {
				return a, &domain.ConfigurationError{Index: i, Identifier: d.Identifier, Reason: cfgErr.Reason}
			}
			return a, &domain.ConfigurationError{Index: i, Identifier: d.Identifier, Reason: err.Error()}
		}
		built = append(built, p)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range built {
		a.registerLocked(p)
		a.logger.Info("provider registered", "provider", p.Name())
	}
	return a, nil
}

// Provider returns the provider registered under name.
func (a *Aggregator) Provider(name string) (domain.Provider, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.providers[name]
	return p, ok
}

// Providers returns the registered providers in registration order.
func (a *Aggregator) Providers() []domain.Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Provider, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.providers[name])
	}
	return out
}

// CheckReadiness reports an error until at least one provider is registered.
func (a *Aggregator) CheckReadiness(_ context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.order) == 0 {
		return errors.New("no geocoding providers registered")
	}
	return nil
}

// resolve returns the single pinned provider, or the whole registry when
// name is empty.
func (a *Aggregator) resolve(name string) ([]domain.Provider, error) {
	if name == "" {
		return a.Providers(), nil
	}
	p, ok := a.Provider(name)
	if !ok {
		return nil, &domain.UnknownProviderError{Name: name}
	}
	return []domain.Provider{p}, nil
}

// Geocode resolves q to an address. With providerName set only that provider
// is consulted. Otherwise providers are tried in registration order until one
// returns an address with coordinates. A provider failure ends the walk and is
// returned to the caller in both cases.
func (a *Aggregator) Geocode(ctx context.Context, q domain.GeocodeQuery, providerName string) (*domain.Address, error) {
	return shortCircuit(ctx, a, providerName, "geocode", q, func(ctx context.Context, p domain.Provider) (*domain.Address, error) {
		return p.Geocode(ctx, q)
	})
}

// Reverse resolves a coordinate to an address with the same provider
// selection rules as Geocode.
func (a *Aggregator) Reverse(ctx context.Context, q domain.ReverseQuery, providerName string) (*domain.Address, error) {
	return shortCircuit(ctx, a, providerName, "reverse", q, func(ctx context.Context, p domain.Provider) (*domain.Address, error) {
		return p.Reverse(ctx, q)
	})
}

func shortCircuit(
	ctx context.Context,
	a *Aggregator,
	providerName, method string,
	q domain.Query,
	call func(context.Context, domain.Provider) (*domain.Address, error),
) (*domain.Address, error) {
	providers, err := a.resolve(providerName)
	if err != nil {
		return nil, err
	}

	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		addr, err := invoke(ctx, a, p, method, q.String(), a.timeout, noAddress, func(ctx context.Context) (*domain.Address, error) {
			return call(ctx, p)
		})
		if err != nil {
			return nil, err
		}
		if !noAddress(addr) {
			return addr, nil
		}
	}
	return nil, nil
}

// Suggest collects autocomplete candidates. With providerName set only that
// provider is asked and its error is returned. Otherwise every provider is
// asked concurrently and the lists are concatenated in registration order.
// Duplicates across providers are kept. A failing provider contributes no
// suggestions and is reported in SuggestResult.Failures.
func (a *Aggregator) Suggest(ctx context.Context, q domain.SuggestQuery, providerName string) (SuggestResult, error) {
	providers, err := a.resolve(providerName)
	if err != nil {
		return SuggestResult{}, err
	}

	call := func(ctx context.Context, p domain.Provider) ([]string, error) {
		return invoke(ctx, a, p, "suggest", q.String(), a.timeout, noStrings, func(ctx context.Context) ([]string, error) {
			return p.Suggest(ctx, q)
		})
	}

	if providerName != "" {
		list, err := call(ctx, providers[0])
		if err != nil {
			return SuggestResult{}, err
		}
		return newSuggestResult(list, nil), nil
	}

	slots := fanOut(ctx, a, providers, call)
	if err := ctx.Err(); err != nil {
		return SuggestResult{}, err
	}

	var (
		suggestions []string
		failures    []domain.ProviderFailure
	)
	for i, s := range slots {
		if s.err != nil {
			a.logFanOutFailure(providers[i].Name(), "suggest", q.String(), s.err)
			failures = append(failures, domain.ProviderFailure{Provider: providers[i].Name(), Query: q.String(), Err: s.err})
			continue
		}
		suggestions = append(suggestions, s.val...)
	}
	return newSuggestResult(suggestions, failures), nil
}

// Batch resolves every geocode and reverse query in b. With providerName set
// only that provider runs the batch; otherwise every provider runs it
// concurrently and the addresses are concatenated in registration order, then
// batch order. Per-query failures become one ProviderFailure each and a
// provider that fails as a whole becomes a single entry.
//
// The provider timeout bounds each query of the batch. The batch as a whole
// gets one timeout per dispatched query plus one.
func (a *Aggregator) Batch(ctx context.Context, b domain.BatchQuery, providerName string) (BatchResult, error) {
	if b.Len() == 0 {
		return newBatchResult(nil, nil), nil
	}
	providers, err := a.resolve(providerName)
	if err != nil {
		return BatchResult{}, err
	}

	label := fmt.Sprintf("batch of %d queries", b.Len())
	budget := a.timeout * time.Duration(b.Dispatchable()+1)
	ctx = domain.WithQueryTimeout(ctx, a.timeout)
	call := func(ctx context.Context, p domain.Provider) ([]domain.Address, error) {
		return invoke(ctx, a, p, "batch", label, budget, noAddresses, func(ctx context.Context) ([]domain.Address, error) {
			return p.Batch(ctx, b)
		})
	}

	if providerName != "" {
		addrs, err := call(ctx, providers[0])
		var batchErr *domain.BatchError
		if err != nil && !errors.As(err, &batchErr) {
			return BatchResult{}, err
		}
		return newBatchResult(withCoordinates(addrs), failuresFrom(providers[0].Name(), err)), nil
	}

	slots := fanOut(ctx, a, providers, call)
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}

	var (
		addrs    []domain.Address
		failures []domain.ProviderFailure
	)
	for i, s := range slots {
		if s.err != nil {
			a.logFanOutFailure(providers[i].Name(), "batch", label, s.err)
			failures = append(failures, failuresFrom(providers[i].Name(), s.err)...)
		}
		addrs = append(addrs, withCoordinates(s.val)...)
	}
	return newBatchResult(addrs, failures), nil
}

func (a *Aggregator) logFanOutFailure(provider, method, query string, err error) {
	a.logger.Warn("provider failed during fan-out",
		"provider", provider,
		"method", method,
		"query", query,
		"error", err,
	)
}

// failuresFrom expands a provider error into report entries: one per failed
// query for a *domain.BatchError, a single entry otherwise.
func failuresFrom(provider string, err error) []domain.ProviderFailure {
	if err == nil {
		return nil
	}
	var batchErr *domain.BatchError
	if errors.As(err, &batchErr) {
		out := make([]domain.ProviderFailure, 0, len(batchErr.Failures))
		for _, f := range batchErr.Failures {
			out = append(out, domain.ProviderFailure{Provider: f.Provider, Query: f.Query, Err: f})
		}
		return out
	}
	var isr *domain.InvalidServerResponse
	if errors.As(err, &isr) {
		return []domain.ProviderFailure{{Provider: provider, Query: isr.Query, Err: err}}
	}
	return []domain.ProviderFailure{{Provider: provider, Err: err}}
}

func withCoordinates(addrs []domain.Address) []domain.Address {
	out := addrs[:0:0]
	for _, a := range addrs {
		if a.HasCoordinates() {
			out = append(out, a)
		}
	}
	return out
}

func noAddress(a *domain.Address) bool { return a == nil || !a.HasCoordinates() }
func noStrings(s []string) bool        { return len(s) == 0 }
func noAddresses(a []domain.Address) bool {
	return len(a) == 0
}
