package domain

import "context"

// Provider is an upstream geocoding service adapted to the normalized model.
//
// Geocode and Reverse return (nil, nil) when the upstream found nothing with
// coordinates. Suggest returns an empty, non-nil slice in that case. Every
// transport failure is reported as an *InvalidServerResponse.
type Provider interface {
	// Name is the registry key, e.g. "dadata".
	Name() string

	Geocode(ctx context.Context, q GeocodeQuery) (*Address, error)
	Reverse(ctx context.Context, q ReverseQuery) (*Address, error)
	Suggest(ctx context.Context, q SuggestQuery) ([]string, error)

	// Batch resolves every geocode and reverse query in b. Per-query failures
	// are returned together as a *BatchError alongside the successful results.
	Batch(ctx context.Context, b BatchQuery) ([]Address, error)
}

// ProviderDescriptor names a provider implementation and its parameters, as
// read from configuration.
type ProviderDescriptor struct {
	Identifier string
	Parameters map[string]string
}

// Param returns the named parameter or the empty string.
func (d ProviderDescriptor) Param(key string) string {
	if d.Parameters == nil {
		return ""
	}
	return d.Parameters[key]
}
