package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProviderTimeout is wrapped into failures of provider calls that exceeded
// their per-call deadline.
var ErrProviderTimeout = errors.New("provider timed out")

// ConfigurationError reports a provider descriptor that could not be built.
type ConfigurationError struct {
	Index      int
	Identifier string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider config %d (%q): %s", e.Index, e.Identifier, e.Reason)
}

// UnknownProviderError is returned when a call is pinned to a provider name
// that is not registered.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q", e.Name)
}

// InvalidServerResponse is the single failure type crossing the provider
// boundary. Err holds the transport cause.
type InvalidServerResponse struct {
	Provider string
	Query    string
	Err      error
}

func (e *InvalidServerResponse) Error() string {
	msg := fmt.Sprintf("provider %q could not geocode address: %q", e.Provider, e.Query)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidServerResponse) Unwrap() error { return e.Err }

// NewInvalidServerResponse wraps cause as a failure of provider on q.
func NewInvalidServerResponse(provider string, q Query, cause error) *InvalidServerResponse {
	return &InvalidServerResponse{Provider: provider, Query: q.String(), Err: cause}
}

// BatchError collects the per-query failures of a provider batch.
type BatchError struct {
	Failures []*InvalidServerResponse
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%d batch queries failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
