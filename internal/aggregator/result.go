package aggregator

import "github.com/couchcryptid/geocode-aggregator/internal/domain"

// SuggestResult is the joined output of a suggest fan-out.
type SuggestResult struct {
	Suggestions []string                 `json:"suggestions"`
	Failures    []domain.ProviderFailure `json:"failures"`
}

// BatchResult is the joined output of a batch fan-out.
type BatchResult struct {
	Addresses []domain.Address         `json:"addresses"`
	Failures  []domain.ProviderFailure `json:"failures"`
}

func newSuggestResult(s []string, f []domain.ProviderFailure) SuggestResult {
	if s == nil {
		s = []string{}
	}
	if f == nil {
		f = []domain.ProviderFailure{}
	}
	return SuggestResult{Suggestions: s, Failures: f}
}

func newBatchResult(a []domain.Address, f []domain.ProviderFailure) BatchResult {
	if a == nil {
		a = []domain.Address{}
	}
	if f == nil {
		f = []domain.ProviderFailure{}
	}
	return BatchResult{Addresses: a, Failures: f}
}
