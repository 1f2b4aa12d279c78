package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/geocode-aggregator/internal/aggregator"
	"github.com/couchcryptid/geocode-aggregator/internal/domain"
)

// BatchResolver runs a batch query across the registered providers.
type BatchResolver interface {
	Batch(ctx context.Context, b domain.BatchQuery, providerName string) (aggregator.BatchResult, error)
}

// BatchTransformer implements Transformer by resolving each request through
// a BatchResolver.
type BatchTransformer struct {
	resolver BatchResolver
	logger   *slog.Logger
}

// NewTransformer creates a BatchTransformer.
func NewTransformer(resolver BatchResolver, logger *slog.Logger) *BatchTransformer {
	return &BatchTransformer{resolver: resolver, logger: logger}
}

// Transform parses the request, resolves it and serializes the response.
// A pinned provider that fails as a whole is reported inside the response;
// malformed requests and unknown providers are returned as errors.
func (t *BatchTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	req, err := domain.ParseBatchRequest(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}

	result, err := t.resolver.Batch(ctx, req.Batch, req.Provider)
	if err != nil {
		var unknown *domain.UnknownProviderError
		if errors.As(err, &unknown) || ctx.Err() != nil {
			return domain.OutputEvent{}, err
		}
		t.logger.WarnContext(ctx, "batch request failed", "request_id", req.ID, "provider", req.Provider, "error", err)
		result = aggregator.BatchResult{Failures: []domain.ProviderFailure{{Provider: req.Provider, Err: err}}}
	}

	t.logger.DebugContext(ctx, "batch request resolved",
		"request_id", req.ID,
		"queries", req.Batch.Len(),
		"addresses", len(result.Addresses),
		"failures", len(result.Failures),
	)
	return domain.SerializeBatchResponse(domain.NewBatchResponse(req.ID, result.Addresses, result.Failures))
}
