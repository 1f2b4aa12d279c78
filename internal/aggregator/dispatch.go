package aggregator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	outcomeSuccess = "success"
	outcomeEmpty   = "empty"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

type result[T any] struct {
	val T
	err error
}

// invoke runs one provider call under timeout. The call executes in its own
// goroutine so a provider that ignores its context cannot hold the caller past
// the deadline.
func invoke[T any](
	ctx context.Context,
	a *Aggregator,
	p domain.Provider,
	method string,
	query string,
	timeout time.Duration,
	empty func(T) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	name := p.Name()
	ctx, span := a.tracer.Start(ctx, "provider."+method, trace.WithAttributes(
		attribute.String("geocode.provider", name),
		attribute.String("geocode.method", method),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := a.clock.Now()
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(callCtx)
		ch <- result[T]{val: v, err: err}
	}()

	var r result[T]
	select {
	case r = <-ch:
	case <-callCtx.Done():
		r.err = callCtx.Err()
	}

	outcome := outcomeSuccess
	switch {
	case r.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		outcome = outcomeTimeout
		r.err = &domain.InvalidServerResponse{
			Provider: name,
			Query:    query,
			Err:      fmt.Errorf("%w after %s", domain.ErrProviderTimeout, timeout),
		}
	case r.err != nil && ctx.Err() != nil:
		outcome = outcomeError
		r.err = ctx.Err()
	case r.err != nil:
		outcome = outcomeError
	case empty(r.val):
		outcome = outcomeEmpty
	}

	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("geocode.outcome", outcome))

	if a.metrics != nil {
		a.metrics.ProviderRequests.WithLabelValues(name, method, outcome).Inc()
		a.metrics.ProviderDuration.WithLabelValues(name, method).Observe(a.clock.Since(start).Seconds())
	}

	if r.err != nil {
		return r.val, r.err
	}
	return r.val, nil
}

// fanOut calls fn for every provider concurrently and returns the results in
// provider order. Workers never fail the group, so one provider's error does
// not cancel the others.
func fanOut[T any](ctx context.Context, a *Aggregator, providers []domain.Provider, fn func(context.Context, domain.Provider) (T, error)) []result[T] {
	slots := make([]result[T], len(providers))

	var g errgroup.Group
	if a.maxConcurrency > 0 {
		g.SetLimit(a.maxConcurrency)
	}
	for i, p := range providers {
		g.Go(func() error {
			v, err := fn(ctx, p)
			slots[i] = result[T]{val: v, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return slots
}
