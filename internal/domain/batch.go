package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type queryTimeoutKey struct{}

// WithQueryTimeout returns a context under which RunBatch bounds every
// individual query by d.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, queryTimeoutKey{}, d)
}

// QueryTimeout returns the per-query bound set by WithQueryTimeout.
func QueryTimeout(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(queryTimeoutKey{}).(time.Duration)
	return d, ok && d > 0
}

// RunBatch resolves the geocode and reverse queries of b against p in batch
// order. Other query kinds are skipped. A failing query does not stop the
// batch: its failure is collected into the returned *BatchError, and the
// addresses that were found are still returned. When ctx carries a
// QueryTimeout, a query that exceeds it fails with ErrProviderTimeout.
func RunBatch(ctx context.Context, p Provider, b BatchQuery) ([]Address, error) {
	var (
		out      []Address
		failures []*InvalidServerResponse
	)

	for _, q := range b.Queries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var call func(context.Context) (*Address, error)
		switch tq := q.(type) {
		case GeocodeQuery:
			call = func(ctx context.Context) (*Address, error) { return p.Geocode(ctx, tq) }
		case ReverseQuery:
			call = func(ctx context.Context) (*Address, error) { return p.Reverse(ctx, tq) }
		default:
			slog.DebugContext(ctx, "batch query kind not supported, skipping",
				"provider", p.Name(),
				"kind", q.Kind(),
				"query", q.String(),
			)
			continue
		}

		addr, err := runQuery(ctx, call)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var isr *InvalidServerResponse
			if !errors.As(err, &isr) {
				isr = NewInvalidServerResponse(p.Name(), q, err)
			}
			failures = append(failures, isr)
			continue
		}
		if addr != nil {
			out = append(out, *addr)
		}
	}

	if len(failures) > 0 {
		return out, &BatchError{Failures: failures}
	}
	return out, nil
}

// runQuery applies the ctx QueryTimeout, if any, to a single call. The call
// runs in its own goroutine so a provider that ignores ctx is still bounded.
func runQuery(ctx context.Context, call func(context.Context) (*Address, error)) (*Address, error) {
	d, ok := QueryTimeout(ctx)
	if !ok {
		return call(ctx)
	}

	qctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		addr *Address
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		addr, err := call(qctx)
		ch <- result{addr, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-qctx.Done():
		r.err = qctx.Err()
	}
	if r.err != nil && ctx.Err() == nil && errors.Is(qctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrProviderTimeout, d)
	}
	return r.addr, r.err
}
