package domain

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultLimit is the result count requested when a query does not set one.
const DefaultLimit = 10

// ErrInvalidQuery is returned when a query cannot be constructed from its inputs.
var ErrInvalidQuery = errors.New("invalid query")

// QueryGroup controls how coarsely a provider should filter its results.
type QueryGroup int

const (
	GroupNone QueryGroup = iota
	GroupAddress
	GroupCity
)

func (g QueryGroup) String() string {
	switch g {
	case GroupAddress:
		return "address"
	case GroupCity:
		return "city"
	default:
		return "none"
	}
}

// ParseQueryGroup maps "none", "address" or "city" (case-insensitive) to a
// QueryGroup. An empty string is GroupNone.
func ParseQueryGroup(s string) (QueryGroup, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return GroupNone, nil
	case "address":
		return GroupAddress, nil
	case "city":
		return GroupCity, nil
	default:
		return GroupNone, fmt.Errorf("%w: unknown group_by %q", ErrInvalidQuery, s)
	}
}

// QueryKind identifies the concrete query type behind a Query.
type QueryKind string

const (
	KindGeocode QueryKind = "geocode"
	KindReverse QueryKind = "reverse"
	KindSuggest QueryKind = "suggest"
)

// Query is the common read-only view over GeocodeQuery, ReverseQuery and SuggestQuery.
type Query interface {
	Kind() QueryKind
	Text() string
	GroupBy() QueryGroup
	Limit() int
	// String identifies the query in logs and error reports: the text for
	// forward queries, "lat,lon" for reverse ones.
	String() string
}

// QueryOption customizes a query at construction time.
type QueryOption func(*queryBase)

// WithGroupBy sets the provider-side grouping mode.
func WithGroupBy(g QueryGroup) QueryOption {
	return func(b *queryBase) { b.groupBy = g }
}

// WithLimit sets the maximum number of results requested. Zero keeps DefaultLimit.
func WithLimit(n int) QueryOption {
	return func(b *queryBase) {
		if n != 0 {
			b.limit = n
		}
	}
}

type queryBase struct {
	groupBy QueryGroup
	limit   int
}

func newQueryBase(opts []QueryOption) (queryBase, error) {
	b := queryBase{groupBy: GroupNone, limit: DefaultLimit}
	for _, opt := range opts {
		opt(&b)
	}
	if b.limit < 0 {
		return queryBase{}, fmt.Errorf("%w: limit must be >= 0, got %d", ErrInvalidQuery, b.limit)
	}
	if b.groupBy < GroupNone || b.groupBy > GroupCity {
		return queryBase{}, fmt.Errorf("%w: unknown group %d", ErrInvalidQuery, b.groupBy)
	}
	return b, nil
}

func (b queryBase) GroupBy() QueryGroup { return b.groupBy }
func (b queryBase) Limit() int          { return b.limit }

// GeocodeQuery asks for the coordinates of a free-form address.
type GeocodeQuery struct {
	queryBase
	text string
}

// NewGeocodeQuery validates and normalizes text into a forward geocoding query.
func NewGeocodeQuery(text string, opts ...QueryOption) (GeocodeQuery, error) {
	t, err := normalizeText(text)
	if err != nil {
		return GeocodeQuery{}, err
	}
	b, err := newQueryBase(opts)
	if err != nil {
		return GeocodeQuery{}, err
	}
	return GeocodeQuery{queryBase: b, text: t}, nil
}

func (q GeocodeQuery) Kind() QueryKind { return KindGeocode }
func (q GeocodeQuery) Text() string    { return q.text }
func (q GeocodeQuery) String() string  { return q.text }

// SuggestQuery asks for autocomplete candidates matching partial text.
type SuggestQuery struct {
	queryBase
	text string
}

// NewSuggestQuery validates and normalizes text into an autocomplete query.
func NewSuggestQuery(text string, opts ...QueryOption) (SuggestQuery, error) {
	t, err := normalizeText(text)
	if err != nil {
		return SuggestQuery{}, err
	}
	b, err := newQueryBase(opts)
	if err != nil {
		return SuggestQuery{}, err
	}
	return SuggestQuery{queryBase: b, text: t}, nil
}

func (q SuggestQuery) Kind() QueryKind { return KindSuggest }
func (q SuggestQuery) Text() string    { return q.text }
func (q SuggestQuery) String() string  { return q.text }

// ReverseQuery asks for the address at a WGS-84 coordinate.
type ReverseQuery struct {
	queryBase
	lat float64
	lon float64
}

// NewReverseQuery validates a coordinate pair into a reverse geocoding query.
func NewReverseQuery(lat, lon float64, opts ...QueryOption) (ReverseQuery, error) {
	if lat < -90 || lat > 90 {
		return ReverseQuery{}, fmt.Errorf("%w: latitude %f out of range", ErrInvalidQuery, lat)
	}
	if lon < -180 || lon > 180 {
		return ReverseQuery{}, fmt.Errorf("%w: longitude %f out of range", ErrInvalidQuery, lon)
	}
	b, err := newQueryBase(opts)
	if err != nil {
		return ReverseQuery{}, err
	}
	return ReverseQuery{queryBase: b, lat: lat, lon: lon}, nil
}

func (q ReverseQuery) Kind() QueryKind    { return KindReverse }
func (q ReverseQuery) Text() string       { return "" }
func (q ReverseQuery) Latitude() float64  { return q.lat }
func (q ReverseQuery) Longitude() float64 { return q.lon }
func (q ReverseQuery) String() string     { return fmt.Sprintf("%.6f,%.6f", q.lat, q.lon) }

// normalizeText trims and NFC-normalizes address text so that visually
// identical inputs produce identical upstream requests.
func normalizeText(text string) (string, error) {
	t := norm.NFC.String(strings.TrimSpace(text))
	if t == "" {
		return "", fmt.Errorf("%w: text is required", ErrInvalidQuery)
	}
	return t, nil
}

// BatchQuery is an ordered, possibly heterogeneous group of queries.
type BatchQuery struct {
	queries []Query
}

// NewBatchQuery groups queries, preserving their order.
func NewBatchQuery(queries ...Query) BatchQuery {
	qs := make([]Query, len(queries))
	copy(qs, queries)
	return BatchQuery{queries: qs}
}

// Add returns a new batch with q appended. The receiver is left unchanged.
func (b BatchQuery) Add(q Query) BatchQuery {
	qs := make([]Query, len(b.queries), len(b.queries)+1)
	copy(qs, b.queries)
	return BatchQuery{queries: append(qs, q)}
}

// Queries returns a copy of the batch contents in insertion order.
func (b BatchQuery) Queries() []Query {
	qs := make([]Query, len(b.queries))
	copy(qs, b.queries)
	return qs
}

func (b BatchQuery) Len() int { return len(b.queries) }

// Dispatchable counts the queries of b that RunBatch sends to a provider.
func (b BatchQuery) Dispatchable() int {
	n := 0
	for _, q := range b.queries {
		if k := q.Kind(); k == KindGeocode || k == KindReverse {
			n++
		}
	}
	return n
}
