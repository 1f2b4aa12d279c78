// Package domain holds the provider-neutral geocoding model.
//
// # Queries
//
// Three query kinds exist: [GeocodeQuery] (address text to coordinates),
// [ReverseQuery] (coordinates to address) and [SuggestQuery] (partial text to
// candidate strings). Queries are immutable once built. Text is trimmed and
// NFC-normalized so that composed and decomposed spellings of the same address
// reach a provider identically:
//
//	"Cafe\u0301"  and  "Café"  →  same query text
//
// Every query carries a [QueryGroup] and a result limit:
//
//	none     provider default
//	address  house-level results
//	city     results narrowed to settlements; providers add their own
//	         narrowing parameters (DaData from_bound/to_bound, Mapbox types=place)
//
// A [BatchQuery] is an ordered, possibly mixed list. Providers resolve only the
// geocode and reverse entries of a batch; suggest entries are skipped.
//
// # Addresses
//
// [Address] is the single normalized result type. Coordinates are pointers so
// that "not resolved" is distinct from 0,0 (a valid point in the Gulf of
// Guinea). Geocode and Reverse never return an address without a latitude.
//
// # Failures
//
// Adapters translate every transport problem into [InvalidServerResponse].
// "Nothing found" is not a failure: it is a nil address or an empty slice.
// Batches report per-query failures as a [BatchError] next to the addresses
// that did resolve.
package domain
