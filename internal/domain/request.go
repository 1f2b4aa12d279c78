package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RawEvent represents an unprocessed message from the request topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutputEvent is the serialized form destined for the result topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// QueryMessage is the wire form of a single query inside a BatchRequest.
type QueryMessage struct {
	Type    QueryKind `json:"type"`
	Text    string    `json:"text,omitempty"`
	Lat     *float64  `json:"lat,omitempty"`
	Lon     *float64  `json:"lon,omitempty"`
	GroupBy string    `json:"group_by,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// BatchRequestMessage is the JSON body accepted on the request topic and by
// the HTTP batch endpoint.
type BatchRequestMessage struct {
	ID       string         `json:"id,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Queries  []QueryMessage `json:"queries"`
}

// BatchRequest is a validated BatchRequestMessage.
type BatchRequest struct {
	ID       string
	Provider string
	Batch    BatchQuery
}

// ProviderFailure records one provider or query that failed during an
// aggregate call.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Query    string `json:"query,omitempty"`
	Err      error  `json:"-"`
}

func (f ProviderFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Provider string `json:"provider"`
		Query    string `json:"query,omitempty"`
		Error    string `json:"error"`
	}{f.Provider, f.Query, msg})
}

// BatchResponse is the result published for a BatchRequest.
type BatchResponse struct {
	ID          string            `json:"id"`
	Addresses   []Address         `json:"addresses"`
	Failures    []ProviderFailure `json:"failures"`
	ProcessedAt time.Time         `json:"processed_at"`
}

// ParseBatchRequest deserializes a raw message into a BatchRequest. Requests
// without an id are assigned a random one.
func ParseBatchRequest(raw RawEvent) (BatchRequest, error) {
	var msg BatchRequestMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		return BatchRequest{}, fmt.Errorf("parse batch request: %w", err)
	}
	return msg.ToBatchRequest()
}

// ToBatchRequest validates every query in the message.
func (m BatchRequestMessage) ToBatchRequest() (BatchRequest, error) {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}

	queries := make([]Query, 0, len(m.Queries))
	for i, qm := range m.Queries {
		q, err := qm.ToQuery()
		if err != nil {
			return BatchRequest{}, fmt.Errorf("batch request %s query %d: %w", id, i, err)
		}
		queries = append(queries, q)
	}

	return BatchRequest{
		ID:       id,
		Provider: m.Provider,
		Batch:    NewBatchQuery(queries...),
	}, nil
}

// ToQuery builds the concrete query the message describes.
func (m QueryMessage) ToQuery() (Query, error) {
	group, err := ParseQueryGroup(m.GroupBy)
	if err != nil {
		return nil, err
	}
	opts := []QueryOption{WithGroupBy(group), WithLimit(m.Limit)}

	switch m.Type {
	case KindGeocode, "":
		return NewGeocodeQuery(m.Text, opts...)
	case KindSuggest:
		return NewSuggestQuery(m.Text, opts...)
	case KindReverse:
		if m.Lat == nil || m.Lon == nil {
			return nil, fmt.Errorf("%w: reverse query needs lat and lon", ErrInvalidQuery)
		}
		return NewReverseQuery(*m.Lat, *m.Lon, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown query type %q", ErrInvalidQuery, m.Type)
	}
}

// NewBatchResponse stamps a response for request id with the current time.
func NewBatchResponse(id string, addrs []Address, failures []ProviderFailure) BatchResponse {
	if addrs == nil {
		addrs = []Address{}
	}
	if failures == nil {
		failures = []ProviderFailure{}
	}
	return BatchResponse{
		ID:          id,
		Addresses:   addrs,
		Failures:    failures,
		ProcessedAt: clock.Now().UTC(),
	}
}

// SerializeBatchResponse marshals a response into an OutputEvent keyed by the
// request id.
func SerializeBatchResponse(resp BatchResponse) (OutputEvent, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize batch response: %w", err)
	}
	return OutputEvent{
		Key:   []byte(resp.ID),
		Value: data,
		Headers: map[string]string{
			"request_id":   resp.ID,
			"processed_at": resp.ProcessedAt.Format(time.RFC3339),
		},
	}, nil
}
