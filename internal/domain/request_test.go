package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBatchRequest(t *testing.T) {
	t.Run("mixed queries", func(t *testing.T) {
		data := []byte(`{"id":"req-1","provider":"mapbox","queries":[
			{"type":"geocode","text":"Berlin","group_by":"city","limit":2},
			{"type":"reverse","lat":52.52,"lon":13.40},
			{"type":"suggest","text":"Ber"}
		]}`)
		req, err := ParseBatchRequest(RawEvent{Value: data})
		require.NoError(t, err)

		assert.Equal(t, "req-1", req.ID)
		assert.Equal(t, "mapbox", req.Provider)

		kinds := make([]QueryKind, 0, req.Batch.Len())
		for _, q := range req.Batch.Queries() {
			kinds = append(kinds, q.Kind())
		}
		if diff := cmp.Diff([]QueryKind{KindGeocode, KindReverse, KindSuggest}, kinds); diff != "" {
			t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
		}

		first := req.Batch.Queries()[0]
		assert.Equal(t, GroupCity, first.GroupBy())
		assert.Equal(t, 2, first.Limit())
	})

	t.Run("missing id gets one", func(t *testing.T) {
		req, err := ParseBatchRequest(RawEvent{Value: []byte(`{"queries":[]}`)})
		require.NoError(t, err)
		assert.NotEmpty(t, req.ID)
		assert.Equal(t, 0, req.Batch.Len())
	})

	t.Run("reverse without coordinates", func(t *testing.T) {
		_, err := ParseBatchRequest(RawEvent{Value: []byte(`{"queries":[{"type":"reverse","lat":1}]}`)})
		require.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseBatchRequest(RawEvent{Value: []byte(`{"queries":[{"type":"route","text":"x"}]}`)})
		require.ErrorIs(t, err, ErrInvalidQuery)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseBatchRequest(RawEvent{Value: []byte("{invalid json")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse batch request")
	})
}

func TestSerializeBatchResponse(t *testing.T) {
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC))
	SetClock(fakeClock)
	t.Cleanup(func() { SetClock(nil) })

	resp := NewBatchResponse("req-9",
		[]Address{*addr("mapbox", "Berlin, Germany", 52.52, 13.40)},
		[]ProviderFailure{{Provider: "dadata", Query: "Atlantis", Err: errors.New("status 500")}},
	)

	out, err := SerializeBatchResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte("req-9"), out.Key)
	assert.Equal(t, "req-9", out.Headers["request_id"])
	assert.Equal(t, "2024-04-26T15:10:00Z", out.Headers["processed_at"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Value, &decoded))
	failures := decoded["failures"].([]any)
	require.Len(t, failures, 1)
	assert.Equal(t, map[string]any{"provider": "dadata", "query": "Atlantis", "error": "status 500"}, failures[0])
}

func TestNewBatchResponse_EmptySlices(t *testing.T) {
	resp := NewBatchResponse("r", nil, nil)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"addresses":[]`)
	assert.Contains(t, string(data), `"failures":[]`)
}
