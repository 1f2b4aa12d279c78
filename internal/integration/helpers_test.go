//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/adapter/providers"
	"github.com/couchcryptid/geocode-aggregator/internal/aggregator"
	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("geocode-aggregator-test"),
	)
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// fakeMapbox serves a single Berlin feature for every forward and reverse lookup.
func fakeMapbox(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"features":[{
			"id":"address.1",
			"center":[13.38886,52.517037],
			"place_name":"Unter den Linden 1, 10117 Berlin, Germany",
			"context":[
				{"id":"postcode.1","text":"10117"},
				{"id":"place.1","text":"Berlin"},
				{"id":"country.1","text":"Germany","short_code":"de"}
			]
		}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newAggregator registers a Mapbox provider pointed at a fake upstream.
func newAggregator(t *testing.T) *aggregator.Aggregator {
	t.Helper()
	upstream := fakeMapbox(t)
	logger := discardLogger()

	agg, err := aggregator.New(aggregator.Options{Logger: logger}).RegisterProvidersFromConfig(
		[]domain.ProviderDescriptor{{
			Identifier: "mapbox",
			Parameters: map[string]string{
				providers.ParamToken:   "pk.integration",
				providers.ParamBaseURL: upstream.URL,
			},
		}},
		providers.NewFactory(10*time.Second, logger).Build,
	)
	require.NoError(t, err)
	return agg
}
