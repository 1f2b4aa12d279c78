package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"github.com/couchcryptid/geocode-aggregator/internal/observability"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Providers lists the configured geocoding providers in dispatch order.
	Providers              []domain.ProviderDescriptor
	ProviderTimeout        time.Duration
	ProviderMaxConcurrency int

	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string

	BatchSize          int
	BatchFlushInterval time.Duration
	// PipelineWorkers is how many requests of a consumed batch are resolved
	// at the same time.
	PipelineWorkers int

	Tracing observability.TracingConfig
}

// providerParams maps descriptor parameter keys to environment variable suffixes.
var providerParams = map[string]string{
	"token":      "TOKEN",
	"base_url":   "BASE_URL",
	"proxy":      "PROXY",
	"proxy_port": "PROXY_PORT",
}

// envPrefixes overrides the default upper-cased identifier prefix.
var envPrefixes = map[string]string{
	"openstreetmap": "OSM",
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	providerTimeout, err := parsePositiveDuration("PROVIDER_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	maxConcurrency, err := strconv.Atoi(sharedcfg.EnvOrDefault("PROVIDER_MAX_CONCURRENCY", "0"))
	if err != nil || maxConcurrency < 0 {
		return nil, errors.New("invalid PROVIDER_MAX_CONCURRENCY: must be a non-negative integer")
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	workers, err := strconv.Atoi(sharedcfg.EnvOrDefault("PIPELINE_WORKERS", "4"))
	if err != nil || workers < 1 {
		return nil, errors.New("invalid PIPELINE_WORKERS: must be a positive integer")
	}

	tracing, err := loadTracing()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Providers:              ParseProviders(sharedcfg.EnvOrDefault("GEOCODE_PROVIDERS", "openstreetmap")),
		ProviderTimeout:        providerTimeout,
		ProviderMaxConcurrency: maxConcurrency,

		KafkaEnabled:     os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic: sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "geocode-requests"),
		KafkaSinkTopic:   sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "geocode-results"),
		KafkaGroupID:     sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "geocode-aggregator"),

		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		PipelineWorkers:    workers,

		Tracing: tracing,
	}

	if len(cfg.Providers) == 0 {
		return nil, errors.New("GEOCODE_PROVIDERS must name at least one provider")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}

	return cfg, nil
}

// ParseProviders turns a comma-separated identifier list into descriptors,
// reading each provider's parameters from <PREFIX>_TOKEN, <PREFIX>_BASE_URL,
// <PREFIX>_PROXY and <PREFIX>_PROXY_PORT.
func ParseProviders(list string) []domain.ProviderDescriptor {
	var descs []domain.ProviderDescriptor
	for _, id := range strings.Split(list, ",") {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		prefix, ok := envPrefixes[id]
		if !ok {
			prefix = strings.ToUpper(id)
		}

		params := make(map[string]string)
		for key, suffix := range providerParams {
			if v := os.Getenv(prefix + "_" + suffix); v != "" {
				params[key] = v
			}
		}
		descs = append(descs, domain.ProviderDescriptor{Identifier: id, Parameters: params})
	}
	return descs
}

func loadTracing() (observability.TracingConfig, error) {
	ratio := 1.0
	if raw := os.Getenv("TRACING_SAMPLE_RATIO"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			return observability.TracingConfig{}, errors.New("invalid TRACING_SAMPLE_RATIO: must be between 0 and 1")
		}
		ratio = parsed
	}

	exporter := strings.ToLower(sharedcfg.EnvOrDefault("TRACING_EXPORTER", "stdout"))
	if exporter != "stdout" && exporter != "otlp" {
		return observability.TracingConfig{}, fmt.Errorf("invalid TRACING_EXPORTER %q: must be stdout or otlp", exporter)
	}

	return observability.TracingConfig{
		Enabled:     os.Getenv("TRACING_ENABLED") == "true",
		ServiceName: sharedcfg.EnvOrDefault("TRACING_SERVICE_NAME", "geocode-aggregator"),
		Exporter:    exporter,
		Endpoint:    os.Getenv("OTLP_ENDPOINT"),
		SampleRatio: ratio,
	}, nil
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}
