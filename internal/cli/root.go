// Package cli implements the geocode command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/couchcryptid/geocode-aggregator/internal/adapter/providers"
	"github.com/couchcryptid/geocode-aggregator/internal/aggregator"
	"github.com/couchcryptid/geocode-aggregator/internal/config"
	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/spf13/cobra"
)

// Geocoder is the aggregate API the commands call.
type Geocoder interface {
	Geocode(ctx context.Context, q domain.GeocodeQuery, providerName string) (*domain.Address, error)
	Reverse(ctx context.Context, q domain.ReverseQuery, providerName string) (*domain.Address, error)
	Suggest(ctx context.Context, q domain.SuggestQuery, providerName string) (aggregator.SuggestResult, error)
	Batch(ctx context.Context, b domain.BatchQuery, providerName string) (aggregator.BatchResult, error)
}

// GeocoderFunc builds the Geocoder once flags are parsed.
type GeocoderFunc func(verbose bool) (Geocoder, error)

type options struct {
	provider string
	groupBy  string
	limit    int
	format   string
	timeout  time.Duration
	verbose  bool

	geocoder Geocoder
}

// NewRootCmd returns the geocode command tree. build is called before any
// subcommand runs.
func NewRootCmd(build GeocoderFunc) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "geocode",
		Short: "Resolve addresses and coordinates across geocoding providers",
		Long: `geocode queries every configured provider (GEOCODE_PROVIDERS) and prints
the first address found, or all suggestions.

Examples:
  geocode forward "Berlin, Unter den Linden 1"
  geocode reverse 52.517037 13.38886 --provider openstreetmap
  geocode reverse -- -33.8688 151.2093
  geocode suggest "Berl" --format json
  geocode batch requests.json`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := formatFor(opts.format, cmd.OutOrStdout()); err != nil {
				return err
			}
			g, err := build(opts.verbose)
			if err != nil {
				return err
			}
			opts.geocoder = g
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.provider, "provider", "p", "", "only ask this provider")
	flags.StringVarP(&opts.groupBy, "group-by", "g", "", "result granularity (address, city)")
	flags.IntVarP(&opts.limit, "limit", "l", domain.DefaultLimit, "maximum candidates per provider")
	flags.StringVarP(&opts.format, "format", "f", "auto", "output format (auto, table, json)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline for the command")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log provider activity to stderr")

	root.AddCommand(
		newForwardCmd(opts),
		newReverseCmd(opts),
		newSuggestCmd(opts),
		newBatchCmd(opts),
	)
	return root
}

// Execute runs the CLI against providers configured from the environment.
func Execute() {
	if err := NewRootCmd(GeocoderFromEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

// GeocoderFromEnv builds an aggregator from the service configuration.
func GeocoderFromEnv(verbose bool) (Geocoder, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := "error"
	if verbose {
		level = "debug"
	}
	logger := sharedobs.NewLogger(level, "text")

	agg, err := aggregator.New(aggregator.Options{
		ProviderTimeout: cfg.ProviderTimeout,
		MaxConcurrency:  cfg.ProviderMaxConcurrency,
		Logger:          logger,
	}).RegisterProvidersFromConfig(cfg.Providers, providers.NewFactory(cfg.ProviderTimeout, logger).Build)
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func (o *options) queryOptions() ([]domain.QueryOption, error) {
	group, err := domain.ParseQueryGroup(o.groupBy)
	if err != nil {
		return nil, err
	}
	return []domain.QueryOption{domain.WithGroupBy(group), domain.WithLimit(o.limit)}, nil
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func (o *options) printer(out io.Writer) (*printer, error) {
	f, err := formatFor(o.format, out)
	if err != nil {
		return nil, err
	}
	return &printer{out: out, format: f}, nil
}

func errNotFound(q domain.Query) error {
	return fmt.Errorf("no address found for %q", q.String())
}
