package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newForwardCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "forward <address>",
		Aliases: []string{"geocode"},
		Short:   "Resolve an address to coordinates",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qopts, err := opts.queryOptions()
			if err != nil {
				return err
			}
			q, err := domain.NewGeocodeQuery(strings.Join(args, " "), qopts...)
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			addr, err := opts.geocoder.Geocode(ctx, q, opts.provider)
			if err != nil {
				return err
			}
			if addr == nil {
				return errNotFound(q)
			}
			p, err := opts.printer(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return p.addresses([]domain.Address{*addr})
		},
	}
}

func newReverseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reverse <lat> <lon>",
		Short: "Resolve coordinates to an address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lat, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("%w: latitude %q is not a number", domain.ErrInvalidQuery, args[0])
			}
			lon, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("%w: longitude %q is not a number", domain.ErrInvalidQuery, args[1])
			}
			qopts, err := opts.queryOptions()
			if err != nil {
				return err
			}
			q, err := domain.NewReverseQuery(lat, lon, qopts...)
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			addr, err := opts.geocoder.Reverse(ctx, q, opts.provider)
			if err != nil {
				return err
			}
			if addr == nil {
				return errNotFound(q)
			}
			p, err := opts.printer(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return p.addresses([]domain.Address{*addr})
		},
	}
}

func newSuggestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <prefix>",
		Short: "List autocomplete candidates from every provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qopts, err := opts.queryOptions()
			if err != nil {
				return err
			}
			q, err := domain.NewSuggestQuery(strings.Join(args, " "), qopts...)
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			result, err := opts.geocoder.Suggest(ctx, q, opts.provider)
			if err != nil {
				return err
			}
			p, err := opts.printer(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return p.suggestions(result)
		},
	}
}

func newBatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "batch [file]",
		Short: "Resolve batch requests read from a JSON file or stdin",
		Long: `batch reads one batch request object, or an array of them, and resolves
every geocode and reverse query. Suggest queries are skipped.

A request looks like:
  {"id": "req-1", "queries": [{"type": "geocode", "text": "Berlin"},
                              {"type": "reverse", "lat": 52.52, "lon": 13.40}]}

The --provider flag applies to requests that do not name one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			msgs, err := readBatchRequests(in)
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			bar := newProgressBar(len(msgs), cmd.ErrOrStderr())
			responses := make([]domain.BatchResponse, 0, len(msgs))
			for i, msg := range msgs {
				if msg.Provider == "" {
					msg.Provider = opts.provider
				}
				req, err := msg.ToBatchRequest()
				if err != nil {
					return fmt.Errorf("request %d: %w", i, err)
				}
				result, err := opts.geocoder.Batch(ctx, req.Batch, req.Provider)
				if err != nil {
					return fmt.Errorf("request %s: %w", req.ID, err)
				}
				responses = append(responses, domain.NewBatchResponse(req.ID, result.Addresses, result.Failures))
				if bar != nil {
					_ = bar.Add(1)
				}
			}

			p, err := opts.printer(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return p.batch(responses)
		},
	}
}

// readBatchRequests accepts a single request object or an array of them.
func readBatchRequests(r io.Reader) ([]domain.BatchRequestMessage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read batch requests: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var msgs []domain.BatchRequestMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, fmt.Errorf("parse batch requests: %w", err)
		}
		return msgs, nil
	}
	var msg domain.BatchRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse batch request: %w", err)
	}
	return []domain.BatchRequestMessage{msg}, nil
}

// newProgressBar returns nil unless w is a terminal and there is more than
// one request.
func newProgressBar(n int, w io.Writer) *progressbar.ProgressBar {
	f, ok := w.(*os.File)
	if n < 2 || !ok || !isatty.IsTerminal(f.Fd()) {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription("Resolving batch requests"),
		progressbar.OptionSetWriter(f),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
