package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/couchcryptid/geocode-aggregator/internal/aggregator"
	"github.com/couchcryptid/geocode-aggregator/internal/domain"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

type outputFormat int

const (
	formatTable outputFormat = iota
	formatJSON
)

// formatFor resolves "auto" to a table on a terminal and JSON otherwise.
func formatFor(name string, out io.Writer) (outputFormat, error) {
	switch name {
	case "table":
		return formatTable, nil
	case "json":
		return formatJSON, nil
	case "auto", "":
		if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			return formatTable, nil
		}
		return formatJSON, nil
	default:
		return 0, fmt.Errorf("unknown format %q: want auto, table or json", name)
	}
}

type printer struct {
	out    io.Writer
	format outputFormat
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) addresses(addrs []domain.Address) error {
	if p.format == formatJSON {
		return p.json(addrs)
	}
	table := p.table([]string{"Provider", "Latitude", "Longitude", "Address", "City", "Postal Code", "Country"})
	for _, a := range addrs {
		table.Append(addressRow(a))
	}
	table.Render()
	return nil
}

func (p *printer) suggestions(result aggregator.SuggestResult) error {
	if p.format == formatJSON {
		return p.json(result)
	}
	table := p.table([]string{"#", "Suggestion"})
	for i, s := range result.Suggestions {
		table.Append([]string{strconv.Itoa(i + 1), s})
	}
	table.Render()
	return p.failures(result.Failures)
}

func (p *printer) batch(responses []domain.BatchResponse) error {
	if p.format == formatJSON {
		if len(responses) == 1 {
			return p.json(responses[0])
		}
		return p.json(responses)
	}
	table := p.table([]string{"Request", "Provider", "Latitude", "Longitude", "Address", "City", "Postal Code", "Country"})
	var failures []domain.ProviderFailure
	for _, resp := range responses {
		for _, a := range resp.Addresses {
			table.Append(append([]string{resp.ID}, addressRow(a)...))
		}
		failures = append(failures, resp.Failures...)
	}
	table.Render()
	return p.failures(failures)
}

func (p *printer) failures(failures []domain.ProviderFailure) error {
	if len(failures) == 0 {
		return nil
	}
	fmt.Fprintf(p.out, "\n%d provider failure(s):\n", len(failures))
	table := p.table([]string{"Provider", "Query", "Error"})
	for _, f := range failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		table.Append([]string{f.Provider, f.Query, msg})
	}
	table.Render()
	return nil
}

func (p *printer) table(header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(p.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}

func addressRow(a domain.Address) []string {
	return []string{
		a.ProvidedBy,
		coordinate(a.Latitude),
		coordinate(a.Longitude),
		a.FormattedAddress,
		a.City,
		a.PostalCode,
		a.Country,
	}
}

func coordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 6, 64)
}
