// Command geocode resolves addresses, coordinates and autocomplete prefixes
// against the providers configured in GEOCODE_PROVIDERS.
package main

import "github.com/couchcryptid/geocode-aggregator/internal/cli"

func main() {
	cli.Execute()
}
