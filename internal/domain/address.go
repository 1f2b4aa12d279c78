package domain

// Address is the normalized result every provider produces.
//
// A nil Latitude means the provider did not resolve a coordinate. Addresses
// without a latitude are never returned from Geocode or Reverse.
type Address struct {
	ProvidedBy       string   `json:"provided_by"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	FormattedAddress string   `json:"formatted_address,omitempty"`
	Country          string   `json:"country,omitempty"`
	City             string   `json:"city,omitempty"`
	PostalCode       string   `json:"postal_code,omitempty"`
}

// HasCoordinates reports whether a latitude was resolved.
func (a Address) HasCoordinates() bool {
	return a.Latitude != nil
}

// AddressBuilder accumulates fields parsed from a raw provider item.
type AddressBuilder struct {
	providedBy       string
	lat              *float64
	lon              *float64
	formattedAddress string
	country          string
	city             string
	postalCode       string
}

func NewAddressBuilder(providedBy string) *AddressBuilder {
	return &AddressBuilder{providedBy: providedBy}
}

func (b *AddressBuilder) SetLatitude(v float64) *AddressBuilder {
	b.lat = &v
	return b
}

func (b *AddressBuilder) SetLongitude(v float64) *AddressBuilder {
	b.lon = &v
	return b
}

func (b *AddressBuilder) SetFormattedAddress(s string) *AddressBuilder {
	b.formattedAddress = s
	return b
}

func (b *AddressBuilder) SetCountry(s string) *AddressBuilder {
	b.country = s
	return b
}

func (b *AddressBuilder) SetCity(s string) *AddressBuilder {
	b.city = s
	return b
}

func (b *AddressBuilder) SetPostalCode(s string) *AddressBuilder {
	b.postalCode = s
	return b
}

// Build returns an Address that shares no mutable state with the builder.
func (b *AddressBuilder) Build() Address {
	return Address{
		ProvidedBy:       b.providedBy,
		Latitude:         copyFloat(b.lat),
		Longitude:        copyFloat(b.lon),
		FormattedAddress: b.formattedAddress,
		Country:          b.country,
		City:             b.city,
		PostalCode:       b.postalCode,
	}
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FirstWithCoordinates returns the first address that has a latitude, or nil.
func FirstWithCoordinates(addrs []Address) *Address {
	for i := range addrs {
		if addrs[i].HasCoordinates() {
			a := addrs[i]
			return &a
		}
	}
	return nil
}

// FormattedAddresses collects the formatted address of every item. The result
// is never nil.
func FormattedAddresses(addrs []Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.FormattedAddress)
	}
	return out
}
