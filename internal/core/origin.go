package core

// Origin is the network registry record of an IP address.
// Any field may be empty when the registry does not know it.
type Origin struct {
	CountryCode string `json:"countryCode,omitempty"`
	ASN         string `json:"asn,omitempty"`
	Range       string `json:"range,omitempty"`
}
