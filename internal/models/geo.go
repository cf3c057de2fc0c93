package models

import "strings"

// GeoKind is the resolution state of a destination address
type GeoKind int

const (
	// GeoUnresolved means no lookup has finished yet (never attempted or in flight)
	GeoUnresolved GeoKind = iota
	// GeoLocalNetwork is returned for private, loopback and link-local addresses
	GeoLocalNetwork
	// GeoResolved carries a usable location
	GeoResolved
	// GeoFailed is terminal: the lookup ran and produced nothing usable
	GeoFailed
)

func (k GeoKind) String() string {
	switch k {
	case GeoLocalNetwork:
		return "local"
	case GeoResolved:
		return "resolved"
	case GeoFailed:
		return "failed"
	default:
		return "unresolved"
	}
}

// GeoResult is the outcome of resolving a destination address
type GeoResult struct {
	Kind        GeoKind `json:"-"`
	CountryCode string  `json:"country_code,omitempty"`
	City        string  `json:"city,omitempty"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	Location    string  `json:"location"`
}

var (
	Unresolved   = GeoResult{Kind: GeoUnresolved}
	LocalNetwork = GeoResult{Kind: GeoLocalNetwork}
	FailedGeo    = GeoResult{Kind: GeoFailed}
)

// Resolved builds a resolved result
func Resolved(countryCode, city string, lat, lon float64) GeoResult {
	g := GeoResult{
		Kind:        GeoResolved,
		CountryCode: countryCode,
		City:        city,
		Lat:         lat,
		Lon:         lon,
	}
	g.Location = g.Label()
	return g
}

// Label renders the display string shown next to a packet
func (g GeoResult) Label() string {
	switch g.Kind {
	case GeoLocalNetwork:
		return "Local Network"
	case GeoResolved:
		return strings.TrimSpace(g.CountryCode + " " + g.City)
	case GeoFailed:
		return "Unknown"
	default:
		return "Resolving..."
	}
}

// GeoUpdate is published when a background lookup completes after its
// originating record has already gone out.
type GeoUpdate struct {
	Address string    `json:"ip"`
	Result  GeoResult `json:"geo_info"`
}
