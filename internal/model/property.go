// Package model defines the domain types shared across the scan pipeline.
package model

import "strings"

// Platform identifies a listing site the pipeline searches.
type Platform string

const (
	PlatformAirbnb    Platform = "airbnb"
	PlatformSpareRoom Platform = "spareroom"
	PlatformGumtree   Platform = "gumtree"
)

// AllPlatforms returns every platform the pipeline checks, in a fixed order.
func AllPlatforms() []Platform {
	return []Platform{PlatformAirbnb, PlatformSpareRoom, PlatformGumtree}
}

// ParsePlatform validates a platform name from user input.
func ParsePlatform(s string) (Platform, bool) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformAirbnb, PlatformSpareRoom, PlatformGumtree:
		return p, true
	}
	return "", false
}

// Property is one client-managed address under investigation. Postcode is the
// natural key within a job; coordinates are attached by the geocoder and stay
// nil when the lookup misses.
type Property struct {
	Postcode   string   `json:"postcode"`
	Address    string   `json:"address"`
	StreetName string   `json:"street_name,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether the geocoder resolved this property.
func (p Property) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// SearchQuery returns the free-text query used by address-fallback
// strategies: full address if present, else "street, postcode", else the
// bare postcode.
func (p Property) SearchQuery() string {
	if p.Address != "" {
		return p.Address
	}
	if p.StreetName != "" {
		return p.StreetName + ", " + p.Postcode
	}
	return p.Postcode
}

// StrategyKind distinguishes coordinate-bounded searches from free-text ones.
type StrategyKind string

const (
	StrategyCoordinate      StrategyKind = "coordinate"
	StrategyAddressFallback StrategyKind = "address_fallback"
)

// SearchStrategy is one candidate search request for a property on one
// platform. Ordinal defines trial order; coordinate strategies precede the
// address fallback.
type SearchStrategy struct {
	Platform   Platform     `json:"platform"`
	Kind       StrategyKind `json:"kind"`
	RequestURL string       `json:"request_url"`
	Ordinal    int          `json:"ordinal"`
}

// ScrapeAttempt records one executed fetch for a strategy. Attempts are
// immutable history; the ordered sequence per property-platform pair is the
// trial record the detector ranks.
type ScrapeAttempt struct {
	Strategy  SearchStrategy `json:"strategy"`
	Success   bool           `json:"success"`
	LatencyMS int64          `json:"latency_ms"`
	HTMLSize  int            `json:"html_size"`
	CostUnits int            `json:"cost_units"`
	Error     string         `json:"error,omitempty"`
	Verdict   *MatchVerdict  `json:"verdict,omitempty"`
}
