// Package strategy builds ordered candidate search requests per platform.
// The generator is pure: the same property and platform always produce the
// same strategy list, coordinate search first, free-text fallback last.
package strategy

import (
	"fmt"
	"net/url"

	"github.com/twpayne/go-geom"

	"github.com/subletwatch/subletwatch/internal/model"
)

// bboxDelta is the half-width of the coordinate search box in degrees,
// roughly 20 metres at UK latitudes.
const bboxDelta = 0.0002

// buildingZoom is the map zoom hint favoring building-level results.
const buildingZoom = 19

// BoundingBox is the coordinate search window around a property.
type BoundingBox struct {
	SWLat, SWLng float64
	NELat, NELng float64
}

// boxAround expands a point into the fixed search window.
func boxAround(lat, lng float64) BoundingBox {
	b := geom.NewBounds(geom.XY)
	b.SetCoords(
		geom.Coord{lng - bboxDelta, lat - bboxDelta},
		geom.Coord{lng + bboxDelta, lat + bboxDelta},
	)
	return BoundingBox{
		SWLat: b.Min(1), SWLng: b.Min(0),
		NELat: b.Max(1), NELng: b.Max(0),
	}
}

// Generate returns the ordered strategy list for one property on one
// platform: a coordinate-bounded search at ordinal 0 when the property is
// geocoded, and always the address/text fallback at ordinal 1. The fallback
// keeps ordinal 1 even when the coordinate strategy is absent, so the
// persisted ordinal always identifies the strategy kind.
func Generate(p model.Property, platform model.Platform) []model.SearchStrategy {
	var out []model.SearchStrategy

	if p.HasCoordinates() {
		box := boxAround(*p.Latitude, *p.Longitude)
		out = append(out, model.SearchStrategy{
			Platform:   platform,
			Kind:       model.StrategyCoordinate,
			RequestURL: coordinateURL(platform, box),
			Ordinal:    0,
		})
	}

	out = append(out, model.SearchStrategy{
		Platform:   platform,
		Kind:       model.StrategyAddressFallback,
		RequestURL: fallbackURL(platform, p.SearchQuery()),
		Ordinal:    1,
	})

	return out
}

// GenerateAll returns strategies for every platform, keyed by platform.
func GenerateAll(p model.Property, platforms []model.Platform) map[model.Platform][]model.SearchStrategy {
	out := make(map[model.Platform][]model.SearchStrategy, len(platforms))
	for _, pl := range platforms {
		out[pl] = Generate(p, pl)
	}
	return out
}

func coordinateURL(platform model.Platform, box BoundingBox) string {
	switch platform {
	case model.PlatformAirbnb:
		return fmt.Sprintf(
			"https://www.airbnb.co.uk/s/homes?refinement_paths%%5B%%5D=%%2Fhomes&search_by_map=true&ne_lat=%.6f&ne_lng=%.6f&sw_lat=%.6f&sw_lng=%.6f&zoom=%d&search_type=user_map_move",
			box.NELat, box.NELng, box.SWLat, box.SWLng, buildingZoom,
		)
	case model.PlatformSpareRoom:
		return fmt.Sprintf(
			"https://www.spareroom.co.uk/flatshare/search.pl?searchtype=advanced&flatshare_type=offered&latitude=%.6f&longitude=%.6f&latitude_delta=%.4f&longitude_delta=%.4f",
			(box.SWLat+box.NELat)/2, (box.SWLng+box.NELng)/2, bboxDelta, bboxDelta,
		)
	case model.PlatformGumtree:
		return fmt.Sprintf(
			"https://www.gumtree.com/search?search_category=property-to-rent&latitude=%.6f&longitude=%.6f&distance=0.01",
			(box.SWLat+box.NELat)/2, (box.SWLng+box.NELng)/2,
		)
	}
	return ""
}

func fallbackURL(platform model.Platform, query string) string {
	switch platform {
	case model.PlatformAirbnb:
		return "https://www.airbnb.co.uk/s/" + url.PathEscape(query) + "/homes"
	case model.PlatformSpareRoom:
		return "https://www.spareroom.co.uk/flatshare/?search=" + url.QueryEscape(query)
	case model.PlatformGumtree:
		return "https://www.gumtree.com/search?search_category=property-to-rent&q=" + url.QueryEscape(query)
	}
	return ""
}
