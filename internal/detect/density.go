package detect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/subletwatch/subletwatch/internal/model"
)

// densitySelectors are the per-platform result-card markers counted as a
// coarse proxy for result volume. Informational only; never a verdict input.
var densitySelectors = map[model.Platform]string{
	model.PlatformAirbnb:    `div[itemprop="itemListElement"], a[href*="/rooms/"]`,
	model.PlatformSpareRoom: `article.listing-result, .listing-result`,
	model.PlatformGumtree:   `article[data-q="search-result"], a[data-q="search-result-anchor"]`,
}

// ListingDensity counts platform result markers in the full body. Unparsable
// bodies count zero.
func ListingDensity(body string, platform model.Platform) int {
	sel, ok := densitySelectors[platform]
	if !ok || body == "" {
		return 0
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return 0
	}
	return doc.Find(sel).Length()
}
