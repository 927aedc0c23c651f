package model

// MatchMethod names the detection rule that produced a verdict.
type MatchMethod string

const (
	MethodExact           MatchMethod = "exact"
	MethodCaseInsensitive MatchMethod = "case_insensitive"
	MethodSplitParts      MatchMethod = "split_parts"
	MethodURLEncoded      MatchMethod = "url_encoded"
	MethodHyphenated      MatchMethod = "hyphenated"
	MethodNoSpaces        MatchMethod = "no_spaces"
	MethodNone            MatchMethod = "none"
)

// MatchVerdict is the detector's judgment on one attempt's content. It is
// derived, never persisted on its own; the winning verdict travels with the
// attempt it was computed from.
type MatchVerdict struct {
	Found           bool        `json:"found"`
	Method          MatchMethod `json:"method"`
	Confidence      float64     `json:"confidence"`
	Blocked         bool        `json:"blocked"`
	BlockConfidence float64     `json:"block_confidence"`
	ListingDensity  int         `json:"listing_density"`
}
