// Package detect scores scraped page content for evidence that a target
// postcode appears among listing results.
package detect

import (
	"net/url"
	"strings"

	"github.com/subletwatch/subletwatch/internal/model"
)

// DefaultPreviewLen bounds how much of a response body the detector reads.
// Search result pages surface matches near the top; the cap keeps memory and
// log cost flat on multi-megabyte renders.
const DefaultPreviewLen = 2000

// rule is one detection heuristic. Rules run in declaration order and the
// first hit wins.
type rule struct {
	method     model.MatchMethod
	confidence float64
	match      func(content, postcode string) bool
}

var rules = []rule{
	{model.MethodExact, 1.0, func(c, pc string) bool {
		return strings.Contains(c, pc)
	}},
	{model.MethodCaseInsensitive, 0.9, func(c, pc string) bool {
		return strings.Contains(strings.ToLower(c), strings.ToLower(pc))
	}},
	{model.MethodSplitParts, 0.8, func(c, pc string) bool {
		outward, inward, ok := strings.Cut(pc, " ")
		if !ok {
			return false
		}
		// "Independently" excludes joined renderings (encoded, hyphenated,
		// space-stripped); those belong to the lower rungs.
		lower := stripJoinedForms(strings.ToLower(c), strings.ToLower(pc))
		return containsWord(lower, strings.ToLower(outward)) &&
			containsWord(lower, strings.ToLower(inward))
	}},
	{model.MethodURLEncoded, 0.7, func(c, pc string) bool {
		lower := strings.ToLower(c)
		return strings.Contains(lower, strings.ToLower(url.QueryEscape(pc))) ||
			strings.Contains(lower, strings.ToLower(strings.ReplaceAll(pc, " ", "%20")))
	}},
	{model.MethodHyphenated, 0.7, func(c, pc string) bool {
		return strings.Contains(strings.ToLower(c), strings.ToLower(strings.ReplaceAll(pc, " ", "-")))
	}},
	{model.MethodNoSpaces, 0.6, func(c, pc string) bool {
		return strings.Contains(strings.ToLower(c), strings.ToLower(strings.ReplaceAll(pc, " ", "")))
	}},
}

// stripJoinedForms removes single-token renderings of the postcode so the
// split-parts rule only sees genuinely independent occurrences. Both inputs
// must already be lowercased.
func stripJoinedForms(content, pc string) string {
	for _, joiner := range []string{"%20", "+", "-", ""} {
		content = strings.ReplaceAll(content, strings.ReplaceAll(pc, " ", joiner), " ")
	}
	return content
}

// containsWord checks if text contains needle bounded by non-alphanumeric
// characters or string boundaries. Both arguments should be lowercased.
func containsWord(text, needle string) bool {
	if needle == "" || text == "" {
		return false
	}
	start := 0
	for {
		idx := strings.Index(text[start:], needle)
		if idx < 0 {
			return false
		}
		absIdx := start + idx
		endIdx := absIdx + len(needle)

		leftOK := absIdx == 0 || !isAlphaNum(text[absIdx-1])
		rightOK := endIdx == len(text) || !isAlphaNum(text[endIdx])

		if leftOK && rightOK {
			return true
		}
		start = absIdx + 1
	}
}

func isAlphaNum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// Detector inspects response bodies for a target postcode.
type Detector struct {
	previewLen int
}

// New creates a Detector. previewLen <= 0 uses DefaultPreviewLen.
func New(previewLen int) *Detector {
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}
	return &Detector{previewLen: previewLen}
}

// Inspect runs the detection ladder over a bounded preview of body and
// returns the confidence-ranked verdict, including the anti-bot signal and
// the informational listing-density estimate.
func (d *Detector) Inspect(body string, postcode string, platform model.Platform) model.MatchVerdict {
	preview := body
	if len(preview) > d.previewLen {
		preview = preview[:d.previewLen]
	}

	verdict := model.MatchVerdict{Method: model.MethodNone}
	for _, r := range rules {
		if r.match(preview, postcode) {
			verdict.Found = true
			verdict.Method = r.method
			verdict.Confidence = r.confidence
			break
		}
	}

	verdict.Blocked, verdict.BlockConfidence = BlockSignal(preview)
	verdict.ListingDensity = ListingDensity(body, platform)
	return verdict
}

// PickWinner reduces an ordinal-ordered attempt sequence to the pair's final
// verdict, honoring short-circuit semantics: the first found attempt wins;
// failing that, the highest-confidence successful attempt; nil when every
// attempt failed outright.
func PickWinner(attempts []model.ScrapeAttempt) *model.ScrapeAttempt {
	var best *model.ScrapeAttempt
	for i := range attempts {
		a := &attempts[i]
		if !a.Success || a.Verdict == nil {
			continue
		}
		if a.Verdict.Found {
			return a
		}
		if best == nil || a.Verdict.Confidence > best.Verdict.Confidence {
			best = a
		}
	}
	return best
}
