package detect

import "strings"

// blockSignatures are the blocking-language substrings listing platforms and
// their CDNs emit on challenge pages.
var blockSignatures = []string{
	"captcha",
	"unusual traffic",
	"access denied",
	"robot",
	"challenge-platform",
	"blocked",
	"verify you are a human",
}

// BlockSignal checks content for anti-bot challenge language. The returned
// confidence is the fraction of the signature set present; blocked is true
// when any signature matched.
func BlockSignal(content string) (bool, float64) {
	if content == "" {
		return false, 0
	}
	lower := strings.ToLower(content)

	hits := 0
	for _, sig := range blockSignatures {
		if strings.Contains(lower, sig) {
			hits++
		}
	}
	if hits == 0 {
		return false, 0
	}
	return true, float64(hits) / float64(len(blockSignatures))
}
