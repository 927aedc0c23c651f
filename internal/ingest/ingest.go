// Package ingest parses uploaded property lists into deduplicated,
// postcode-keyed properties.
package ingest

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/subletwatch/subletwatch/internal/model"
)

// postcodePattern matches UK postcodes with an optional internal space,
// e.g. "G11 5AW", "g115aw", "EC1A 1BB".
var postcodePattern = regexp.MustCompile(`(?i)^[A-Z]{1,2}[0-9][A-Z0-9]? ?[0-9][A-Z]{2}$`)

// tokenSplit breaks a line into candidate postcode tokens. Commas and
// semicolons come from CSV exports; the scanner also re-joins adjacent
// tokens so "G11 5AW" inside a comma-free line still matches.
var tokenSplit = regexp.MustCompile(`[,;\t]+`)

// Canonicalize uppercases a postcode and normalizes it to a single internal
// space before the inward code (last three characters).
func Canonicalize(raw string) string {
	pc := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if len(pc) < 5 {
		return pc
	}
	return pc[:len(pc)-3] + " " + pc[len(pc)-3:]
}

// ExtractProperties scans raw upload text line by line and returns the
// ordered, deduplicated property list. The first row is treated as a header
// and discarded. The first token on a line matching the postcode pattern
// wins; the full line is kept as the address. Inputs with no extractable
// postcodes yield an empty list, not an error.
func ExtractProperties(content string) []model.Property {
	content = strings.TrimPrefix(content, "\uFEFF")

	var props []model.Property
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first {
			first = false
			continue
		}
		if line == "" {
			continue
		}

		pc, ok := findPostcode(line)
		if !ok {
			continue
		}
		if _, dup := seen[pc]; dup {
			continue
		}
		seen[pc] = struct{}{}

		props = append(props, model.Property{
			Postcode: pc,
			Address:  line,
		})
	}

	zap.L().Debug("ingest: extracted properties",
		zap.Int("count", len(props)),
	)
	return props
}

// findPostcode returns the canonical form of the first token on the line
// matching the UK postcode pattern.
func findPostcode(line string) (string, bool) {
	for _, field := range tokenSplit.Split(line, -1) {
		words := strings.Fields(field)
		for i, w := range words {
			w = strings.Trim(w, `"'`)
			if postcodePattern.MatchString(w) {
				return Canonicalize(w), true
			}
			// Spaced postcodes span two words ("G11" "5AW").
			if i+1 < len(words) {
				joined := w + " " + strings.Trim(words[i+1], `"'`)
				if postcodePattern.MatchString(joined) {
					return Canonicalize(joined), true
				}
			}
		}
	}
	return "", false
}

// ReadUpload decodes an uploaded file body to UTF-8 text. Excel CSV exports
// on Windows frequently arrive as Windows-1252; bytes invalid as UTF-8 are
// re-decoded through charmap before extraction.
func ReadUpload(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", eris.Wrap(err, "ingest: read upload")
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", eris.Wrap(err, "ingest: decode windows-1252")
	}
	return string(decoded), nil
}
