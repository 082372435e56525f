package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	formatSuffix = regexp.MustCompile(`(?i)\s*[-–]\s*(single|ep|album)\s*$`)
	nonAlnum     = regexp.MustCompile(`[^\p{L}\p{N}]+`)
	multiSpace   = regexp.MustCompile(`\s{2,}`)
	nonDigit     = regexp.MustCompile(`\D`)
)

// NormalizeTitle folds accents and case, drops provider format suffixes such
// as " - Single", and collapses punctuation to single spaces.
func NormalizeTitle(title string) string {
	// Transformers carry state; build one per call.
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	t, _, err := transform.String(fold, title)
	if err != nil {
		t = title
	}
	t = formatSuffix.ReplaceAllString(t, "")
	t = strings.ToLower(t)
	t = nonAlnum.ReplaceAllString(t, " ")
	t = multiSpace.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// NormalizeUPC keeps digits only and strips leading zeros so UPC-A and
// EAN-13 renderings of the same barcode compare equal.
func NormalizeUPC(upc string) string {
	d := nonDigit.ReplaceAllString(upc, "")
	return strings.TrimLeft(d, "0")
}

// NormalizeISRC upper-cases and removes separators.
func NormalizeISRC(isrc string) string {
	s := strings.ToUpper(strings.TrimSpace(isrc))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}
