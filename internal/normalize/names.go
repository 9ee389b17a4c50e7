package normalize

import (
	"regexp"
	"strings"
)

var multiSpace = regexp.MustCompile(`\s+`)

// NormalizeHeader strips byte-order marks, lowercases, collapses whitespace,
// and trims a column header so alias matching is insensitive to formatting.
func NormalizeHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	h = strings.ReplaceAll(h, "\u00ef\u00bb\u00bf", "") // BOM decoded as Latin-1
	h = strings.ToLower(strings.TrimSpace(h))
	return multiSpace.ReplaceAllString(h, " ")
}

var placeholders = map[string]bool{
	"":     true,
	"n/a":  true,
	"na":   true,
	"-":    true,
	"--":   true,
	"null": true,
	"none": true,
}

// IsPlaceholder reports whether a cell carries no information.
func IsPlaceholder(v string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(v))]
}
