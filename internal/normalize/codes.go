package normalize

import (
	"regexp"
	"strings"

	"github.com/gyeh/mrfsync/internal/model"
)

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]`)

// NormalizeCode trims whitespace, uppercases, and strips non-alphanumeric characters.
// Returns nil if the input is nil or the result is empty.
func NormalizeCode(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	s = strings.ToUpper(s)
	s = nonAlphanumeric.ReplaceAllString(s, "")
	if s == "" {
		return nil
	}
	return &s
}

// NormalizeCodeType maps a publisher's code type spelling onto the canonical
// name ("cpt4" -> "CPT"). Unknown types are kept, trimmed and uppercased.
func NormalizeCodeType(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	if ct, ok := model.CodeTypeByName(s); ok {
		name := ct.Name
		return &name
	}
	s = strings.ToUpper(s)
	return &s
}
