package catalog

import (
	"strings"
	"unicode/utf8"
)

// Table name prefixes used for categorization.
const (
	PrefixControl  = "ctr"
	PrefixSource   = "src"
	PrefixDerived  = "ai"
	PrefixImported = "imp"
)

// Shortname reduces a full entity name to its acronym: the first rune of
// each '_'-separated word. "ai_sales_summary" becomes "ass".
func Shortname(name string) string {
	var sb strings.Builder
	for _, word := range strings.Split(name, "_") {
		if word == "" {
			continue
		}
		r, _ := utf8.DecodeRuneInString(word)
		sb.WriteRune(r)
	}
	return sb.String()
}

// Prefix returns the first '_'-segment of an entity name, used for
// categorization (ctr = control, src = source, ai = derived, imp = imported).
func Prefix(name string) string {
	if i := strings.Index(name, "_"); i > 0 {
		return name[:i]
	}
	return name
}
