package catalog

// datatype.go - parsing of raw datatype strings.
//
// A single datatype string may embed several flags, e.g.
// "varchar(128) not null unique primary key check(length(code) > 2)".
// Flags are extracted by substring search-and-strip in a fixed precedence:
// nullability suffix first, then unique, then primary key, then the serial
// rewrite, then the balanced-paren check clause. The check clause goes last
// so keyword stripping cannot corrupt its body; whatever remains is the
// bare datatype.

import (
	"regexp"
	"strings"
)

// datatypeFlags is the decomposition of a raw datatype string.
type datatypeFlags struct {
	Type     string
	Nullable bool
	Unique   bool
	PK       bool
	Serial   bool
	Check    string
}

var spaceRun = regexp.MustCompile(`\s+`)

// parseDatatype decomposes a raw datatype string into its flags.
func parseDatatype(raw string) datatypeFlags {
	f := datatypeFlags{Nullable: true}
	s := spaceRun.ReplaceAllString(strings.TrimSpace(raw), " ")
	low := strings.ToLower(s)

	// 1. nullability suffix
	if idx := strings.Index(low, "not null"); idx >= 0 {
		f.Nullable = false
		s = s[:idx] + s[idx+len("not null"):]
	} else if idx := strings.Index(low, "null"); idx >= 0 {
		s = s[:idx] + s[idx+len("null"):]
	}
	low = strings.ToLower(s)

	// 2. unique
	if idx := strings.Index(low, "unique"); idx >= 0 {
		f.Unique = true
		s = s[:idx] + s[idx+len("unique"):]
		low = strings.ToLower(s)
	}

	// 3. primary key
	if idx := strings.Index(low, "primary key"); idx >= 0 {
		f.PK = true
		f.Nullable = false
		s = s[:idx] + s[idx+len("primary key"):]
		low = strings.ToLower(s)
	}

	// 4. serial rewrite: the column is system-generated
	if idx := strings.Index(low, "serial"); idx >= 0 {
		f.Serial = true
		s = s[:idx] + "int" + s[idx+len("serial"):]
		low = strings.ToLower(s)
	}

	// 5. check clause, balanced parens
	if idx := strings.Index(low, "check"); idx >= 0 {
		if body, rest, ok := extractParenGroup(s[idx+len("check"):]); ok {
			f.Check = strings.TrimSpace(body)
			s = s[:idx] + rest
		}
	}

	f.Type = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
	return f
}

// extractParenGroup reads a balanced "( ... )" group from the head of s
// (leading whitespace allowed) and returns the group body and the remainder.
func extractParenGroup(s string) (body, rest string, ok bool) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i >= len(s) || s[i] != '(' {
		return "", "", false
	}
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[i+1 : j], s[j+1:], true
			}
		}
	}
	return "", "", false
}
