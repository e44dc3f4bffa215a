package statement

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Vars holds placeholder substitutions for Bind.
type Vars map[string]string

var bindPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Bind substitutes every {placeholder} token in the statement. Tokens
// without a value are an error, so a missing runtime parameter fails
// before the statement reaches the database.
func Bind(stmt string, vars Vars) (string, error) {
	var missing []string
	out := bindPattern.ReplaceAllStringFunc(stmt, func(tok string) string {
		name := tok[1 : len(tok)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		missing = append(missing, name)
		return tok
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("statement has unbound placeholders: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Placeholders lists the distinct placeholder names in a statement.
func Placeholders(stmt string) []string {
	var names []string
	for _, m := range bindPattern.FindAllStringSubmatch(stmt, -1) {
		names = append(names, m[1])
	}
	sort.Strings(names)
	return dedup(names)
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
