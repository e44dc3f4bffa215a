package catalog

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when no catalog file or entry matches a request.
// The glob pattern that was attempted is included for debuggability.
type NotFoundError struct {
	Name    string
	Pattern string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog entry %q not found (searched %s)", e.Name, e.Pattern)
}

// AmbiguousShortnameError is returned when a shortname lookup matches more
// than one catalog entry. Shortnames are not guaranteed unique; lookups that
// hit a collision fail instead of silently picking the first match.
type AmbiguousShortnameError struct {
	Shortname string
	Matches   []string
}

func (e *AmbiguousShortnameError) Error() string {
	return fmt.Sprintf("shortname %q is ambiguous: matches %s", e.Shortname, strings.Join(e.Matches, ", "))
}

// ValidationError reports a structural violation in a catalog entity.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid catalog entry %q: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("invalid catalog entry %q: field %q: %s", e.Entity, e.Field, e.Reason)
}

// validationErrf builds a ValidationError with a formatted reason.
func validationErrf(entity, field, format string, args ...any) error {
	return &ValidationError{Entity: entity, Field: field, Reason: fmt.Sprintf(format, args...)}
}
