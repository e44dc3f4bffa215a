package catalog

// yaml.go - yaml.Node helpers shared by the normalizers.
//
// Catalog files are heterogeneous: the same block may be a string, a
// mapping, or a list depending on the author. Working on yaml.Node instead
// of map[string]any keeps the declaration order of mapping keys, which the
// feature normalizer relies on.

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// entry is a single key/value pair of a mapping node, in document order.
type entry struct {
	Key  string
	Node *yaml.Node
}

// unwrap resolves document and alias indirections.
func unwrap(n *yaml.Node) *yaml.Node {
	for n != nil {
		switch {
		case n.Kind == yaml.DocumentNode && len(n.Content) > 0:
			n = n.Content[0]
		case n.Kind == yaml.AliasNode && n.Alias != nil:
			n = n.Alias
		default:
			return n
		}
	}
	return n
}

// mapEntries returns the key/value pairs of a mapping node in document order.
func mapEntries(n *yaml.Node) ([]entry, error) {
	n = unwrap(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", nodeKind(n))
	}
	entries := make([]entry, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		entries = append(entries, entry{Key: n.Content[i].Value, Node: unwrap(n.Content[i+1])})
	}
	return entries, nil
}

// seqItems returns the items of a sequence node.
func seqItems(n *yaml.Node) ([]*yaml.Node, error) {
	n = unwrap(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a sequence, got %s", nodeKind(n))
	}
	items := make([]*yaml.Node, len(n.Content))
	for i, c := range n.Content {
		items[i] = unwrap(c)
	}
	return items, nil
}

// isScalar reports whether the node is a scalar value.
func isScalar(n *yaml.Node) bool {
	n = unwrap(n)
	return n != nil && n.Kind == yaml.ScalarNode
}

// isMapping reports whether the node is a mapping.
func isMapping(n *yaml.Node) bool {
	n = unwrap(n)
	return n != nil && n.Kind == yaml.MappingNode
}

// isSequence reports whether the node is a sequence.
func isSequence(n *yaml.Node) bool {
	n = unwrap(n)
	return n != nil && n.Kind == yaml.SequenceNode
}

// scalarString returns the node's value as a string.
// Null nodes yield the empty string.
func scalarString(n *yaml.Node) string {
	n = unwrap(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	if n.Tag == "!!null" {
		return ""
	}
	return n.Value
}

// scalarInt returns the node's value as an int, with a fallback default.
func scalarInt(n *yaml.Node, def int) int {
	s := strings.TrimSpace(scalarString(n))
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// scalarFloat returns the node's value as a float64, with a fallback default.
func scalarFloat(n *yaml.Node, def float64) float64 {
	s := strings.TrimSpace(scalarString(n))
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

// scalarBool returns the node's value as a bool, with a fallback default.
func scalarBool(n *yaml.Node, def bool) bool {
	s := strings.ToLower(strings.TrimSpace(scalarString(n)))
	switch s {
	case "true", "yes", "on", "1":
		return true
	case "false", "no", "off", "0":
		return false
	default:
		return def
	}
}

// stringList accepts a scalar (single value) or a sequence of scalars and
// returns the values as a string slice.
func stringList(n *yaml.Node) []string {
	n = unwrap(n)
	if n == nil {
		return nil
	}
	if n.Kind == yaml.ScalarNode {
		if s := scalarString(n); s != "" {
			return []string{s}
		}
		return nil
	}
	if n.Kind == yaml.SequenceNode {
		var out []string
		for _, c := range n.Content {
			if s := scalarString(c); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// lookup finds the value node for the first of the given alias keys present
// in the mapping entries. Returns the matched key so validation errors can
// name it.
func lookup(entries []entry, aliases ...string) (*yaml.Node, string, bool) {
	for _, alias := range aliases {
		for _, e := range entries {
			if e.Key == alias {
				return e.Node, alias, true
			}
		}
	}
	return nil, "", false
}

// nodeKind names a node kind for error messages.
func nodeKind(n *yaml.Node) string {
	if n == nil {
		return "nothing"
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.MappingNode:
		return "a mapping"
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.DocumentNode:
		return "a document"
	default:
		return "an unknown node"
	}
}
