package catalog

import (
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/datakit-labs/flowctl/internal/trigger"
)

// NodeRef is one entry of a pipeline's node list: a table name plus an
// optional choose-list filtering which of its processes run. A choose entry
// prefixed '!' excludes that process instead.
type NodeRef struct {
	Priority float64
	Name     string
	Choose   []string
}

// Selected reports whether a process name passes the choose-list: included
// when the list is empty or names it, excluded when the list names it with
// a '!' prefix.
func (n NodeRef) Selected(process string) bool {
	if len(n.Choose) == 0 {
		return true
	}
	hasInclude := false
	for _, c := range n.Choose {
		if strings.HasPrefix(c, "!") {
			if c[1:] == process {
				return false
			}
			continue
		}
		hasInclude = true
		if c == process {
			return true
		}
	}
	return !hasInclude
}

// Pipeline is the normalized catalog description of one pipeline: an
// ordered set of table nodes plus scheduling, trigger and alerting wiring.
type Pipeline struct {
	Name      string
	Shortname string
	ID        string // external correlation key, distinct from name
	Priority  int
	Schedule  []string // cron-group memberships
	Trigger   trigger.Expr
	Alert     []string
	Nodes     []NodeRef // ascending priority
	Tag       Tag
}

// Node returns the node entry for a table name.
func (p *Pipeline) Node(name string) (*NodeRef, bool) {
	for i := range p.Nodes {
		if p.Nodes[i].Name == name {
			return &p.Nodes[i], true
		}
	}
	return nil, false
}

// InSchedule reports whether the pipeline belongs to a cron group.
func (p *Pipeline) InSchedule(group string) bool {
	for _, g := range p.Schedule {
		if g == group {
			return true
		}
	}
	return false
}

// ParsePipeline normalizes a raw pipeline catalog entry.
func ParsePipeline(name string, n *yaml.Node) (*Pipeline, error) {
	entries, err := mapEntries(n)
	if err != nil {
		return nil, validationErrf(name, "", "%v", err)
	}

	p := &Pipeline{
		Name:      name,
		Shortname: Shortname(name),
	}

	idNode, _, ok := lookup(entries, "id")
	if !ok || scalarString(idNode) == "" {
		return nil, validationErrf(name, "id", "pipeline needs an id")
	}
	p.ID = scalarString(idNode)

	if v, _, ok := lookup(entries, "priority"); ok {
		p.Priority = scalarInt(v, 0)
	}
	if v, _, ok := lookup(entries, "schedule"); ok {
		p.Schedule = stringList(v)
	}
	if v, _, ok := lookup(entries, "alert"); ok {
		p.Alert = stringList(v)
	}

	if trigNode, _, ok := lookup(entries, "trigger"); ok {
		expr, err := trigger.Parse(scalarString(trigNode))
		if err != nil {
			return nil, validationErrf(name, "trigger", "%v", err)
		}
		p.Trigger = expr
	}

	nodesNode, _, ok := lookup(entries, "nodes", "node")
	if !ok {
		return nil, validationErrf(name, "nodes", "pipeline needs a node list")
	}
	nodes, err := parseNodes(name, nodesNode)
	if err != nil {
		return nil, err
	}
	p.Nodes = nodes

	p.Tag = parseTag(entries)
	return p, nil
}

// parseNodes normalizes the node list from its four accepted shapes:
//
//  1. mapping of name to {priority, choose}
//  2. mapping of name to [choose...]
//  3. sequence of {name, priority, choose} mappings
//  4. sequence of plain name strings
//
// into a single priority-ordered slice. Entries without an explicit
// priority get 1, 1.1, 1.2, ... in document order, leaving room to insert
// between explicit integer priorities.
func parseNodes(entity string, n *yaml.Node) ([]NodeRef, error) {
	var nodes []NodeRef

	switch {
	case isMapping(n):
		entries, err := mapEntries(n)
		if err != nil {
			return nil, validationErrf(entity, "nodes", "%v", err)
		}
		for i, e := range entries {
			ref := NodeRef{Name: e.Key, Priority: defaultNodePriority(i, len(entries))}
			switch {
			case isMapping(e.Node):
				props, err := mapEntries(e.Node)
				if err != nil {
					return nil, validationErrf(entity, "nodes."+e.Key, "%v", err)
				}
				if v, _, ok := lookup(props, "priority"); ok {
					ref.Priority = scalarFloat(v, ref.Priority)
				}
				if v, _, ok := lookup(props, "choose"); ok {
					ref.Choose = stringList(v)
				}
			case isSequence(e.Node):
				ref.Choose = stringList(e.Node)
			case isScalar(e.Node) && scalarString(e.Node) == "":
				// bare entry, defaults apply
			default:
				return nil, validationErrf(entity, "nodes."+e.Key, "node value must be a mapping, a choose list, or empty")
			}
			nodes = append(nodes, ref)
		}

	case isSequence(n):
		items, err := seqItems(n)
		if err != nil {
			return nil, validationErrf(entity, "nodes", "%v", err)
		}
		for i, item := range items {
			switch {
			case isScalar(item):
				name := scalarString(item)
				if name == "" {
					return nil, validationErrf(entity, "nodes", "empty node name")
				}
				nodes = append(nodes, NodeRef{Name: name, Priority: float64(i + 1)})
			case isMapping(item):
				props, err := mapEntries(item)
				if err != nil {
					return nil, validationErrf(entity, "nodes", "%v", err)
				}
				nameNode, _, ok := lookup(props, "name")
				if !ok || scalarString(nameNode) == "" {
					return nil, validationErrf(entity, "nodes", "node entry missing name")
				}
				ref := NodeRef{Name: scalarString(nameNode), Priority: float64(i + 1)}
				if v, _, ok := lookup(props, "priority"); ok {
					ref.Priority = scalarFloat(v, ref.Priority)
				}
				if v, _, ok := lookup(props, "choose"); ok {
					ref.Choose = stringList(v)
				}
				nodes = append(nodes, ref)
			default:
				return nil, validationErrf(entity, "nodes", "node entries must be names or mappings")
			}
		}

	default:
		return nil, validationErrf(entity, "nodes", "must be a mapping or a sequence, got %s", nodeKind(n))
	}

	if len(nodes) == 0 {
		return nil, validationErrf(entity, "nodes", "pipeline needs at least one node")
	}

	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Priority < nodes[j].Priority })
	return nodes, nil
}

// defaultNodePriority spreads unordered node entries evenly across (1, 2)
// in document order, so document-order defaults never collide with an
// explicit integer priority regardless of the entry count.
func defaultNodePriority(i, total int) float64 {
	return 1 + float64(i)/float64(total+1)
}
