package catalog

import (
	"gopkg.in/yaml.v3"
)

// Database object types a function catalog entry may declare.
const (
	ObjectFunction  = "func"
	ObjectView      = "view"
	ObjectProcedure = "procedure"
)

// Function is the normalized catalog description of a database function (or
// other statement-defined object): a single statement profile with its
// parameters, no column profile.
type Function struct {
	Name      string
	Shortname string
	Prefix    string
	Type      string // func | view | procedure
	Profile   Process
	Tag       Tag
}

// ParseFunction normalizes a raw function catalog entry.
func ParseFunction(name string, n *yaml.Node) (*Function, error) {
	entries, err := mapEntries(n)
	if err != nil {
		return nil, validationErrf(name, "", "%v", err)
	}

	f := &Function{
		Name:      name,
		Shortname: Shortname(name),
		Prefix:    Prefix(name),
		Type:      ObjectFunction,
	}

	if typeNode, _, ok := lookup(entries, "type"); ok {
		f.Type = scalarString(typeNode)
	}

	stmtNode, _, ok := lookup(entries, "statement", "sql", "create")
	if !ok || scalarString(stmtNode) == "" {
		return nil, validationErrf(name, "statement", "missing statement block (one of: statement, sql, create)")
	}

	f.Profile = Process{
		Name:      name,
		Priority:  1,
		Statement: scalarString(stmtNode),
	}

	declared := []string{}
	if paramNode, _, ok := lookup(entries, "parameter", "parameters"); ok {
		declared = stringList(paramNode)
	}
	f.Profile.Parameters = mergeParams(declared, placeholders(f.Profile.Statement))

	f.Tag = parseTag(entries)
	return f, nil
}
