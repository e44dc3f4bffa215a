package catalog

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Partition types.
const (
	PartitionRange = "range"
	PartitionList  = "list"
	PartitionHash  = "hash"
)

// Partition describes how a table is partitioned.
type Partition struct {
	Type    string
	Columns []string
}

// ForeignKey is a declared table-level foreign key.
type ForeignKey struct {
	Name      string
	RefTable  string
	RefColumn string
}

// Profile is the normalized column-level description of a table: ordered
// features plus key and partition declarations. Every primary key, foreign
// key and partition column must reference a feature by name; construction
// fails fast otherwise.
type Profile struct {
	Features    []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
	Partition   *Partition
}

// Column returns the feature with the given name.
func (p *Profile) Column(name string) (*Column, bool) {
	for i := range p.Features {
		if p.Features[i].Name == name {
			return &p.Features[i], true
		}
	}
	return nil, false
}

// ColumnNames returns feature names in declaration order.
func (p *Profile) ColumnNames() []string {
	names := make([]string, len(p.Features))
	for i, c := range p.Features {
		names[i] = c.Name
	}
	return names
}

// parseProfile normalizes the column block of a table catalog entry.
func parseProfile(entity string, n *yaml.Node) (Profile, error) {
	entries, err := mapEntries(n)
	if err != nil {
		return Profile{}, validationErrf(entity, "profile", "%v", err)
	}

	featNode, featKey, ok := lookup(entries, "features", "columns")
	if !ok {
		return Profile{}, validationErrf(entity, "profile", "missing features block (one of: features, columns)")
	}

	features, err := parseFeatures(entity, featKey, featNode)
	if err != nil {
		return Profile{}, err
	}

	p := Profile{Features: features}

	if pkNode, _, ok := lookup(entries, "primary_key", "primary"); ok {
		p.PrimaryKey = stringList(pkNode)
	}
	// Single-column pk may also come from a "primary key" datatype flag.
	if len(p.PrimaryKey) == 0 {
		for _, c := range p.Features {
			if c.PK {
				p.PrimaryKey = append(p.PrimaryKey, c.Name)
			}
		}
	}

	if fkNode, fkKey, ok := lookup(entries, "foreign_key", "foreign"); ok {
		fks, err := parseForeignKeys(entity, fkKey, fkNode)
		if err != nil {
			return Profile{}, err
		}
		p.ForeignKeys = fks
	}

	if ptNode, ptKey, ok := lookup(entries, "partition"); ok {
		pt, err := parsePartition(entity, ptKey, ptNode)
		if err != nil {
			return Profile{}, err
		}
		p.Partition = pt
	}

	if err := p.propagateKeys(entity); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// parseFeatures accepts the three feature shapes: a sequence of
// {name, datatype, ...} mappings, a mapping of name to datatype string, or
// a mapping of name to a structured column mapping. All normalize to the
// same ordered column list: declaration order for the sequence shape,
// insertion order for the mapping shapes.
func parseFeatures(entity, field string, n *yaml.Node) ([]Column, error) {
	switch {
	case isSequence(n):
		items, err := seqItems(n)
		if err != nil {
			return nil, validationErrf(entity, field, "%v", err)
		}
		cols := make([]Column, 0, len(items))
		for _, item := range items {
			if !isMapping(item) {
				return nil, validationErrf(entity, field, "feature list entries must be mappings with a name")
			}
			props, err := mapEntries(item)
			if err != nil {
				return nil, validationErrf(entity, field, "%v", err)
			}
			nameNode, _, ok := lookup(props, "name")
			if !ok || scalarString(nameNode) == "" {
				return nil, validationErrf(entity, field, "feature list entry missing name")
			}
			col, err := parseFeatureProps(entity, field, scalarString(nameNode), props)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		return cols, nil

	case isMapping(n):
		entries, err := mapEntries(n)
		if err != nil {
			return nil, validationErrf(entity, field, "%v", err)
		}
		cols := make([]Column, 0, len(entries))
		for _, e := range entries {
			switch {
			case isScalar(e.Node):
				cols = append(cols, columnFromString(e.Key, scalarString(e.Node)))
			case isMapping(e.Node):
				props, err := mapEntries(e.Node)
				if err != nil {
					return nil, validationErrf(entity, field, "%v", err)
				}
				col, err := parseFeatureProps(entity, field, e.Key, props)
				if err != nil {
					return nil, err
				}
				cols = append(cols, col)
			default:
				return nil, validationErrf(entity, field, "feature %q must be a datatype string or a mapping", e.Key)
			}
		}
		return cols, nil

	default:
		return nil, validationErrf(entity, field, "features must be a sequence or a mapping, got %s", nodeKind(n))
	}
}

// parseFeatureProps builds a column from a structured feature mapping.
// The datatype string may still carry embedded flags; explicit fields win.
func parseFeatureProps(entity, field, name string, props []entry) (Column, error) {
	dtNode, _, ok := lookup(props, "datatype", "type")
	if !ok {
		return Column{}, validationErrf(entity, field, "feature %q missing datatype", name)
	}

	col := columnFromString(name, scalarString(dtNode))

	if v, _, ok := lookup(props, "nullable"); ok {
		col.Nullable = scalarBool(v, col.Nullable)
	}
	if v, _, ok := lookup(props, "unique"); ok {
		col.Unique = scalarBool(v, col.Unique)
	}
	if v, _, ok := lookup(props, "default"); ok {
		col.Default = scalarString(v)
	}
	if v, _, ok := lookup(props, "check"); ok {
		col.Check = scalarString(v)
	}
	if v, _, ok := lookup(props, "pk", "primary_key"); ok {
		col.PK = scalarBool(v, col.PK)
	}
	if v, _, ok := lookup(props, "fk", "foreign_key"); ok {
		fk, err := parseColumnRef(entity, field, name, v)
		if err != nil {
			return Column{}, err
		}
		col.FK = fk
	}

	if col.PK {
		col.Nullable = false
	}
	return col, nil
}

// parseColumnRef normalizes a column-level fk reference {table, column}.
func parseColumnRef(entity, field, colName string, n *yaml.Node) (*ForeignRef, error) {
	if !isMapping(n) {
		return nil, validationErrf(entity, field, "feature %q fk must be a {table, column} mapping", colName)
	}
	props, err := mapEntries(n)
	if err != nil {
		return nil, validationErrf(entity, field, "%v", err)
	}
	tbl, _, _ := lookup(props, "table")
	col, _, _ := lookup(props, "column")
	ref := &ForeignRef{Table: scalarString(tbl), Column: scalarString(col)}
	if ref.Table == "" || ref.Column == "" {
		return nil, validationErrf(entity, field, "feature %q fk needs both table and column", colName)
	}
	return ref, nil
}

// parseForeignKeys normalizes the table-level foreign_key block: a sequence
// of {name, ref_table, ref_column} mappings, or a single such mapping.
func parseForeignKeys(entity, field string, n *yaml.Node) ([]ForeignKey, error) {
	var items []*yaml.Node
	if isMapping(n) {
		items = []*yaml.Node{n}
	} else if isSequence(n) {
		var err error
		items, err = seqItems(n)
		if err != nil {
			return nil, validationErrf(entity, field, "%v", err)
		}
	} else {
		return nil, validationErrf(entity, field, "foreign_key must be a mapping or a sequence of mappings")
	}

	fks := make([]ForeignKey, 0, len(items))
	for _, item := range items {
		props, err := mapEntries(item)
		if err != nil {
			return nil, validationErrf(entity, field, "%v", err)
		}
		name, _, _ := lookup(props, "name", "column")
		refTable, _, _ := lookup(props, "ref_table", "table")
		refColumn, _, _ := lookup(props, "ref_column", "ref")
		fk := ForeignKey{
			Name:      scalarString(name),
			RefTable:  scalarString(refTable),
			RefColumn: scalarString(refColumn),
		}
		if fk.Name == "" || fk.RefTable == "" || fk.RefColumn == "" {
			return nil, validationErrf(entity, field, "foreign_key entries need name, ref_table and ref_column")
		}
		fks = append(fks, fk)
	}
	return fks, nil
}

// parsePartition normalizes the partition block.
func parsePartition(entity, field string, n *yaml.Node) (*Partition, error) {
	if !isMapping(n) {
		return nil, validationErrf(entity, field, "partition must be a {type, columns} mapping")
	}
	props, err := mapEntries(n)
	if err != nil {
		return nil, validationErrf(entity, field, "%v", err)
	}
	typeNode, _, _ := lookup(props, "type")
	colsNode, _, _ := lookup(props, "columns", "column")

	pt := &Partition{
		Type:    strings.ToLower(scalarString(typeNode)),
		Columns: stringList(colsNode),
	}
	switch pt.Type {
	case PartitionRange, PartitionList, PartitionHash:
	default:
		return nil, validationErrf(entity, field, "unknown partition type %q", pt.Type)
	}
	if len(pt.Columns) == 0 {
		return nil, validationErrf(entity, field, "partition needs at least one column")
	}
	return pt, nil
}

// propagateKeys back-propagates the declared primary/foreign keys onto the
// matching columns and validates that every referenced name is a feature.
func (p *Profile) propagateKeys(entity string) error {
	for _, name := range p.PrimaryKey {
		col, ok := p.Column(name)
		if !ok {
			return validationErrf(entity, "primary_key", "column %q is not a feature", name)
		}
		col.PK = true
		col.Nullable = false
	}
	for _, fk := range p.ForeignKeys {
		col, ok := p.Column(fk.Name)
		if !ok {
			return validationErrf(entity, "foreign_key", "column %q is not a feature", fk.Name)
		}
		if col.FK == nil {
			col.FK = &ForeignRef{Table: fk.RefTable, Column: fk.RefColumn}
		}
	}
	if p.Partition != nil {
		for _, name := range p.Partition.Columns {
			if _, ok := p.Column(name); !ok {
				return validationErrf(entity, "partition", "column %q is not a feature", name)
			}
		}
	}
	return nil
}
