package catalog

import "strings"

// ForeignRef points a column at the primary key column of another table.
type ForeignRef struct {
	Table  string
	Column string
}

// Column is the normalized description of one table column. Parsed once at
// catalog-load time and immutable thereafter within a single load.
type Column struct {
	Name     string
	Datatype string // bare type after flag extraction, e.g. "varchar(128)"
	Nullable bool
	Unique   bool
	Default  string // literal default value, "" when absent
	Check    string // SQL predicate, "" when absent
	Serial   bool   // system-generated; excluded from upsert SET clauses
	PK       bool
	FK       *ForeignRef
}

// columnFromString builds a Column from a name and a raw datatype string.
func columnFromString(name, rawType string) Column {
	f := parseDatatype(rawType)
	return Column{
		Name:     name,
		Datatype: f.Type,
		Nullable: f.Nullable,
		Unique:   f.Unique,
		Check:    f.Check,
		Serial:   f.Serial,
		PK:       f.PK,
	}
}

// DDL renders the column as a create-table fragment, reproducing every
// constraint the raw datatype carried.
func (c Column) DDL() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	sb.WriteByte(' ')
	sb.WriteString(c.Datatype)
	if !c.Nullable {
		sb.WriteString(" not null")
	}
	if c.Unique {
		sb.WriteString(" unique")
	}
	if c.Default != "" {
		sb.WriteString(" default ")
		sb.WriteString(c.Default)
	}
	if c.Check != "" {
		sb.WriteString(" check(")
		sb.WriteString(c.Check)
		sb.WriteByte(')')
	}
	return sb.String()
}

// HasDefault reports whether the column value is supplied by the database.
func (c Column) HasDefault() bool {
	return c.Serial || c.Default != ""
}
