// Package statement emits SQL text from normalized catalog models. The
// generators are pure: they produce statements carrying {placeholder}
// tokens (schema name, dates, caller values) and never touch a database;
// Bind substitutes the tokens in a separate step.
package statement

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/datakit-labs/flowctl/internal/catalog"
)

// Well-known placeholder names. Runtime-supplied values use the same
// {name} token form as catalog-declared process parameters.
const (
	PlaceholderSchema   = "schema_name"
	PlaceholderDatabase = "database_name"
	PlaceholderValues   = "values"
	PlaceholderCutoff   = "cutoff_date"
)

// Qualified renders a table reference under the schema placeholder.
func Qualified(name string) string {
	return "{" + PlaceholderSchema + "}." + name
}

// Exists emits an information-schema existence probe for the table.
func Exists(name string) string {
	return fmt.Sprintf(
		"select count(*) from information_schema.tables where table_schema = '{%s}' and table_name = '%s'",
		PlaceholderSchema, name)
}

// Create emits the full create-table DDL: column definitions, the
// table-level primary key, declared foreign keys, and the partition-by
// clause when the profile declares one.
func Create(t *catalog.Table) string {
	var defs []string
	for _, c := range t.Profile.Features {
		defs = append(defs, "    "+c.DDL())
	}
	if len(t.Profile.PrimaryKey) > 0 {
		defs = append(defs, "    primary key ("+strings.Join(t.Profile.PrimaryKey, ", ")+")")
	}
	for _, fk := range t.Profile.ForeignKeys {
		defs = append(defs, fmt.Sprintf("    foreign key (%s) references %s(%s)",
			fk.Name, Qualified(fk.RefTable), fk.RefColumn))
	}

	stmt := fmt.Sprintf("create table if not exists %s (\n%s\n)",
		Qualified(t.Name), strings.Join(defs, ",\n"))

	if pt := t.Profile.Partition; pt != nil {
		stmt += fmt.Sprintf(" partition by %s (%s)", pt.Type, strings.Join(pt.Columns, ", "))
	}
	return stmt
}

// CreateBackup emits the same DDL with the qualified name rewritten to the
// backup table. The rewrite is a regex over the qualified-name pattern so
// column names containing the table name are left alone.
func CreateBackup(t *catalog.Table, backupName string) string {
	pattern := regexp.MustCompile(regexp.QuoteMeta(Qualified(t.Name)) + `\b`)
	return pattern.ReplaceAllString(Create(t), Qualified(backupName))
}

// BackupName is the default backup-table name for a table.
func BackupName(name string) string {
	return name + "_backup"
}

// CopyInto emits the backup copy statement.
func CopyInto(src, dst string) string {
	return fmt.Sprintf("insert into %s select * from %s", Qualified(dst), Qualified(src))
}

// CreatePartition emits a range-partition child table. Only range
// partitioning is supported; any other declared type is an error.
func CreatePartition(t *catalog.Table, suffix, from, to string) (string, error) {
	pt := t.Profile.Partition
	if pt == nil {
		return "", fmt.Errorf("table %s declares no partition", t.Name)
	}
	if pt.Type != catalog.PartitionRange {
		return "", fmt.Errorf("table %s has %s partitioning, only range partitions can be created", t.Name, pt.Type)
	}
	return fmt.Sprintf("create table if not exists %s_%s partition of %s for values from ('%s') to ('%s')",
		Qualified(t.Name), suffix, Qualified(t.Name), from, to), nil
}

// Drop emits a drop-table statement.
func Drop(name string, cascade bool) string {
	stmt := "drop table if exists " + Qualified(name)
	if cascade {
		stmt += " cascade"
	}
	return stmt
}

// Insert emits the upsert statement for a table: insert with an
// ON CONFLICT update over the primary key, guarded so an older row never
// overwrites a newer one when concurrent writers land out of order.
// Values arrive through the {values} placeholder. Columns in exclude are
// kept out of the conflict SET clause.
func Insert(t *catalog.Table, exclude ...string) string {
	cols := t.Profile.ColumnNames()
	stmt := fmt.Sprintf("insert into %s as tgt (%s) values {%s}",
		Qualified(t.Name), strings.Join(cols, ", "), PlaceholderValues)

	pk := t.Profile.PrimaryKey
	if len(pk) == 0 {
		return stmt
	}

	set := conflictSet(t, exclude)
	if len(set) == 0 {
		return stmt + fmt.Sprintf(" on conflict (%s) do nothing", strings.Join(pk, ", "))
	}
	stmt += fmt.Sprintf(" on conflict (%s) do update set %s",
		strings.Join(pk, ", "), strings.Join(set, ", "))
	if _, ok := t.Profile.Column("update_date"); ok {
		stmt += " where tgt.update_date <= excluded.update_date"
	}
	return stmt
}

// conflictSet builds the upsert SET assignments: every feature except the
// primary key, system-generated columns (serial or defaulted), and the
// caller's exclude list.
func conflictSet(t *catalog.Table, exclude []string) []string {
	skip := make(map[string]bool, len(exclude)+len(t.Profile.PrimaryKey))
	for _, name := range exclude {
		skip[name] = true
	}
	for _, name := range t.Profile.PrimaryKey {
		skip[name] = true
	}

	var set []string
	for _, c := range t.Profile.Features {
		if skip[c.Name] || c.HasDefault() {
			continue
		}
		set = append(set, fmt.Sprintf("%s = excluded.%s", c.Name, c.Name))
	}
	return set
}

// UpdateFromValues emits a bulk update driven by a VALUES list: the listed
// columns are set from the matching value row, joined on the primary key.
// Key comparisons cast the incoming value to the declared datatype so the
// statement behaves the same across drivers.
func UpdateFromValues(t *catalog.Table, columns ...string) (string, error) {
	pk := t.Profile.PrimaryKey
	if len(pk) == 0 {
		return "", fmt.Errorf("table %s has no primary key to join update values on", t.Name)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("table %s: update needs at least one column", t.Name)
	}
	for _, name := range columns {
		if _, ok := t.Profile.Column(name); !ok {
			return "", fmt.Errorf("table %s: column %q is not a feature", t.Name, name)
		}
	}

	var set []string
	for _, name := range columns {
		set = append(set, fmt.Sprintf("%s = v.%s", name, name))
	}

	var join []string
	for _, name := range pk {
		col, _ := t.Profile.Column(name)
		join = append(join, fmt.Sprintf("tgt.%s = cast(v.%s as %s)", name, name, col.Datatype))
	}

	valueCols := append(append([]string{}, pk...), columns...)
	return fmt.Sprintf("update %s as tgt set %s from (values {%s}) as v (%s) where %s",
		Qualified(t.Name),
		strings.Join(set, ", "),
		PlaceholderValues,
		strings.Join(valueCols, ", "),
		strings.Join(join, " and ")), nil
}

// Count emits a row-count statement.
func Count(name string) string {
	return "select count(*) from " + Qualified(name)
}

// Vacuum emits a vacuum statement.
func Vacuum(name string) string {
	return "vacuum " + Qualified(name)
}

// RetentionMaster emits the retention delete for master tables: rows are
// aged out directly by the declared retention columns against the cutoff.
func RetentionMaster(t *catalog.Table, rttColumns []string) (string, error) {
	if len(rttColumns) == 0 {
		return "", fmt.Errorf("table %s: master retention needs at least one rtt column", t.Name)
	}
	var conds []string
	for _, name := range rttColumns {
		if _, ok := t.Profile.Column(name); !ok {
			return "", fmt.Errorf("table %s: rtt column %q is not a feature", t.Name, name)
		}
		conds = append(conds, fmt.Sprintf("%s < '{%s}'", name, PlaceholderCutoff))
	}
	return fmt.Sprintf("delete from %s where %s",
		Qualified(t.Name), strings.Join(conds, " or ")), nil
}

// RetentionTransaction emits the retention delete for transaction tables:
// only rows superseded by a newer version of the same primary key are
// deleted, and only past the cutoff. A row that is still the latest for
// its key survives regardless of age.
func RetentionTransaction(t *catalog.Table) (string, error) {
	pk := t.Profile.PrimaryKey
	if len(pk) == 0 {
		return "", fmt.Errorf("table %s has no primary key for transaction retention", t.Name)
	}
	if _, ok := t.Profile.Column("update_date"); !ok {
		return "", fmt.Errorf("table %s needs an update_date column for transaction retention", t.Name)
	}

	var join []string
	for _, name := range pk {
		join = append(join, fmt.Sprintf("tgt.%s = keep.%s", name, name))
	}

	return fmt.Sprintf(
		"delete from %s as tgt using (select %s, max(update_date) as max_update from %s group by %s) as keep"+
			" where %s and tgt.update_date < keep.max_update and tgt.update_date < '{%s}'",
		Qualified(t.Name),
		strings.Join(pk, ", "),
		Qualified(t.Name),
		strings.Join(pk, ", "),
		strings.Join(join, " and "),
		PlaceholderCutoff), nil
}

// Seed emits the initial-data statement for a table: the raw statement
// when one was declared, otherwise an insert of the literal rows with
// conflict-skip on the primary key. Returns ok=false when the table has
// no seed block.
func Seed(t *catalog.Table) (string, bool) {
	if t.Initial == nil {
		return "", false
	}
	if t.Initial.Statement != "" {
		return t.Initial.Statement, true
	}
	if len(t.Initial.Rows) == 0 {
		return "", false
	}

	cols := t.Profile.ColumnNames()
	rows := make([]string, len(t.Initial.Rows))
	for i, row := range t.Initial.Rows {
		vals := make([]string, len(row))
		for j, v := range row {
			vals[j] = Literal(v)
		}
		rows[i] = "(" + strings.Join(vals, ", ") + ")"
	}

	stmt := fmt.Sprintf("insert into %s (%s) values %s",
		Qualified(t.Name), strings.Join(cols, ", "), strings.Join(rows, ", "))
	if len(t.Profile.PrimaryKey) > 0 {
		stmt += fmt.Sprintf(" on conflict (%s) do nothing", strings.Join(t.Profile.PrimaryKey, ", "))
	}
	return stmt, true
}

// Literal renders a raw value as a quoted SQL literal, doubling embedded
// quotes. Empty values render as null.
func Literal(v string) string {
	if v == "" {
		return "null"
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// ValuesRow renders one VALUES tuple for the {values} placeholder.
func ValuesRow(vals ...string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = Literal(v)
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}
