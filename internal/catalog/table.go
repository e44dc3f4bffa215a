package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Table entity types.
const (
	TypeSQL            = "sql"
	TypeFunctionBacked = "py"
)

// Table kinds tracked by the watermark store. Master tables are retained by
// their declared retention columns; transaction tables by superseded
// primary-key rows.
const (
	TableMaster      = "master"
	TableTransaction = "transaction"
)

// Run period types.
const (
	RunDaily   = "daily"
	RunWeekly  = "weekly"
	RunMonthly = "monthly"
	RunYearly  = "yearly"
)

// Tag carries catalog entry provenance.
type Tag struct {
	Author      string
	Description string
	Version     string
	Timestamp   string
}

// WatermarkSpec holds the control-table defaults a table registers with on
// first run: its run period, run-count quota, and retention settings.
type WatermarkSpec struct {
	TableType   string // master | transaction
	RunType     string // daily | weekly | monthly | yearly
	RunCountMax int    // 0 = unlimited
	RttValue    int    // retention window, 0 = keep forever
	RttColumn   []string
}

// Initial is the normalized seed-data block: either literal rows to insert
// with conflict-skip on the primary key, or a raw statement.
type Initial struct {
	Statement string
	Rows      [][]string // literal values aligned to the profile's features
}

// Table is the normalized catalog description of one managed table.
type Table struct {
	Name      string
	Shortname string
	Prefix    string
	Type      string // sql | py
	Profile   Profile
	Processes []Process
	Initial   *Initial
	Control   WatermarkSpec
	Tag       Tag
}

// Process returns the named process.
func (t *Table) Process(name string) (*Process, bool) {
	for i := range t.Processes {
		if t.Processes[i].Name == name {
			return &t.Processes[i], true
		}
	}
	return nil, false
}

// ParseTable normalizes a raw table catalog entry.
func ParseTable(name string, n *yaml.Node) (*Table, error) {
	return parseTable(name, n, "")
}

// parseTable normalizes a raw table catalog entry; baseDir anchors relative
// seed-file paths.
func parseTable(name string, n *yaml.Node, baseDir string) (*Table, error) {
	entries, err := mapEntries(n)
	if err != nil {
		return nil, validationErrf(name, "", "%v", err)
	}

	t := &Table{
		Name:      name,
		Shortname: Shortname(name),
		Prefix:    Prefix(name),
		Type:      TypeSQL,
	}

	if typeNode, _, ok := lookup(entries, "type"); ok {
		t.Type = scalarString(typeNode)
	}
	switch t.Type {
	case TypeSQL, TypeFunctionBacked:
	default:
		return nil, validationErrf(name, "type", "unknown table type %q", t.Type)
	}

	profNode, _, ok := lookup(entries, "create", "profile")
	if !ok {
		return nil, validationErrf(name, "", "missing column block (one of: create, profile)")
	}
	profile, err := parseProfile(name, profNode)
	if err != nil {
		return nil, err
	}
	t.Profile = profile

	if procNode, _, ok := lookup(entries, "process", "processes"); ok {
		procs, err := parseProcesses(name, t.Type, procNode)
		if err != nil {
			return nil, err
		}
		t.Processes = procs
	}

	if initNode, _, ok := lookup(entries, "initial", "init"); ok {
		initial, err := parseInitial(name, &t.Profile, baseDir, initNode)
		if err != nil {
			return nil, err
		}
		t.Initial = initial
	}

	t.Control = parseWatermarkSpec(entries)
	t.Tag = parseTag(entries)

	return t, nil
}

// parseWatermarkSpec normalizes the optional control block.
func parseWatermarkSpec(entries []entry) WatermarkSpec {
	spec := WatermarkSpec{
		TableType: TableTransaction,
		RunType:   RunDaily,
	}
	ctrlNode, _, ok := lookup(entries, "control", "watermark")
	if !ok {
		return spec
	}
	props, err := mapEntries(ctrlNode)
	if err != nil {
		return spec
	}
	if v, _, ok := lookup(props, "table_type"); ok {
		spec.TableType = scalarString(v)
	}
	if v, _, ok := lookup(props, "run_type"); ok {
		spec.RunType = scalarString(v)
	}
	if v, _, ok := lookup(props, "run_count_max", "run_max"); ok {
		spec.RunCountMax = scalarInt(v, 0)
	}
	if v, _, ok := lookup(props, "rtt_value"); ok {
		spec.RttValue = scalarInt(v, 0)
	}
	if v, _, ok := lookup(props, "rtt_column", "rtt_columns"); ok {
		spec.RttColumn = stringList(v)
	}
	return spec
}

// parseTag normalizes the optional tag block.
func parseTag(entries []entry) Tag {
	var tag Tag
	tagNode, _, ok := lookup(entries, "tag")
	if ok {
		if props, err := mapEntries(tagNode); err == nil {
			if v, _, ok := lookup(props, "author"); ok {
				tag.Author = scalarString(v)
			}
			if v, _, ok := lookup(props, "description"); ok {
				tag.Description = scalarString(v)
			}
			if v, _, ok := lookup(props, "timestamp"); ok {
				tag.Timestamp = scalarString(v)
			}
		}
	}
	if v, _, ok := lookup(entries, "version"); ok {
		tag.Version = scalarString(v)
	}
	if v, _, ok := lookup(entries, "description"); ok && tag.Description == "" {
		tag.Description = scalarString(v)
	}
	return tag
}

// parseInitial normalizes the seed-data block. A scalar is a raw statement;
// a mapping may carry inline rows (value/values), external JSON rows
// (file/files), or a statement.
func parseInitial(entity string, profile *Profile, baseDir string, n *yaml.Node) (*Initial, error) {
	if isScalar(n) {
		return &Initial{Statement: scalarString(n)}, nil
	}
	if !isMapping(n) {
		return nil, validationErrf(entity, "initial", "must be a statement or a mapping")
	}
	props, err := mapEntries(n)
	if err != nil {
		return nil, validationErrf(entity, "initial", "%v", err)
	}

	if valNode, _, ok := lookup(props, "value", "values"); ok {
		rows, err := parseInitialRows(entity, profile, valNode)
		if err != nil {
			return nil, err
		}
		return &Initial{Rows: rows}, nil
	}

	if fileNode, _, ok := lookup(props, "file", "files"); ok {
		var rows [][]string
		for _, path := range stringList(fileNode) {
			fileRows, err := readSeedFile(entity, profile, baseDir, path)
			if err != nil {
				return nil, err
			}
			rows = append(rows, fileRows...)
		}
		return &Initial{Rows: rows}, nil
	}

	if stmtNode, _, ok := lookup(props, "statement", "sql"); ok {
		return &Initial{Statement: scalarString(stmtNode)}, nil
	}

	return nil, validationErrf(entity, "initial", "needs one of: value, values, file, files, statement")
}

// parseInitialRows normalizes inline seed rows. A row is a sequence of
// scalars aligned to the features, or a mapping of column name to value.
func parseInitialRows(entity string, profile *Profile, n *yaml.Node) ([][]string, error) {
	items, err := seqItems(n)
	if err != nil {
		return nil, validationErrf(entity, "initial", "%v", err)
	}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		switch {
		case isSequence(item):
			vals, err := seqItems(item)
			if err != nil {
				return nil, validationErrf(entity, "initial", "%v", err)
			}
			if len(vals) != len(profile.Features) {
				return nil, validationErrf(entity, "initial",
					"row has %d values, table has %d columns", len(vals), len(profile.Features))
			}
			row := make([]string, len(vals))
			for i, v := range vals {
				row[i] = scalarString(v)
			}
			rows = append(rows, row)
		case isMapping(item):
			props, err := mapEntries(item)
			if err != nil {
				return nil, validationErrf(entity, "initial", "%v", err)
			}
			row := make([]string, len(profile.Features))
			for _, p := range props {
				found := false
				for i, c := range profile.Features {
					if c.Name == p.Key {
						row[i] = scalarString(p.Node)
						found = true
						break
					}
				}
				if !found {
					return nil, validationErrf(entity, "initial", "column %q is not a feature", p.Key)
				}
			}
			rows = append(rows, row)
		default:
			return nil, validationErrf(entity, "initial", "rows must be sequences or mappings")
		}
	}
	return rows, nil
}

// readSeedFile loads seed rows from a JSON file: an array of arrays or an
// array of objects keyed by column name.
func readSeedFile(entity string, profile *Profile, baseDir, path string) ([][]string, error) {
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, validationErrf(entity, "initial", "failed to read seed file %s: %v", path, err)
	}

	var rawRows []json.RawMessage
	if err := json.Unmarshal(data, &rawRows); err != nil {
		return nil, validationErrf(entity, "initial", "seed file %s is not a JSON array: %v", path, err)
	}

	rows := make([][]string, 0, len(rawRows))
	for _, raw := range rawRows {
		var asList []any
		if err := json.Unmarshal(raw, &asList); err == nil {
			if len(asList) != len(profile.Features) {
				return nil, validationErrf(entity, "initial",
					"seed file %s: row has %d values, table has %d columns", path, len(asList), len(profile.Features))
			}
			row := make([]string, len(asList))
			for i, v := range asList {
				row[i] = jsonValue(v)
			}
			rows = append(rows, row)
			continue
		}

		var asMap map[string]any
		if err := json.Unmarshal(raw, &asMap); err != nil {
			return nil, validationErrf(entity, "initial", "seed file %s: rows must be arrays or objects", path)
		}
		row := make([]string, len(profile.Features))
		for key, v := range asMap {
			found := false
			for i, c := range profile.Features {
				if c.Name == key {
					row[i] = jsonValue(v)
					found = true
					break
				}
			}
			if !found {
				return nil, validationErrf(entity, "initial", "seed file %s: column %q is not a feature", path, key)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// jsonValue renders a decoded JSON value as a literal string.
func jsonValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		// Trim the float formatting for integral values.
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
