package catalog

import (
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/datakit-labs/flowctl/internal/funcreg"
)

// defaultPriority is assigned to process entries that don't declare one.
const defaultPriority = 99

// Process is one normalized step of a table refresh. SQL-backed processes
// carry a templated statement; function-backed processes carry a registry
// key plus load/save statements around the transform.
type Process struct {
	Name       string
	Priority   int      // 1-based execution order after renumbering
	Parameters []string // deduplicated placeholder names, sorted

	// SQL-backed
	Statement string

	// Function-backed
	Function string
	Load     string
	Save     string
}

// IsFunction reports whether the process runs through the function registry.
func (p Process) IsFunction() bool { return p.Function != "" }

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// placeholders extracts `{param}` names from statement text.
func placeholders(texts ...string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, text := range texts {
		for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	sort.Strings(names)
	return names
}

// parseProcesses normalizes the process block: a mapping of process name to
// properties. Entries are sorted by declared priority (default 99)
// ascending, stable on ties by declaration order, then renumbered 1..n.
// Function references are resolved against the registry at parse time so a
// dangling reference fails the catalog load, not the pipeline run.
func parseProcesses(entity, tableType string, n *yaml.Node) ([]Process, error) {
	entries, err := mapEntries(n)
	if err != nil {
		return nil, validationErrf(entity, "process", "%v", err)
	}

	type rawProcess struct {
		proc     Process
		declared int // declared priority, pre-renumbering
		index    int // declaration order, tie-breaker
	}

	raws := make([]rawProcess, 0, len(entries))
	for i, e := range entries {
		props, err := mapEntries(e.Node)
		if err != nil {
			return nil, validationErrf(entity, "process."+e.Key, "%v", err)
		}

		proc := Process{Name: e.Key}

		prioNode, _, _ := lookup(props, "priority")
		declared := scalarInt(prioNode, defaultPriority)

		if stmtNode, _, ok := lookup(props, "statement", "sql"); ok {
			proc.Statement = scalarString(stmtNode)
		}
		if fnNode, _, ok := lookup(props, "function", "func"); ok {
			proc.Function = scalarString(fnNode)
		}
		if loadNode, _, ok := lookup(props, "load"); ok {
			proc.Load = scalarString(loadNode)
		}
		if saveNode, _, ok := lookup(props, "save"); ok {
			proc.Save = scalarString(saveNode)
		}

		switch {
		case proc.Function != "":
			if proc.Load == "" || proc.Save == "" {
				return nil, validationErrf(entity, "process."+e.Key, "function-backed process needs load and save statements")
			}
			if _, ok := funcreg.Get(proc.Function); !ok {
				return nil, validationErrf(entity, "process."+e.Key,
					"process function %q is not registered", proc.Function)
			}
		case proc.Statement != "":
			if tableType == TypeFunctionBacked {
				return nil, validationErrf(entity, "process."+e.Key, "py-typed tables require function-backed processes")
			}
		default:
			return nil, validationErrf(entity, "process."+e.Key, "process needs a statement or a function")
		}

		declaredParams := []string{}
		if paramNode, _, ok := lookup(props, "parameter", "parameters"); ok {
			declaredParams = stringList(paramNode)
		}
		proc.Parameters = mergeParams(declaredParams, placeholders(proc.Statement, proc.Load, proc.Save))

		raws = append(raws, rawProcess{proc: proc, declared: declared, index: i})
	}

	sort.SliceStable(raws, func(i, j int) bool { return raws[i].declared < raws[j].declared })

	procs := make([]Process, len(raws))
	for i, r := range raws {
		r.proc.Priority = i + 1
		procs[i] = r.proc
	}
	return procs, nil
}

// mergeParams unions declared and extracted parameter names, deduplicated
// and sorted: parameter lists are order-insensitive by contract.
func mergeParams(declared, extracted []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, lists := range [][]string{declared, extracted} {
		for _, p := range lists {
			if p != "" && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Strings(out)
	return out
}
