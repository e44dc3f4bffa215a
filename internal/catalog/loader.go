// Package catalog loads and normalizes the YAML catalogs that drive the
// pipeline control framework: table catalogs, database functions, and
// pipeline definitions. Raw files accept several equivalent shapes for the
// same block; everything is normalized into the single canonical model at
// load time and the polymorphism never leaks past this package.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Kind identifies a catalog family: the subfolder it lives in and the file
// name prefix its files carry.
type Kind struct {
	Folder     string
	FilePrefix string
}

// Catalog kinds. View and adhoc catalogs are table-shaped variants kept in
// their own folders.
var (
	KindTable    = Kind{Folder: "catalog", FilePrefix: "catalog"}
	KindPipeline = Kind{Folder: "pipeline", FilePrefix: "pipeline"}
	KindFunction = Kind{Folder: "function", FilePrefix: "func"}
	KindView     = Kind{Folder: "view", FilePrefix: "view"}
	KindAdhoc    = Kind{Folder: "adhoc", FilePrefix: "adhoc"}
)

// unversionedDate sorts below every real version so an unversioned entry
// only wins when nothing else matches.
const unversionedDate = "1990-01-01"

// Loader reads catalog files from a directory tree. It is read-only and
// keeps no cache; callers that want caching wrap it in a Registry.
type Loader struct {
	root   string
	logger *slog.Logger
}

// NewLoader creates a loader rooted at the given catalog directory.
// If logger is nil, a discard logger is used.
func NewLoader(root string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{root: root, logger: logger}
}

// Root returns the catalog directory this loader reads from.
func (l *Loader) Root() string { return l.root }

// rawEntity is one named entry from a catalog file before normalization.
type rawEntity struct {
	Name    string
	Version string
	File    string
	Node    *yaml.Node
}

// Load resolves one catalog entry by full name, or by shortname when
// shortname is true. Files matching {FilePrefix}_{prefix}*.y(a)ml under the
// kind's folder are scanned; when several versioned entries share the
// requested name, the greatest ISO version wins. A shortname that matches
// more than one distinct full name fails with AmbiguousShortnameError.
func (l *Loader) Load(kind Kind, prefix, name string, shortname bool) (*rawEntity, error) {
	pattern := filepath.Join(l.root, kind.Folder, kind.FilePrefix+"_"+prefix+"*.yaml")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad catalog pattern %s: %w", pattern, err)
	}
	ymlFiles, err := filepath.Glob(filepath.Join(l.root, kind.Folder, kind.FilePrefix+"_"+prefix+"*.yml"))
	if err == nil {
		files = append(files, ymlFiles...)
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, &NotFoundError{Name: name, Pattern: pattern}
	}

	var matches []rawEntity
	fullNames := make(map[string]bool)
	for _, file := range files {
		entities, err := l.readFile(file)
		if err != nil {
			return nil, err
		}
		for _, ent := range entities {
			if ent.Name == name || (shortname && Shortname(ent.Name) == name) {
				matches = append(matches, ent)
				fullNames[ent.Name] = true
			}
		}
	}

	if len(matches) == 0 {
		return nil, &NotFoundError{Name: name, Pattern: pattern}
	}

	if shortname && len(fullNames) > 1 {
		names := make([]string, 0, len(fullNames))
		for n := range fullNames {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, &AmbiguousShortnameError{Shortname: name, Matches: names}
	}

	// Newest version wins across duplicate entries of the same name.
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Version > best.Version {
			best = m
		}
	}

	l.logger.Debug("catalog entry resolved",
		slog.String("name", best.Name),
		slog.String("file", best.File),
		slog.String("version", best.Version))

	return &best, nil
}

// LoadAll returns every entity of a kind, newest version of each name.
// Used by the synthetic pipelines and the setup flow.
func (l *Loader) LoadAll(kind Kind) ([]rawEntity, error) {
	pattern := filepath.Join(l.root, kind.Folder, kind.FilePrefix+"_*.yaml")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad catalog pattern %s: %w", pattern, err)
	}
	ymlFiles, err := filepath.Glob(filepath.Join(l.root, kind.Folder, kind.FilePrefix+"_*.yml"))
	if err == nil {
		files = append(files, ymlFiles...)
	}
	sort.Strings(files)

	newest := make(map[string]rawEntity)
	var order []string
	for _, file := range files {
		entities, err := l.readFile(file)
		if err != nil {
			return nil, err
		}
		for _, ent := range entities {
			prev, seen := newest[ent.Name]
			if !seen {
				order = append(order, ent.Name)
				newest[ent.Name] = ent
				continue
			}
			if ent.Version > prev.Version {
				newest[ent.Name] = ent
			}
		}
	}

	out := make([]rawEntity, 0, len(order))
	for _, name := range order {
		out = append(out, newest[name])
	}
	return out, nil
}

// readFile parses one catalog file into its named entities.
func (l *Loader) readFile(path string) ([]rawEntity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}

	entries, err := mapEntries(&doc)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}

	entities := make([]rawEntity, 0, len(entries))
	for _, e := range entries {
		version := unversionedDate
		if isMapping(e.Node) {
			if props, err := mapEntries(e.Node); err == nil {
				if v, _, ok := lookup(props, "version"); ok {
					if s := scalarString(v); s != "" {
						version = s
					}
				}
			}
		}
		entities = append(entities, rawEntity{
			Name:    e.Key,
			Version: version,
			File:    path,
			Node:    e.Node,
		})
	}
	return entities, nil
}

// LoadTable loads and normalizes a table catalog entry.
func (l *Loader) LoadTable(prefix, name string, shortname bool) (*Table, error) {
	raw, err := l.Load(KindTable, prefix, name, shortname)
	if err != nil {
		return nil, err
	}
	return parseTable(raw.Name, raw.Node, filepath.Dir(raw.File))
}

// LoadFunction loads and normalizes a function catalog entry.
func (l *Loader) LoadFunction(prefix, name string, shortname bool) (*Function, error) {
	raw, err := l.Load(KindFunction, prefix, name, shortname)
	if err != nil {
		return nil, err
	}
	return ParseFunction(raw.Name, raw.Node)
}

// LoadPipeline loads and normalizes a pipeline catalog entry.
func (l *Loader) LoadPipeline(prefix, name string, shortname bool) (*Pipeline, error) {
	raw, err := l.Load(KindPipeline, prefix, name, shortname)
	if err != nil {
		return nil, err
	}
	return ParsePipeline(raw.Name, raw.Node)
}
