package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Registry is the explicitly-owned catalog cache. It loads every entity of
// the tree up front and serves lookups by name or shortname; Reload swaps
// the whole snapshot. Construct one at startup and pass it to the
// components that need it; there is no process-wide instance.
type Registry struct {
	loader *Loader
	logger *slog.Logger

	mu        sync.RWMutex
	tables    map[string]*Table
	functions map[string]*Function
	pipelines map[string]*Pipeline
}

// NewRegistry creates a registry over the given loader and performs the
// initial load.
func NewRegistry(loader *Loader, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{loader: loader, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the whole catalog tree and swaps the snapshot. Entities
// that fail validation are skipped with a warning; the rest of the batch
// still loads.
func (r *Registry) Reload() error {
	tables := make(map[string]*Table)
	functions := make(map[string]*Function)
	pipelines := make(map[string]*Pipeline)

	for _, kind := range []Kind{KindTable, KindView, KindAdhoc} {
		raws, err := r.loader.LoadAll(kind)
		if err != nil {
			return fmt.Errorf("failed to scan %s catalogs: %w", kind.Folder, err)
		}
		for _, raw := range raws {
			t, err := parseTable(raw.Name, raw.Node, filepath.Dir(raw.File))
			if err != nil {
				r.logger.Warn("skipping invalid table catalog", "name", raw.Name, "error", err)
				continue
			}
			tables[t.Name] = t
		}
	}

	raws, err := r.loader.LoadAll(KindFunction)
	if err != nil {
		return fmt.Errorf("failed to scan function catalogs: %w", err)
	}
	for _, raw := range raws {
		f, err := ParseFunction(raw.Name, raw.Node)
		if err != nil {
			r.logger.Warn("skipping invalid function catalog", "name", raw.Name, "error", err)
			continue
		}
		functions[f.Name] = f
	}

	raws, err = r.loader.LoadAll(KindPipeline)
	if err != nil {
		return fmt.Errorf("failed to scan pipeline catalogs: %w", err)
	}
	for _, raw := range raws {
		p, err := ParsePipeline(raw.Name, raw.Node)
		if err != nil {
			r.logger.Warn("skipping invalid pipeline catalog", "name", raw.Name, "error", err)
			continue
		}
		pipelines[p.Name] = p
	}

	r.mu.Lock()
	r.tables = tables
	r.functions = functions
	r.pipelines = pipelines
	r.mu.Unlock()

	r.logger.Debug("catalog reloaded",
		"tables", len(tables), "functions", len(functions), "pipelines", len(pipelines))
	return nil
}

// Table resolves a table by full name, or by shortname when none matches.
// Ambiguous shortnames fail rather than silently picking a match.
func (r *Registry) Table(name string) (*Table, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tables[name]; ok {
		return t, nil
	}

	var matches []*Table
	for _, t := range r.tables {
		if t.Shortname == name {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, &NotFoundError{Name: name, Pattern: filepath.Join(r.loader.Root(), KindTable.Folder, "*")}
	default:
		names := make([]string, len(matches))
		for i, t := range matches {
			names[i] = t.Name
		}
		return nil, &AmbiguousShortnameError{Shortname: name, Matches: names}
	}
}

// Pipeline resolves a pipeline by name, shortname, or external id.
func (r *Registry) Pipeline(name string) (*Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.pipelines[name]; ok {
		return p, nil
	}

	var matches []*Pipeline
	for _, p := range r.pipelines {
		if p.Shortname == name || p.ID == name {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, &NotFoundError{Name: name, Pattern: filepath.Join(r.loader.Root(), KindPipeline.Folder, "*")}
	default:
		names := make([]string, len(matches))
		for i, p := range matches {
			names[i] = p.Name
		}
		return nil, &AmbiguousShortnameError{Shortname: name, Matches: names}
	}
}

// Function resolves a function by full name or shortname.
func (r *Registry) Function(name string) (*Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.functions[name]; ok {
		return f, nil
	}
	var matches []*Function
	for _, f := range r.functions {
		if f.Shortname == name {
			matches = append(matches, f)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, &NotFoundError{Name: name, Pattern: filepath.Join(r.loader.Root(), KindFunction.Folder, "*")}
	default:
		names := make([]string, len(matches))
		for i, f := range matches {
			names[i] = f.Name
		}
		return nil, &AmbiguousShortnameError{Shortname: name, Matches: names}
	}
}

// Tables returns every loaded table, keyed by name.
func (r *Registry) Tables() map[string]*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Table, len(r.tables))
	for k, v := range r.tables {
		out[k] = v
	}
	return out
}

// Pipelines returns every loaded pipeline, keyed by name.
func (r *Registry) Pipelines() map[string]*Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Pipeline, len(r.pipelines))
	for k, v := range r.pipelines {
		out[k] = v
	}
	return out
}

// PipelineByID resolves a pipeline by its external correlation id.
func (r *Registry) PipelineByID(id string) (*Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.pipelines {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Watch reloads the registry whenever a catalog file changes, until the
// context is cancelled. Reload failures are logged and the previous
// snapshot stays live.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer watcher.Close()

	for _, kind := range []Kind{KindTable, KindPipeline, KindFunction, KindView, KindAdhoc} {
		dir := filepath.Join(r.loader.Root(), kind.Folder)
		if err := watcher.Add(dir); err != nil {
			// Optional folders may be absent.
			r.logger.Debug("catalog folder not watched", "dir", dir, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Info("catalog file changed, reloading", "file", event.Name)
			if err := r.Reload(); err != nil {
				r.logger.Error("catalog reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("catalog watcher error", "error", err)
		}
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
