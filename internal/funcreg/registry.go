// Package funcreg is the explicit registry of process functions.
//
// Function-backed table processes reference their transform by a string key
// (e.g. "forecast.holt_winters"). Implementations register themselves here
// at startup; the catalog validator checks every referenced key against the
// registry at load time, so a missing function fails the catalog load
// instead of a pipeline run.
package funcreg

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Frame is the DataFrame-shaped result set a process function consumes,
// produced by the process's load statement.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// ProcessFunc is the fixed calling convention for function-backed
// transforms: consume a loaded frame, return a scalar result rendered as a
// SQL literal for the save statement's {result} placeholder.
type ProcessFunc func(ctx context.Context, frame Frame) (string, error)

var (
	mu    sync.RWMutex
	funcs = make(map[string]ProcessFunc)
)

// Register adds a process function under the given key.
// Later registrations of the same key replace earlier ones.
func Register(name string, fn ProcessFunc) {
	mu.Lock()
	defer mu.Unlock()
	funcs[name] = fn
}

// Get retrieves a process function by key.
func Get(name string) (ProcessFunc, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := funcs[name]
	return fn, ok
}

// MustGet retrieves a process function or errors with the known keys.
func MustGet(name string) (ProcessFunc, error) {
	if fn, ok := Get(name); ok {
		return fn, nil
	}
	return nil, fmt.Errorf("process function %q is not registered (known: %v)", name, List())
}

// List returns all registered function keys (sorted).
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset clears the registry. Used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	funcs = make(map[string]ProcessFunc)
}
