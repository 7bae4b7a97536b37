package plugin

import (
	"fmt"
	"sync"
)

// Registry is the in-process builder backend: a second, cheap plugin
// loader that avoids shared libraries entirely. Plugins register a
// Constructor under a name at package-init time; the config loader
// resolves a "builtin://<name>" library URL against this registry instead
// of opening a .so file.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by builtin:// resolution.
func Default() *Registry { return defaultRegistry }

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register associates a constructor with a name. Re-registering the same
// name overwrites the previous constructor, which is convenient for tests
// that stub a builtin plugin.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// Build constructs a named plugin instance from its configuration map.
func (r *Registry) Build(name string, config map[string]string) (Plugin, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("plugin registry: no builtin plugin registered under %q", name)
	}
	return ctor(config)
}

// Names lists the registered builtin plugin names, mainly for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	return names
}
