package featureflag

import (
	"sort"
	"sync"
)

// Registry is a process-wide set of named boolean flags, seeded from config
// and toggled through the operator surface. Injected rather than global so
// tests can build their own.
type Registry struct {
	mu    sync.RWMutex
	flags map[string]bool
}

func NewRegistry(seed map[string]bool) *Registry {
	flags := make(map[string]bool, len(seed))
	for name, enabled := range seed {
		flags[name] = enabled
	}
	return &Registry{flags: flags}
}

// Enabled reports whether the flag is on. Unknown flags are off.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flags[name]
}

func (r *Registry) Set(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[name] = enabled
}

type Flag struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (r *Registry) Snapshot() []Flag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flags := make([]Flag, 0, len(r.flags))
	for name, enabled := range r.flags {
		flags = append(flags, Flag{Name: name, Enabled: enabled})
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}
