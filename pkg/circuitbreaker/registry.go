package circuitbreaker

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry holds one breaker per downstream dependency name. It is shared
// process-wide and handed to the components that need it instead of living
// as a package-level singleton, so tests can build a fresh one per case.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults Settings
}

func NewRegistry(defaults Settings) *Registry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 5
	}
	if defaults.SuccessThreshold <= 0 {
		defaults.SuccessThreshold = 2
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns the breaker for name, creating it with the registry defaults
// on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	settings := r.defaults
	settings.Name = name
	cb := NewCircuitBreaker(settings)
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the named breaker.
func (r *Registry) Execute(name string, fn func() error) error {
	return r.Get(name).Execute(fn)
}

// Reset closes the named breaker. Returns an error for unknown names so the
// operator surface can distinguish a typo from a no-op.
func (r *Registry) Reset(name string) error {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown circuit breaker: %s", name)
	}
	cb.Reset()
	return nil
}

// Snapshot returns the status of every registered breaker, sorted by name.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	statuses := make([]Status, 0, len(breakers))
	for _, cb := range breakers {
		statuses = append(statuses, cb.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
