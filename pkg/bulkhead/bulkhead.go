package bulkhead

import (
	"errors"
	"sort"
	"sync"
)

// ErrFull is returned when the bulkhead has no free slot.
var ErrFull = errors.New("bulkhead is full")

// Bulkhead caps the number of concurrent calls into one dependency so a
// slow downstream cannot soak up every worker. Calls beyond the cap fail
// fast with ErrFull instead of queueing.
type Bulkhead struct {
	name string
	sem  chan struct{}

	mu       sync.Mutex
	rejected uint64
}

func New(name string, maxConcurrent int) *Bulkhead {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Bulkhead{
		name: name,
		sem:  make(chan struct{}, maxConcurrent),
	}
}

func (b *Bulkhead) Execute(fn func() error) error {
	select {
	case b.sem <- struct{}{}:
	default:
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		return ErrFull
	}
	defer func() { <-b.sem }()

	return fn()
}

// Status is a point-in-time view for the operator surface.
type Status struct {
	Name          string `json:"name"`
	MaxConcurrent int    `json:"max_concurrent"`
	InFlight      int    `json:"in_flight"`
	Rejected      uint64 `json:"rejected"`
}

func (b *Bulkhead) Status() Status {
	b.mu.Lock()
	rejected := b.rejected
	b.mu.Unlock()
	return Status{
		Name:          b.name,
		MaxConcurrent: cap(b.sem),
		InFlight:      len(b.sem),
		Rejected:      rejected,
	}
}

// Registry holds one bulkhead per dependency name, mirroring the circuit
// breaker registry.
type Registry struct {
	mu        sync.Mutex
	bulkheads map[string]*Bulkhead
	defaults  int
}

func NewRegistry(defaultMaxConcurrent int) *Registry {
	if defaultMaxConcurrent <= 0 {
		defaultMaxConcurrent = 10
	}
	return &Registry{
		bulkheads: make(map[string]*Bulkhead),
		defaults:  defaultMaxConcurrent,
	}
}

func (r *Registry) Get(name string) *Bulkhead {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.bulkheads[name]; ok {
		return b
	}
	b := New(name, r.defaults)
	r.bulkheads[name] = b
	return b
}

func (r *Registry) Execute(name string, fn func() error) error {
	return r.Get(name).Execute(fn)
}

func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	bulkheads := make([]*Bulkhead, 0, len(r.bulkheads))
	for _, b := range r.bulkheads {
		bulkheads = append(bulkheads, b)
	}
	r.mu.Unlock()

	statuses := make([]Status, 0, len(bulkheads))
	for _, b := range bulkheads {
		statuses = append(statuses, b.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
