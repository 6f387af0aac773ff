package analysis

import (
	"fmt"
	"sync"

	"github.com/raphaelgruber/intake/internal/apperr"
)

// Registry holds the analyzers a run may select by name. The first
// registered analyzer is the default.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	analyzers map[string]Analyzer
}

// NewRegistry creates a registry, registering analyzers under their names.
func NewRegistry(analyzers ...Analyzer) *Registry {
	r := &Registry{analyzers: make(map[string]Analyzer)}
	for _, a := range analyzers {
		r.Register(a.Name(), a)
	}
	return r
}

// Register adds a under name. Re-registering a name replaces it in place.
func (r *Registry) Register(name string, a Analyzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.analyzers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.analyzers[name] = a
}

// Default returns the first registered analyzer, or nil if empty.
func (r *Registry) Default() Analyzer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil
	}
	return r.analyzers[r.order[0]]
}

// Get returns the analyzer registered as name.
func (r *Registry) Get(name string) (Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[name]
	if !ok {
		return nil, apperr.Validation("unknown model %q", name)
	}
	return a, nil
}

// Resolve maps names to analyzers in order, rejecting unknown or repeated
// names.
func (r *Registry) Resolve(names []string) ([]Analyzer, error) {
	seen := make(map[string]bool, len(names))
	out := make([]Analyzer, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, apperr.Validation("model %q listed twice", name)
		}
		seen[name] = true
		a, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Names lists registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// String renders the registry for logs.
func (r *Registry) String() string {
	return fmt.Sprintf("analysis.Registry%v", r.Names())
}
