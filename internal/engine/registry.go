package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/orchestra/pkg/api"
)

// Registry resolves definitions by name. Loaders use it to rebind persisted
// tasks to the code that runs them.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Definition),
	}
}

// Register adds a definition. Names must be unique.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.name == "" {
		return fmt.Errorf("definition name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.name]; exists {
		return fmt.Errorf("definition %q already registered", def.name)
	}
	r.byName[def.name] = def
	return nil
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", api.ErrUnknownDefinition, name)
	}
	return def, nil
}

// Job resolves a job declared by the named definition.
func (r *Registry) Job(definition, job string) (JobFunc, error) {
	def, err := r.Definition(definition)
	if err != nil {
		return nil, err
	}
	fn, ok := def.Job(job)
	if !ok {
		return nil, fmt.Errorf("%w: %q in definition %q", api.ErrUnknownJob, job, definition)
	}
	return fn, nil
}

// Names lists registered definition names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
