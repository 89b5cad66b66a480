package agents

import "fmt"

// Specialist binds a capability to its invoker and the progress messages
// shown before and after it runs.
type Specialist struct {
	Capability   Capability
	StartMessage string
	DoneMessage  string
	Invoker      Invoker
}

// Registry dispatches capabilities to specialists.
type Registry struct {
	byName map[Capability]Specialist
	order  []Capability
}

// NewRegistry builds a registry. Duplicate or unknown capabilities are rejected.
func NewRegistry(specialists ...Specialist) (*Registry, error) {
	r := &Registry{byName: make(map[Capability]Specialist, len(specialists))}
	for _, s := range specialists {
		if !s.Capability.Known() {
			return nil, fmt.Errorf("unknown capability %q", s.Capability)
		}
		if s.Invoker == nil {
			return nil, fmt.Errorf("capability %s has no invoker", s.Capability)
		}
		if _, dup := r.byName[s.Capability]; dup {
			return nil, fmt.Errorf("capability %s registered twice", s.Capability)
		}
		r.byName[s.Capability] = s
		r.order = append(r.order, s.Capability)
	}
	return r, nil
}

// Get returns the specialist for c.
func (r *Registry) Get(c Capability) (Specialist, bool) {
	s, ok := r.byName[c]
	return s, ok
}

// Names returns the registered capabilities in registration order.
func (r *Registry) Names() []Capability {
	return append([]Capability(nil), r.order...)
}
