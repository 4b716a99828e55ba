package provider

// Registry maps adapter keys to their implementations. It is built once at
// startup and passed to the components that need it.
type Registry struct {
	adapters map[string]Adapter
	order    []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry holding the given adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Registering an existing key fails with
// *DuplicateError.
func (r *Registry) Register(a Adapter) error {
	key := a.Key()
	if _, ok := r.adapters[key]; ok {
		return &DuplicateError{Key: key}
	}
	r.adapters[key] = a
	r.order = append(r.order, key)
	return nil
}

// Get returns the adapter for key, or *NotFoundError.
func (r *Registry) Get(key string) (Adapter, error) {
	a, ok := r.adapters[key]
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	return a, nil
}

// Keys returns all registered adapter keys in registration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
