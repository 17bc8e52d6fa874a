package omnicas

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps live handles to their wrappers so that every handle has
// exactly one wrapper. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	objects map[Handle]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[Handle]any)}
}

// Register associates obj with h. It fails if h is zero or already live.
func (r *Registry) Register(h Handle, obj any) error {
	if h == 0 {
		return ErrInvalidHandle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.objects[h]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyRegistered, h)
	}
	r.objects[h] = obj
	return nil
}

// Lookup returns the wrapper registered for h.
func (r *Registry) Lookup(h Handle) (any, error) {
	r.mu.RLock()
	obj, ok := r.objects[h]
	r.mu.RUnlock()

	if !ok {
		return nil, wrongReference("Registry.Lookup", h, "wrapper")
	}
	return obj, nil
}

// Remove drops h and reports whether it was registered. Wrappers call it
// before closing the native handle.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.objects[h]; !ok {
		return false
	}
	delete(r.objects, h)
	return true
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Handles returns the live handles in ascending order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	hs := make([]Handle, 0, len(r.objects))
	for h := range r.objects {
		hs = append(hs, h)
	}
	r.mu.RUnlock()

	slices.Sort(hs)
	return hs
}

// LookupAs returns the wrapper for h as a T. A wrapper of another type is a
// wrong-reference error.
func LookupAs[T any](r *Registry, h Handle) (T, error) {
	var zero T
	obj, err := r.Lookup(h)
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, wrongReference("Registry.Lookup", h, fmt.Sprintf("%T", zero))
	}
	return t, nil
}
