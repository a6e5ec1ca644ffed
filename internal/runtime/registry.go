package runtime

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoBackend is returned when no registered backend can be used.
var ErrNoBackend = errors.New("no execution backend available")

// PreferenceAuto selects the highest-priority available backend.
const PreferenceAuto = "auto"

// BackendInfo summarizes a registered backend.
type BackendInfo struct {
	Name         string
	Available    bool
	Capabilities Capabilities
}

// Registry holds the execution backends known to the engine.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry constructs a registry from the supplied backends.
func NewRegistry(backends ...Backend) (*Registry, error) {
	reg := &Registry{
		backends: make(map[string]Backend, len(backends)),
	}

	for _, backend := range backends {
		if backend == nil {
			return nil, fmt.Errorf("execution backend cannot be nil")
		}

		name := backend.Name()
		if name == "" {
			return nil, fmt.Errorf("execution backend missing name")
		}
		if _, exists := reg.backends[name]; exists {
			return nil, fmt.Errorf("duplicate execution backend %q", name)
		}

		reg.backends[name] = backend
	}

	if len(reg.backends) == 0 {
		return nil, fmt.Errorf("at least one execution backend must be registered")
	}

	return reg, nil
}

// Select returns the backend to use. With an empty or auto preference it
// picks the available backend with the highest priority, breaking ties by
// name so the choice is deterministic.
func (r *Registry) Select(preference string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if preference != "" && preference != PreferenceAuto {
		backend, ok := r.backends[preference]
		if !ok {
			return nil, fmt.Errorf("%w: unknown backend %q", ErrNoBackend, preference)
		}
		if !backend.Available() {
			return nil, fmt.Errorf("%w: backend %q is not available", ErrNoBackend, preference)
		}
		return backend, nil
	}

	var best Backend
	for _, name := range r.namesLocked() {
		backend := r.backends[name]
		if !backend.Available() {
			continue
		}
		if best == nil || backend.Capabilities().Priority > best.Capabilities().Priority {
			best = backend
		}
	}
	if best == nil {
		return nil, ErrNoBackend
	}
	return best, nil
}

// Backends reports every registered backend sorted by name.
func (r *Registry) Backends() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.backends))
	for _, name := range r.namesLocked() {
		backend := r.backends[name]
		infos = append(infos, BackendInfo{
			Name:         name,
			Available:    backend.Available(),
			Capabilities: backend.Capabilities(),
		})
	}
	return infos
}

// Close releases resources held by each backend.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, name := range r.namesLocked() {
		if err := r.backends[name].Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
