package storage

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/object-storage-backend/interfaces"
)

// ActiveKeySource reports the currently selected backend key.
type ActiveKeySource interface {
	ActiveKey() string
}

type resetter interface {
	Reset()
}

// Registry holds the registered storage backends and resolves which one serves
// a request.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]interfaces.StorageBackend
	active   ActiveKeySource
	log      *slog.Logger
}

// NewRegistry creates an empty registry that follows the active key of active.
func NewRegistry(active ActiveKeySource, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		backends: make(map[string]interfaces.StorageBackend),
		active:   active,
		log:      log,
	}
}

// Register adds or replaces the backend under its key.
func (r *Registry) Register(backend interfaces.StorageBackend) {
	r.mu.Lock()
	r.backends[backend.Key()] = backend
	r.mu.Unlock()
	r.log.Debug("Storage backend registered", slog.String("backend", backend.Key()))
}

// Unregister removes the backend under key and reports whether it was present.
func (r *Registry) Unregister(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.backends[key]
	delete(r.backends, key)
	return ok
}

// Lookup returns the backend registered under key without any fallback.
func (r *Registry) Lookup(key string) (interfaces.StorageBackend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[key]
	return b, ok
}

// Resolve returns the backend for key. An empty or unregistered key falls back
// to the active backend, then to the default "local" backend.
func (r *Registry) Resolve(key string) (interfaces.StorageBackend, error) {
	if key != "" {
		if b, ok := r.Lookup(key); ok {
			return b, nil
		}
		r.log.Debug("Requested storage backend not registered, falling back",
			slog.String("backend", key))
	}

	active := ""
	if r.active != nil {
		active = r.active.ActiveKey()
	}
	if active != "" {
		if b, ok := r.Lookup(active); ok {
			return b, nil
		}
		r.log.Warn("Active storage backend not registered, falling back to default",
			slog.String("active", active),
			slog.String("default", interfaces.DefaultBackendKey))
	}

	if b, ok := r.Lookup(interfaces.DefaultBackendKey); ok {
		return b, nil
	}
	return nil, fmt.Errorf("%w: requested %q, active %q", interfaces.ErrNoStrategyAvailable, key, active)
}

// Current returns the backend that serves requests without an explicit key.
func (r *Registry) Current() (interfaces.StorageBackend, error) {
	return r.Resolve("")
}

// Keys returns the registered backend keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.backends))
	for k := range r.backends {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HandleInvalidation drops the cached store of the affected backends so the
// next call rebuilds it with the new settings.
func (r *Registry) HandleInvalidation(ev interfaces.Invalidation) {
	r.mu.RLock()
	var targets []interfaces.StorageBackend
	if ev.Key == "" {
		for _, b := range r.backends {
			targets = append(targets, b)
		}
	} else if b, ok := r.backends[ev.Key]; ok {
		targets = append(targets, b)
	}
	r.mu.RUnlock()

	for _, b := range targets {
		if rs, ok := b.(resetter); ok {
			rs.Reset()
		}
	}
	if ev.ActiveChanged {
		r.log.Info("Active storage backend changed", slog.String("active", ev.ActiveKey))
	}
}
