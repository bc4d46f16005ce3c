package factory

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// ErrUnknownType is returned by Create for a type nobody registered.
var ErrUnknownType = errors.New("unknown module type")

// ModuleConfig selects a module by type and carries its raw settings.
type ModuleConfig struct {
	Type string         `json:"type"`
	Conf map[string]any `json:"conf"`
}

// Factory builds a T from raw settings.
type Factory[T any] func(map[string]any) (T, error)

// Registry maps module types to their factories. It is safe for
// concurrent use; registrations normally happen from init functions.
type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{factories: make(map[string]Factory[T])}
}

// Register binds name to f. Names are unique.
func (r *Registry[T]) Register(name string, f Factory[T]) error {
	if name == "" || f == nil {
		return fmt.Errorf("register %q: name and factory are required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		return fmt.Errorf("register %q: already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Create builds the module described by cfg.
func (r *Registry[T]) Create(cfg ModuleConfig) (T, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w %q (known: %v)", ErrUnknownType, cfg.Type, r.Names())
	}
	return f(cfg.Conf)
}

// CreateAll builds one module per config, in order. If any fails, the
// modules already built are closed when they implement io.Closer.
func (r *Registry[T]) CreateAll(cfgs []ModuleConfig) ([]T, error) {
	out := make([]T, 0, len(cfgs))
	for i, c := range cfgs {
		m, err := r.Create(c)
		if err != nil {
			for _, built := range out {
				if cl, ok := any(built).(io.Closer); ok {
					_ = cl.Close()
				}
			}
			return nil, fmt.Errorf("module %d (%s): %w", i, c.Type, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Names lists the registered types in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Decode fills out from raw settings using json tags. Scalars are weakly
// typed so that environment overrides such as "5" decode into ints.
func Decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("decode module config: %w", err)
	}
	return nil
}
