// Package exports is the directory of functions plugins expose to each
// other, plus the bridge used to call them.
package exports

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"sync"

	"github.com/dshills/blockhost/internal/plugin/value"
)

// ErrInvalidName is returned for export names outside [A-Za-z0-9_.-].
var ErrInvalidName = errors.New("exports: invalid function name")

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// Func is a callable exported by a plugin.
type Func interface {
	Call(ctx context.Context, args []value.Value) (value.Value, error)
}

// FuncOf adapts a plain function to Func.
type FuncOf func(ctx context.Context, args []value.Value) (value.Value, error)

// Call implements Func.
func (f FuncOf) Call(ctx context.Context, args []value.Value) (value.Value, error) {
	return f(ctx, args)
}

// Registry maps (owner, name) to exported functions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]Func
	active  func(pluginID string) bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithActiveCheck sets the predicate deciding whether an owner may currently
// serve calls. Calls to inactive owners report not found.
func WithActiveCheck(fn func(pluginID string) bool) Option {
	return func(r *Registry) { r.active = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]map[string]Func)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register exposes fn as owner's name, replacing any earlier registration.
func (r *Registry) Register(owner, name string, fn Func) error {
	if !namePattern.MatchString(name) {
		return ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[owner]
	if !ok {
		m = make(map[string]Func)
		r.entries[owner] = m
	}
	m[name] = fn
	return nil
}

// Unregister removes one export. It reports whether it existed.
func (r *Registry) Unregister(owner, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[owner]
	if !ok {
		return false
	}
	if _, ok := m[name]; !ok {
		return false
	}
	delete(m, name)
	if len(m) == 0 {
		delete(r.entries, owner)
	}
	return true
}

// RemoveOwner drops every export of owner and returns how many there were.
func (r *Registry) RemoveOwner(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries[owner])
	delete(r.entries, owner)
	return n
}

// Lookup returns owner's export name if it exists and owner is active.
func (r *Registry) Lookup(owner, name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.entries[owner][name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if r.active != nil && !r.active(owner) {
		return nil, false
	}
	return fn, true
}

// Names returns owner's export names in sorted order.
func (r *Registry) Names(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries[owner]))
	for name := range r.entries[owner] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Owners returns every plugin with at least one export, sorted.
func (r *Registry) Owners() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for owner := range r.entries {
		out = append(out, owner)
	}
	sort.Strings(out)
	return out
}

// Call invokes owner's export name. found is false when the owner or
// function does not exist or the owner is inactive; that is not an error.
func (r *Registry) Call(ctx context.Context, owner, name string, args []value.Value) (result value.Value, found bool, err error) {
	fn, ok := r.Lookup(owner, name)
	if !ok {
		return value.Nil, false, nil
	}
	result, err = fn.Call(ctx, args)
	return result, true, err
}
