// Package registry holds the server's function table and the credential
// authenticator. Both are populated at construction time and read-only once
// the worker pool is serving, so lookups take no locks.
package registry

import (
	"fmt"

	"github.com/ruteri/secure-rpc-broker/interfaces"
)

type entry struct {
	fn     interfaces.Function
	public bool
}

// FunctionRegistry maps call names to callable implementations. Lookup is
// exact-match and case-sensitive; there is no wildcard or namespaced
// dispatch. The registry is append-only: entries are never removed.
type FunctionRegistry struct {
	entries map[string]entry
}

// NewFunctionRegistry creates an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{entries: make(map[string]entry)}
}

// Register adds a function under the given alias, requiring authentication.
// Registering an alias twice is a configuration bug and returns an error.
func (r *FunctionRegistry) Register(alias string, fn interfaces.Function) error {
	return r.add(alias, fn, false)
}

// RegisterPublic adds a function callable without a credential.
func (r *FunctionRegistry) RegisterPublic(alias string, fn interfaces.Function) error {
	return r.add(alias, fn, true)
}

func (r *FunctionRegistry) add(alias string, fn interfaces.Function, public bool) error {
	if alias == "" {
		return fmt.Errorf("function alias must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("function %s must not be nil", alias)
	}
	if _, exists := r.entries[alias]; exists {
		return fmt.Errorf("function %s already registered", alias)
	}
	r.entries[alias] = entry{fn: fn, public: public}
	return nil
}

// Resolve looks up a function by name. The second return reports whether the
// entry is public (callable without a credential).
func (r *FunctionRegistry) Resolve(name string) (fn interfaces.Function, public bool, ok bool) {
	e, ok := r.entries[name]
	if !ok {
		return nil, false, false
	}
	return e.fn, e.public, true
}
