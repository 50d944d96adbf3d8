package guard

import (
	"context"
	"strings"
	"sync"
)

// OwnershipDescriptor declares, per endpoint, which registered predicate
// decides resource access and which path parameter carries the resource id.
type OwnershipDescriptor struct {
	Capability string
	Method     string
	ParamName  string
}

// Predicate is a resource-specific access check. A returned error wrapping
// ErrForbidden is propagated verbatim to the caller; any other error is
// treated as a plain deny.
type Predicate func(ctx context.Context, resourceID, userID, role string) (bool, error)

// Registry maps capability and method names to predicates. It replaces
// runtime service lookup with an explicit mapping populated at startup.
type Registry struct {
	mu         sync.RWMutex
	predicates map[string]map[string]Predicate
}

// NewRegistry constructs an empty predicate registry.
func NewRegistry() *Registry {
	return &Registry{predicates: make(map[string]map[string]Predicate)}
}

// Register binds a predicate under the capability and method names.
func (r *Registry) Register(capability, method string, fn Predicate) {
	capability = strings.TrimSpace(capability)
	method = strings.TrimSpace(method)
	if capability == "" || method == "" || fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	methods, ok := r.predicates[capability]
	if !ok {
		methods = make(map[string]Predicate)
		r.predicates[capability] = methods
	}
	methods[method] = fn
}

func (r *Registry) lookup(capability, method string) (Predicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods, ok := r.predicates[capability]
	if !ok {
		return nil, false
	}
	fn, ok := methods[method]
	return fn, ok
}
