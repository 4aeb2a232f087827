// Package tenant routes inbound traffic to per-business runtimes. Each
// tenant owns its own session database, catalog, and template settings;
// the delivery manager and transport are shared.
package tenant

import (
	"fmt"
	"sync"

	"github.com/user/kasuwabot/internal/delivery"
	"github.com/user/kasuwabot/internal/types"
)

// DefaultTenant is used when an inbound request carries no tenant header.
const DefaultTenant = "default"

// Runtime bundles everything the orchestrator needs to serve one tenant.
type Runtime struct {
	Key      string
	Sessions types.SessionStore
	Catalog  types.CatalogStore
	Delivery *delivery.Manager

	WelcomeTemplateSID  string
	ReengageTemplateSID string
	FallbackReply       string
}

// Registry maps tenant keys to runtimes.
type Registry struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime
}

// NewRegistry creates an empty tenant registry.
func NewRegistry() *Registry {
	return &Registry{runtimes: make(map[string]*Runtime)}
}

// Register adds a runtime under its tenant key.
func (r *Registry) Register(rt *Runtime) error {
	if rt.Key == "" {
		return fmt.Errorf("tenant runtime missing key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runtimes[rt.Key]; exists {
		return fmt.Errorf("tenant %s already registered", rt.Key)
	}
	r.runtimes[rt.Key] = rt
	return nil
}

// Resolve returns the runtime for the given tenant key, falling back to
// the default tenant when key is empty.
func (r *Registry) Resolve(key string) (*Runtime, error) {
	if key == "" {
		key = DefaultTenant
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[key]
	if !ok {
		return nil, fmt.Errorf("no runtime for tenant: %s", key)
	}
	return rt, nil
}

// Keys returns all registered tenant keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.runtimes))
	for k := range r.runtimes {
		keys = append(keys, k)
	}
	return keys
}
