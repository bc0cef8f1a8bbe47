package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/restreamer/pkg/ads"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// InventoryFactory builds an ad inventory from its configuration entry.
type InventoryFactory func(ctx context.Context, entry ProviderEntry) (ads.Inventory, error)

// ReporterFactory builds a play reporter from its configuration entry.
type ReporterFactory func(ctx context.Context, entry ProviderEntry) (ads.Reporter, error)

// Registry maps provider names to their constructor functions for each
// provider role. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	inventories map[string]InventoryFactory
	reporters   map[string]ReporterFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		inventories: make(map[string]InventoryFactory),
		reporters:   make(map[string]ReporterFactory),
	}
}

// RegisterInventory registers an inventory factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterInventory(name string, factory InventoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inventories[name] = factory
}

// RegisterReporter registers a reporter factory under name.
func (r *Registry) RegisterReporter(name string, factory ReporterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporters[name] = factory
}

// CreateInventory instantiates an inventory using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateInventory(ctx context.Context, entry ProviderEntry) (ads.Inventory, error) {
	r.mu.RLock()
	factory, ok := r.inventories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: inventory/%q", ErrProviderNotRegistered, entry.Name)
	}
	inv, err := factory(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("config: create inventory %q: %w", entry.Name, err)
	}
	return inv, nil
}

// CreateReporter instantiates a reporter using the factory registered under
// entry.Name.
func (r *Registry) CreateReporter(ctx context.Context, entry ProviderEntry) (ads.Reporter, error) {
	r.mu.RLock()
	factory, ok := r.reporters[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: reporter/%q", ErrProviderNotRegistered, entry.Name)
	}
	rep, err := factory(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("config: create reporter %q: %w", entry.Name, err)
	}
	return rep, nil
}

// Names returns the registered inventory and reporter names, sorted.
func (r *Registry) Names() (inventories, reporters []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := range r.inventories {
		inventories = append(inventories, n)
	}
	for n := range r.reporters {
		reporters = append(reporters, n)
	}
	sort.Strings(inventories)
	sort.Strings(reporters)
	return inventories, reporters
}
