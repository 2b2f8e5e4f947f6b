// Package registry maps warehouse kinds to factories so the CLI can build
// the warehouse named in configuration without importing every backend.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/civicsync/civicsync/pkg/config"
	"github.com/civicsync/civicsync/pkg/connector/core"
	"github.com/civicsync/civicsync/pkg/syncerrors"
	"go.uber.org/zap"
)

// WarehouseFactory creates a connected warehouse from its configuration.
type WarehouseFactory func(ctx context.Context, cfg config.WarehouseConfig, logger *zap.Logger) (core.Warehouse, error)

// Registry manages warehouse registration and instantiation
type Registry struct {
	warehouses map[string]WarehouseFactory
	mu         sync.RWMutex
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new warehouse registry
func NewRegistry() *Registry {
	return &Registry{
		warehouses: make(map[string]WarehouseFactory),
	}
}

// Register registers a warehouse factory under kind
func (r *Registry) Register(kind string, factory WarehouseFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.warehouses[kind]; exists {
		return syncerrors.Newf(syncerrors.ErrorTypeConfig, "warehouse %s already registered", kind)
	}

	r.warehouses[kind] = factory
	return nil
}

// Create creates a warehouse of the configured kind
func (r *Registry) Create(ctx context.Context, cfg config.WarehouseConfig, logger *zap.Logger) (core.Warehouse, error) {
	r.mu.RLock()
	factory, exists := r.warehouses[cfg.Kind]
	r.mu.RUnlock()

	if !exists {
		return nil, syncerrors.Newf(syncerrors.ErrorTypeConfig, "warehouse %s not found", cfg.Kind).
			WithDetail("available", r.List())
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	wh, err := factory(ctx, cfg, logger.With(zap.String("warehouse", cfg.Kind)))
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig, "failed to create warehouse "+cfg.Kind)
	}
	return wh, nil
}

// List returns the registered kinds in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.warehouses))
	for kind := range r.warehouses {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Has checks if a warehouse kind is registered
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.warehouses[kind]
	return exists
}

// Global registry functions

// Register registers a warehouse factory in the global registry
func Register(kind string, factory WarehouseFactory) error {
	return globalRegistry.Register(kind, factory)
}

// Create creates a warehouse from the global registry
func Create(ctx context.Context, cfg config.WarehouseConfig, logger *zap.Logger) (core.Warehouse, error) {
	return globalRegistry.Create(ctx, cfg, logger)
}

// List returns registered kinds from the global registry
func List() []string {
	return globalRegistry.List()
}

// Has checks if a kind is registered in the global registry
func Has(kind string) bool {
	return globalRegistry.Has(kind)
}
