// Package secretstores builds the configured rotation.SecretStore.
package secretstores

import (
	"context"
	"fmt"
	"sort"

	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/secretstores/awssm"
	"github.com/systmms/rotator/internal/secretstores/memory"
	"github.com/systmms/rotator/pkg/rotation"
)

// Store is a rotation.SecretStore that can also start a rotation attempt,
// the way RotateSecret does before it invokes the rotation function.
type Store interface {
	rotation.SecretStore
	StartRotation(ctx context.Context, secretID, token string) error
}

// Factory creates a store from settings
type Factory func(ctx context.Context, settings *config.Settings, logger *logging.Logger) (Store, error)

// Registry manages secret store creation and registration
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a new secret store registry with built-in secret stores
func NewRegistry() *Registry {
	registry := &Registry{factories: make(map[string]Factory)}

	registry.Register(config.StoreSecretsManager, func(ctx context.Context, settings *config.Settings, logger *logging.Logger) (Store, error) {
		store, err := awssm.New(ctx, settings.AWSOptions(), awssm.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return store, nil
	})
	registry.Register(config.StoreMemory, func(_ context.Context, settings *config.Settings, _ *logging.Logger) (Store, error) {
		store, err := memory.LoadFixtureFile(settings.Store.Fixture)
		if err != nil {
			return nil, err
		}
		return store, nil
	})

	return registry
}

// Register adds or replaces a store type
func (r *Registry) Register(storeType string, factory Factory) {
	r.factories[storeType] = factory
}

// CreateSecretStore creates the store named by settings.Store.Type
func (r *Registry) CreateSecretStore(ctx context.Context, settings *config.Settings, logger *logging.Logger) (Store, error) {
	factory, ok := r.factories[settings.Store.Type]
	if !ok {
		return nil, fmt.Errorf("unknown secret store type: %s", settings.Store.Type)
	}

	store, err := factory(ctx, settings, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", settings.Store.Type, err)
	}
	return store, nil
}

// GetSupportedTypes returns a sorted list of supported secret store types
func (r *Registry) GetSupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for storeType := range r.factories {
		types = append(types, storeType)
	}
	sort.Strings(types)
	return types
}

// IsSupported checks if a secret store type is supported
func (r *Registry) IsSupported(storeType string) bool {
	_, ok := r.factories[storeType]
	return ok
}
