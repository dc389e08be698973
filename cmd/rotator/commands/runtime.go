package commands

import (
	"context"
	"fmt"

	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/journal"
	"github.com/systmms/rotator/internal/secretstores"
	"github.com/systmms/rotator/internal/targets"
	"github.com/systmms/rotator/pkg/rotation"
)

// storeRegistry builds stores for every command. Tests register fakes here.
var storeRegistry = secretstores.NewRegistry()

// openStore loads the configuration and creates the configured store
func openStore(ctx context.Context, cfg *config.Config) (secretstores.Store, error) {
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return storeRegistry.CreateSecretStore(ctx, cfg.Settings, cfg.Logger)
}

// newCoordinator wires store, the configured target, the journal and any
// extra observers into a coordinator. The returned target must be closed.
func newCoordinator(ctx context.Context, cfg *config.Config, store rotation.SecretStore, observers ...rotation.StepObserver) (*rotation.Coordinator, *targets.Target, error) {
	target, err := targets.New(ctx, cfg.Settings, store, cfg.Logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []rotation.Option{
		rotation.WithLogger(cfg.Logger),
		rotation.WithPasswordPolicy(cfg.Settings.PasswordPolicy()),
	}
	if cfg.Settings.JournalEnabled() {
		opts = append(opts, rotation.WithObserver(openJournal(cfg)))
	}
	for _, observer := range observers {
		opts = append(opts, rotation.WithObserver(observer))
	}

	return rotation.NewCoordinator(store, target, opts...), target, nil
}

func openJournal(cfg *config.Config) *journal.Journal {
	dir := cfg.Settings.Journal.Dir
	if dir == "" {
		dir = journal.DefaultDir()
	}
	return journal.New(dir, cfg.Logger)
}

// stepContext applies the configured per-step timeout
func stepContext(ctx context.Context, settings *config.Settings) (context.Context, context.CancelFunc) {
	if timeout := settings.StoreTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
