// Package targets builds the configured rotation.CredentialTarget.
package targets

import (
	"context"
	"fmt"

	"github.com/systmms/rotator/internal/config"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/secure"
	"github.com/systmms/rotator/internal/targets/logtarget"
	"github.com/systmms/rotator/internal/targets/sqltarget"
	"github.com/systmms/rotator/pkg/rotation"
)

// Target is a credential target plus the cleanup that releases whatever it
// holds, such as a sealed master password.
type Target struct {
	rotation.CredentialTarget
	closers []func()
}

// Close releases the target's resources. It is safe to call more than once.
func (t *Target) Close() {
	for _, closer := range t.closers {
		closer()
	}
	t.closers = nil
}

// Option configures how targets are built.
type Option func(*options)

type options struct {
	sqlOptions []sqltarget.Option
}

// WithSQLOptions passes options through to sqltarget.New (for testing).
func WithSQLOptions(opts ...sqltarget.Option) Option {
	return func(o *options) {
		o.sqlOptions = append(o.sqlOptions, opts...)
	}
}

// New builds the target described by settings. A SQL target with a master
// secret reads the master credential from store once, as AWSCURRENT, and
// keeps the password sealed for the lifetime of the target.
func New(ctx context.Context, settings *config.Settings, store rotation.SecretStore, logger *logging.Logger, opts ...Option) (*Target, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch settings.Target.Type {
	case config.TargetLog:
		return &Target{
			CredentialTarget: logtarget.New(logger, logtarget.WithRejection(settings.Target.Reject)),
		}, nil

	case config.TargetSQL:
		return newSQLTarget(ctx, settings, store, logger, o)

	default:
		return nil, dserrors.ConfigError{
			Field:      "target.type",
			Value:      settings.Target.Type,
			Message:    "unknown target type",
			Suggestion: "Use 'sql' to rotate a database user or 'log' for a dry run",
		}
	}
}

func newSQLTarget(ctx context.Context, settings *config.Settings, store rotation.SecretStore, logger *logging.Logger, o *options) (*Target, error) {
	cfg := sqltarget.Config{
		SSLMode: settings.Target.SSLMode,
		Timeout: settings.TargetTimeout(),
	}

	if settings.Target.Engine != "" {
		engine, err := sqltarget.ParseEngine(settings.Target.Engine)
		if err != nil {
			return nil, dserrors.ConfigError{
				Field:   "target.engine",
				Value:   settings.Target.Engine,
				Message: err.Error(),
			}
		}
		cfg.Engine = engine
	}

	target := &Target{}

	if settings.Target.MasterSecretID != "" {
		master, err := store.GetSecretValue(ctx, settings.Target.MasterSecretID, "", rotation.StageCurrent)
		if err != nil {
			return nil, fmt.Errorf("failed to read master secret %s: %w", settings.Target.MasterSecretID, err)
		}
		if master.Username() == "" || master.Password() == "" {
			return nil, dserrors.ConfigError{
				Field:      "target.master_secret_id",
				Value:      settings.Target.MasterSecretID,
				Message:    "master secret has no username or password",
				Suggestion: "Store the master credential as JSON with username and password fields",
			}
		}

		credential := secure.NewCredential(master.Password())
		cfg.MasterUsername = master.Username()
		cfg.MasterPassword = credential
		target.closers = append(target.closers, credential.Destroy)
		logger.Debug("Using master user %s from %s", cfg.MasterUsername, settings.Target.MasterSecretID)
	}

	sqlOpts := append([]sqltarget.Option{sqltarget.WithLogger(logger)}, o.sqlOptions...)
	target.CredentialTarget = sqltarget.New(cfg, sqlOpts...)
	return target, nil
}
