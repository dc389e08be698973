// Package logtarget is a CredentialTarget that only logs what a real target
// would do. It backs dry runs and simulations.
package logtarget

import (
	"context"
	"sync"

	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/rotation"
)

// Target records applied credentials in memory so that verification can
// tell whether setSecret ran for a value.
type Target struct {
	logger *logging.Logger
	reject bool

	mu      sync.Mutex
	applied map[string]string
}

// Option configures a Target.
type Option func(*Target)

// WithRejection makes every verification fail, for exercising the
// testSecret failure path.
func WithRejection(reject bool) Option {
	return func(t *Target) {
		t.reject = reject
	}
}

// New creates a log target.
func New(logger *logging.Logger, opts ...Option) *Target {
	t := &Target{logger: logger, applied: make(map[string]string)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ApplyCredential implements rotation.CredentialTarget.
func (t *Target) ApplyCredential(_ context.Context, req rotation.ApplyRequest) error {
	username := req.Pending.Username()

	t.mu.Lock()
	t.applied[username] = req.Pending.Password()
	t.mu.Unlock()

	t.logger.Info("Would update password for user %s (password %s)", username, logging.Secret(req.Pending.Password()))
	return nil
}

// VerifyCredential implements rotation.CredentialTarget. A value passes when
// it was applied before, or when nothing was ever applied for the user.
func (t *Target) VerifyCredential(_ context.Context, value rotation.SecretValue) (bool, error) {
	username := value.Username()
	t.logger.Info("Would test connection for user %s", username)

	if t.reject {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	applied, ok := t.applied[username]
	return !ok || applied == value.Password(), nil
}
