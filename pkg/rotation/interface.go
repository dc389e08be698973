package rotation

import (
	"context"
	"time"
)

// SecretStore is the versioned key-value service that holds the secret.
// It is the single source of truth for version and stage state; the
// coordinator never caches what it reads from it.
//
// Implementations must provide read-after-write consistency for stage labels
// on a single secret, and UpdateVersionStage must move a stage atomically.
type SecretStore interface {
	// DescribeSecret returns the rotation flag and the version to stage mapping.
	DescribeSecret(ctx context.Context, secretID string) (*Metadata, error)

	// GetSecretValue returns the value of a version. Either versionID or
	// stage may be empty; when both are set the version must carry the stage.
	// Returns an error wrapping ErrValueNotFound when no such value exists.
	GetSecretValue(ctx context.Context, secretID, versionID string, stage Stage) (SecretValue, error)

	// PutSecretValue stores value as version token with the given stages.
	// Stages move from whichever version held them before.
	PutSecretValue(ctx context.Context, secretID, token string, value SecretValue, stages []Stage) error

	// UpdateVersionStage attaches stage to moveTo and removes it from
	// removeFrom in a single operation. An empty removeFrom means no version
	// currently holds the stage and it is simply added.
	UpdateVersionStage(ctx context.Context, secretID string, stage Stage, moveTo, removeFrom string) error

	// GenerateRandomValue returns a random password honouring the policy.
	GenerateRandomValue(ctx context.Context, policy PasswordPolicy) (string, error)
}

// ApplyRequest carries what a target needs to switch to the pending credential.
type ApplyRequest struct {
	SecretID string
	Token    string

	// Pending is the AWSPENDING value to apply.
	Pending SecretValue

	// Current is the AWSCURRENT value, which single-user targets use to
	// authenticate before changing their own password. It may be nil.
	Current SecretValue
}

// CredentialTarget is the live system whose credential is rotated.
type CredentialTarget interface {
	// ApplyCredential installs the pending credential. It must succeed when
	// called again with a value that is already in place.
	ApplyCredential(ctx context.Context, req ApplyRequest) error

	// VerifyCredential probes the target with value without changing it.
	// A rejected credential is reported as (false, nil); an error means
	// the probe itself could not be carried out.
	VerifyCredential(ctx context.Context, value SecretValue) (bool, error)
}

// Outcome summarises how a HandleStep call ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// StepOutcome is reported to observers after every HandleStep call.
type StepOutcome struct {
	Request   Request
	Outcome   Outcome
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

// StepObserver receives step outcomes. Observers run synchronously on the
// calling goroutine and must not block.
type StepObserver interface {
	ObserveStep(ctx context.Context, outcome StepOutcome)
}

// StepObserverFunc adapts a function to StepObserver.
type StepObserverFunc func(ctx context.Context, outcome StepOutcome)

// ObserveStep implements StepObserver.
func (f StepObserverFunc) ObserveStep(ctx context.Context, outcome StepOutcome) {
	f(ctx, outcome)
}

// Uncached unwraps decorators around store until it reaches one that does not
// expose Unwrap. The coordinator uses it so that a caching layer can never
// hand it stale stage labels.
func Uncached(store SecretStore) SecretStore {
	for {
		wrapped, ok := store.(interface{ Unwrap() SecretStore })
		if !ok {
			return store
		}
		inner := wrapped.Unwrap()
		if inner == nil {
			return store
		}
		store = inner
	}
}
