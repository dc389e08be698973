package rotation

import (
	"errors"
	"fmt"
)

var (
	// ErrRotationDisabled is returned when the secret does not have rotation enabled.
	ErrRotationDisabled = errors.New("rotation is not enabled for secret")

	// ErrUnknownVersion is returned when the request token is not a version of the secret.
	ErrUnknownVersion = errors.New("secret version has no stage for rotation")

	// ErrNotPending is returned when the token's version is neither AWSCURRENT nor AWSPENDING.
	ErrNotPending = errors.New("secret version not set as AWSPENDING for rotation")

	// ErrCredentialVerificationFailed is returned by testSecret when the target rejects the pending credential.
	ErrCredentialVerificationFailed = errors.New("pending credential was rejected by the target")

	// ErrInvalidStep is returned for a step name outside the four protocol steps.
	ErrInvalidStep = errors.New("invalid rotation step")

	// ErrStoreUnavailable wraps transient failures talking to the secret store or the target.
	ErrStoreUnavailable = errors.New("secret store unavailable")

	// ErrSecretNotFound is returned by SecretStore.DescribeSecret for an unknown secret.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrValueNotFound is returned by SecretStore.GetSecretValue when the
	// requested version or stage holds no value.
	ErrValueNotFound = errors.New("secret value not found")
)

// terminal lists the failures that redelivery of the same event cannot fix.
var terminal = []error{
	ErrRotationDisabled,
	ErrUnknownVersion,
	ErrNotPending,
	ErrInvalidStep,
	ErrCredentialVerificationFailed,
}

// IsTerminal reports whether err ends the rotation attempt. Terminal errors
// need an operator or a fresh attempt; anything else may be redelivered.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range terminal {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StepError records which event failed. It unwraps to the underlying cause so
// callers can match the sentinel errors with errors.Is.
type StepError struct {
	SecretID string
	Token    string
	Step     Step
	Err      error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed for secret %s version %s: %v", e.Step, e.SecretID, e.Token, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds.
// Store and target implementations use it for throttling, timeouts and
// connection failures.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
