package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/rotator/pkg/rotation"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// StepFailure turns a coordinator error into a UserError carrying an operator hint
func StepFailure(err error) error {
	if err == nil {
		return nil
	}

	var stepErr *rotation.StepError
	message := "rotation step failed"
	if errors.As(err, &stepErr) {
		message = fmt.Sprintf("%s failed for %s", stepErr.Step, stepErr.SecretID)
	}

	return UserError{
		Message:    message,
		Details:    err.Error(),
		Suggestion: Suggestion(err),
		Err:        err,
	}
}

// Suggestion returns a hint for an operator looking at a failed rotation step
func Suggestion(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, rotation.ErrRotationDisabled):
		return "Enable rotation on the secret before invoking the rotation function: 'aws secretsmanager rotate-secret --secret-id <id> --rotation-lambda-arn <arn>'"
	case errors.Is(err, rotation.ErrUnknownVersion):
		return "The token is not a version of this secret. Start a new attempt with 'rotator rotate <secret>'"
	case errors.Is(err, rotation.ErrNotPending):
		return "Another rotation attempt owns AWSPENDING. Check the stages with 'rotator status <secret>'"
	case errors.Is(err, rotation.ErrCredentialVerificationFailed):
		return "The target rejected the pending credential. Re-run setSecret for the same token, then testSecret"
	case errors.Is(err, rotation.ErrInvalidStep):
		return "Valid steps are createSecret, setSecret, testSecret and finishSecret"
	case IsRetryable(err):
		return "This looks transient. Redeliver the same step, it is safe to repeat"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "AccessDenied") {
		return "Check IAM permissions for secretsmanager:DescribeSecret, GetSecretValue, PutSecretValue and UpdateSecretVersionStage"
	}
	if strings.Contains(errStr, "credentials") {
		return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
	}
	return ""
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if rotation.IsTerminal(err) {
		return false
	}
	if errors.Is(err, rotation.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"connection refused",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
