// Package awssm implements rotation.SecretStore on AWS Secrets Manager.
package awssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/systmms/rotator/internal/awsclient"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/rotation"
)

// SecretsManagerClientAPI defines the Secrets Manager operations the store uses.
// This allows for mocking in tests
type SecretsManagerClientAPI interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	UpdateSecretVersionStage(ctx context.Context, params *secretsmanager.UpdateSecretVersionStageInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.UpdateSecretVersionStageOutput, error)
	GetRandomPassword(ctx context.Context, params *secretsmanager.GetRandomPasswordInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetRandomPasswordOutput, error)
	RotateSecret(ctx context.Context, params *secretsmanager.RotateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.RotateSecretOutput, error)
}

// Store talks to one Secrets Manager endpoint.
type Store struct {
	client SecretsManagerClientAPI
	logger *logging.Logger
}

// Option is a functional option for configuring the store
type Option func(*Store)

// WithClient sets a custom Secrets Manager client (for testing)
func WithClient(client SecretsManagerClientAPI) Option {
	return func(s *Store) {
		s.client = client
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store. Without WithClient a real client is built from opts.
func New(ctx context.Context, opts awsclient.Options, options ...Option) (*Store, error) {
	s := &Store{logger: logging.New(false, true)}
	for _, opt := range options {
		opt(s)
	}

	if s.client == nil {
		cfg, err := awsclient.LoadConfig(ctx, opts)
		if err != nil {
			return nil, err
		}
		s.client = awsclient.SecretsManager(cfg, opts)
	}
	return s, nil
}

// DescribeSecret implements rotation.SecretStore.
func (s *Store) DescribeSecret(ctx context.Context, secretID string) (*rotation.Metadata, error) {
	out, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, classify("DescribeSecret", secretID, err, rotation.ErrSecretNotFound)
	}

	meta := &rotation.Metadata{
		ARN:             aws.ToString(out.ARN),
		Name:            aws.ToString(out.Name),
		RotationEnabled: aws.ToBool(out.RotationEnabled),
		Versions:        make(map[string][]rotation.Stage, len(out.VersionIdsToStages)),
	}
	for versionID, stages := range out.VersionIdsToStages {
		converted := make([]rotation.Stage, len(stages))
		for i, stage := range stages {
			converted[i] = rotation.Stage(stage)
		}
		meta.Versions[versionID] = converted
	}

	s.logger.Debug("Described %s: rotation enabled=%t, %d versions", secretID, meta.RotationEnabled, len(meta.Versions))
	return meta, nil
}

// GetSecretValue implements rotation.SecretStore.
func (s *Store) GetSecretValue(ctx context.Context, secretID, versionID string, stage rotation.Stage) (rotation.SecretValue, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}
	if stage != "" {
		input.VersionStage = aws.String(string(stage))
	}

	out, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return nil, classify("GetSecretValue", secretID, err, rotation.ErrValueNotFound)
	}

	// Rotation only handles string secrets, not binary
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %q is not a string type (binary secrets not supported)", secretID)
	}
	return rotation.ParseSecretValue(*out.SecretString)
}

// PutSecretValue implements rotation.SecretStore. The token is sent as
// ClientRequestToken, which Secrets Manager treats as an idempotency key.
func (s *Store) PutSecretValue(ctx context.Context, secretID, token string, value rotation.SecretValue, stages []rotation.Stage) error {
	encoded, err := value.Encode()
	if err != nil {
		return err
	}

	input := &secretsmanager.PutSecretValueInput{
		SecretId:           aws.String(secretID),
		ClientRequestToken: aws.String(token),
		SecretString:       aws.String(encoded),
	}
	for _, stage := range stages {
		input.VersionStages = append(input.VersionStages, string(stage))
	}

	if _, err := s.client.PutSecretValue(ctx, input); err != nil {
		return classify("PutSecretValue", secretID, err, rotation.ErrSecretNotFound)
	}
	return nil
}

// UpdateVersionStage implements rotation.SecretStore.
func (s *Store) UpdateVersionStage(ctx context.Context, secretID string, stage rotation.Stage, moveTo, removeFrom string) error {
	input := &secretsmanager.UpdateSecretVersionStageInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(string(stage)),
	}
	if moveTo != "" {
		input.MoveToVersionId = aws.String(moveTo)
	}
	if removeFrom != "" {
		input.RemoveFromVersionId = aws.String(removeFrom)
	}

	if _, err := s.client.UpdateSecretVersionStage(ctx, input); err != nil {
		return classify("UpdateSecretVersionStage", secretID, err, rotation.ErrValueNotFound)
	}
	return nil
}

// GenerateRandomValue implements rotation.SecretStore with GetRandomPassword.
func (s *Store) GenerateRandomValue(ctx context.Context, policy rotation.PasswordPolicy) (string, error) {
	input := &secretsmanager.GetRandomPasswordInput{}
	if policy.Length > 0 {
		input.PasswordLength = aws.Int64(int64(policy.Length))
	}
	if policy.ExcludeCharacters != "" {
		input.ExcludeCharacters = aws.String(policy.ExcludeCharacters)
	}

	out, err := s.client.GetRandomPassword(ctx, input)
	if err != nil {
		return "", classify("GetRandomPassword", "", err, nil)
	}
	if out.RandomPassword == nil {
		return "", fmt.Errorf("GetRandomPassword returned no password")
	}
	return *out.RandomPassword, nil
}

// StartRotation asks Secrets Manager to rotate the secret immediately with
// token as the new version id. Secrets Manager then delivers the four steps
// to the secret's rotation function.
func (s *Store) StartRotation(ctx context.Context, secretID, token string) error {
	input := &secretsmanager.RotateSecretInput{
		SecretId:          aws.String(secretID),
		RotateImmediately: aws.Bool(true),
	}
	if token != "" {
		input.ClientRequestToken = aws.String(token)
	}

	if _, err := s.client.RotateSecret(ctx, input); err != nil {
		return classify("RotateSecret", secretID, err, rotation.ErrSecretNotFound)
	}
	s.logger.Debug("Started rotation of %s with token %s", secretID, token)
	return nil
}

// transientCodes are API error codes worth redelivering the same step for.
var transientCodes = map[string]bool{
	"ThrottlingException":       true,
	"TooManyRequestsException":  true,
	"RequestLimitExceeded":      true,
	"InternalServiceError":      true,
	"InternalFailure":           true,
	"ServiceUnavailable":        true,
	"RequestTimeout":            true,
	"RequestTimeoutException":   true,
	"RequestThrottledException": true,
}

// classify maps an SDK error onto the rotation error taxonomy. notFound is
// the sentinel a ResourceNotFoundException turns into for this operation.
func classify(op, secretID string, err error, notFound error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var resourceNotFound *types.ResourceNotFoundException
	if notFound != nil && errors.As(err, &resourceNotFound) {
		return fmt.Errorf("%s %s: %w: %w", op, secretID, notFound, err)
	}

	var internal *types.InternalServiceError
	if errors.As(err, &internal) {
		return rotation.Unavailable(op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] {
			return rotation.Unavailable(op, err)
		}
		return fmt.Errorf("%s %s: %w", op, secretID, err)
	}

	// No API response at all: network failure, timeout or exhausted retries.
	return rotation.Unavailable(op, err)
}
