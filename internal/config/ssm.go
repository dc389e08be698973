package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	dserrors "github.com/systmms/rotator/internal/errors"
)

// SSMGetParameterAPI is the part of the SSM client used to fetch a
// configuration document. This allows for mocking in tests
type SSMGetParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadFromSSM decodes the YAML document stored in an SSM parameter on top of
// settings. SecureString parameters are decrypted.
func LoadFromSSM(ctx context.Context, client SSMGetParameterAPI, name string, settings *Settings) error {
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return dserrors.UserError{
			Message:    fmt.Sprintf("Failed to read configuration parameter %s", name),
			Details:    err.Error(),
			Suggestion: "Check that the parameter exists and the role may call ssm:GetParameter",
			Err:        err,
		}
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return dserrors.ConfigError{
			Field:   EnvConfigParameter,
			Value:   name,
			Message: "parameter has no value",
		}
	}
	return Parse([]byte(aws.ToString(out.Parameter.Value)), settings)
}

// LoadLambda builds the settings of the Lambda function: defaults, then the
// optional SSM document named by ROTATOR_CONFIG_PARAMETER, then the
// environment. newClient is only called when the parameter is set.
func LoadLambda(ctx context.Context, getenv func(string) string, newClient func(*Settings) (SSMGetParameterAPI, error)) (*Settings, error) {
	settings := Defaults()
	settings.Store.Type = StoreSecretsManager
	settings.Log.Format = "json"
	settings.Journal.Enabled = aws.Bool(false)

	// Region and endpoint must be known before SSM can be reached.
	if err := ApplyEnv(settings, getenv); err != nil {
		return nil, err
	}

	if name := getenv(EnvConfigParameter); name != "" {
		client, err := newClient(settings)
		if err != nil {
			return nil, err
		}
		if err := LoadFromSSM(ctx, client, name, settings); err != nil {
			return nil, err
		}
		if err := ApplyEnv(settings, getenv); err != nil {
			return nil, err
		}
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}
