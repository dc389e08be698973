// Package main is the entry point of the Secrets Manager rotation function.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/systmms/rotator/internal/awsclient"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/secretstores"
	"github.com/systmms/rotator/internal/secure"
	"github.com/systmms/rotator/internal/targets"
	"github.com/systmms/rotator/internal/trigger"
	"github.com/systmms/rotator/pkg/rotation"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	secure.CatchInterrupt()

	handler, err := newHandler(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "rotator-lambda: %v\n", err)
		secure.Purge()
		os.Exit(1)
	}
	lambda.Start(handler.Handle)
}

func newHandler(ctx context.Context) (*trigger.LambdaHandler, error) {
	settings, err := config.LoadLambda(ctx, os.Getenv, func(s *config.Settings) (config.SSMGetParameterAPI, error) {
		awsCfg, err := awsclient.LoadConfig(ctx, s.AWSOptions())
		if err != nil {
			return nil, err
		}
		return awsclient.SSM(awsCfg, s.AWSOptions()), nil
	})
	if err != nil {
		return nil, err
	}

	logger := settings.NewLogger(true).With("version", Version)
	if settings.Log.Format == string(logging.FormatJSON) {
		logger.SetOutput(os.Stdout)
	}

	store, err := secretstores.NewRegistry().CreateSecretStore(ctx, settings, logger)
	if err != nil {
		return nil, err
	}

	// The target, and with it any sealed master password, lives as long as
	// the execution environment.
	target, err := targets.New(ctx, settings, store, logger)
	if err != nil {
		return nil, err
	}

	coordinator := rotation.NewCoordinator(store, target,
		rotation.WithLogger(logger),
		rotation.WithPasswordPolicy(settings.PasswordPolicy()),
	)

	logger.Info("Rotation function ready: store %s, target %s", settings.Store.Type, settings.Target.Type)
	return trigger.NewLambdaHandler(coordinator, logger, settings.StoreTimeout()), nil
}
