package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/awsclient"
	"github.com/systmms/rotator/internal/config"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/pkg/rotation"
)

// CheckResult is one line of the doctor report
type CheckResult struct {
	Name       string
	Healthy    bool
	Message    string
	Suggestion string
}

// STSClientAPI is the STS call doctor makes. This allows for mocking in tests
type STSClientAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// newSTSClient builds the STS client for doctor. Tests replace it.
var newSTSClient = func(ctx context.Context, opts awsclient.Options) (STSClientAPI, error) {
	cfg, err := awsclient.LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	return awsclient.STS(cfg, opts), nil
}

// NewDoctorCommand creates the doctor command
func NewDoctorCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor [secret-id...]",
		Short: "Check configuration, credentials and secrets",
		Long: `Verify that the rotator can do its job.

This command checks:
- Configuration file validity
- AWS credentials (STS GetCallerIdentity) when the store is Secrets Manager
- For each secret given: that it exists, has rotation enabled and has exactly
  one AWSCURRENT version`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg.Logger.Info("Checking rotator configuration...")
			if err := cfg.Load(); err != nil {
				cfg.Logger.Error("Configuration error: %v", err)
				return fmt.Errorf("failed to load config: %w", err)
			}

			var results []CheckResult
			results = append(results, CheckResult{Name: "config", Healthy: true, Message: fmt.Sprintf("store %s, target %s", cfg.Settings.Store.Type, cfg.Settings.Target.Type)})

			if cfg.Settings.Store.Type == config.StoreSecretsManager {
				results = append(results, checkIdentity(ctx, cfg.Settings.AWSOptions()))
			}

			store, err := storeRegistry.CreateSecretStore(ctx, cfg.Settings, cfg.Logger)
			if err != nil {
				results = append(results, CheckResult{Name: "store", Message: err.Error(), Suggestion: dserrors.Suggestion(err)})
			} else {
				for _, secretID := range args {
					results = append(results, checkSecret(ctx, store, secretID))
				}
			}

			printCheckResults(out, results)

			healthy := 0
			for _, result := range results {
				if result.Healthy {
					healthy++
				}
			}
			if healthy != len(results) {
				return fmt.Errorf("%d of %d checks failed", len(results)-healthy, len(results))
			}
			_, _ = fmt.Fprintf(out, "\nAll %d checks passed\n", len(results))
			return nil
		},
	}

	return cmd
}

func checkIdentity(ctx context.Context, opts awsclient.Options) CheckResult {
	result := CheckResult{Name: "aws credentials"}

	client, err := newSTSClient(ctx, opts)
	if err != nil {
		result.Message = err.Error()
		result.Suggestion = dserrors.Suggestion(err)
		return result
	}

	identity, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		result.Message = err.Error()
		result.Suggestion = "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		return result
	}

	result.Healthy = true
	result.Message = aws.ToString(identity.Arn)
	return result
}

func checkSecret(ctx context.Context, store rotation.SecretStore, secretID string) CheckResult {
	result := CheckResult{Name: "secret " + secretID}

	meta, err := store.DescribeSecret(ctx, secretID)
	if err != nil {
		result.Message = err.Error()
		result.Suggestion = dserrors.Suggestion(err)
		return result
	}

	if !meta.RotationEnabled {
		result.Message = "rotation is not enabled"
		result.Suggestion = dserrors.Suggestion(rotation.ErrRotationDisabled)
		return result
	}

	current := 0
	for id := range meta.Versions {
		if meta.HasStage(id, rotation.StageCurrent) {
			current++
		}
	}
	if current != 1 {
		result.Message = fmt.Sprintf("%d versions labeled AWSCURRENT", current)
		result.Suggestion = "Repair the stage labels with 'aws secretsmanager update-secret-version-stage'"
		return result
	}

	result.Healthy = true
	result.Message = fmt.Sprintf("rotation enabled, AWSCURRENT is %s", meta.VersionWithStage(rotation.StageCurrent))
	if pending := meta.VersionWithStage(rotation.StagePending); pending != "" {
		result.Message += fmt.Sprintf(", rotation %s in flight", pending)
	}
	return result
}

func printCheckResults(out io.Writer, results []CheckResult) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "CHECK\tSTATUS\tDETAILS")
	_, _ = fmt.Fprintln(w, "-----\t------\t-------")
	for _, r := range results {
		status := "✅ ok"
		if !r.Healthy {
			status = "❌ failed"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, status, r.Message)
		if r.Suggestion != "" {
			_, _ = fmt.Fprintf(w, "  └─ 💡 %s\t\t\n", r.Suggestion)
		}
	}
	_ = w.Flush()
}
