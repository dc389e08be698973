package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/secretstores/memory"
	"github.com/systmms/rotator/pkg/rotation"
)

// NewSimulateCommand creates the simulate command
func NewSimulateCommand(cfg *config.Config) *cobra.Command {
	var (
		token  string
		reject bool
		target string
	)

	cmd := &cobra.Command{
		Use:   "simulate <fixture.yaml> <secret-id>",
		Short: "Run a full rotation against a local fixture",
		Long: `Load secrets from a YAML fixture into an in-memory store and run all four
rotation steps for one of them, printing the version stages after each step.

The target defaults to a log-only target that prints what would change. Use
--target sql to rotate a real database user described by the fixture, and
--reject to watch testSecret fail and block finishSecret.`,
		Example: `  rotator simulate testdata/app-db.yaml app/db
  rotator simulate testdata/app-db.yaml app/db --reject`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg.Settings.Target.Type = target
			if reject {
				cfg.Settings.Target.Reject = true
			}

			store, err := memory.LoadFixtureFile(args[0])
			if err != nil {
				return err
			}

			coordinator, tgt, err := newCoordinator(cmd.Context(), cfg, store)
			if err != nil {
				return err
			}
			defer tgt.Close()

			secretID := args[1]
			if token == "" {
				token = uuid.NewString()
			}
			if err := store.StartRotation(cmd.Context(), secretID, token); err != nil {
				return fmt.Errorf("failed to start rotation of %s: %w", secretID, err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Rotating %s with token %s\n\n", secretID, token)

			for _, step := range rotation.Steps() {
				ctx, cancel := stepContext(cmd.Context(), cfg.Settings)
				err := coordinator.HandleStep(ctx, rotation.Request{SecretID: secretID, Token: token, Step: step})
				cancel()

				result := "ok"
				if err != nil {
					result = "FAILED"
				}
				_, _ = fmt.Fprintf(out, "== %s: %s\n", step, result)

				meta, describeErr := store.DescribeSecret(cmd.Context(), secretID)
				if describeErr != nil {
					return describeErr
				}
				if printErr := printStatusTable(out, statusOf(meta)); printErr != nil {
					return printErr
				}
				_, _ = fmt.Fprintln(out)

				if err != nil {
					return dserrors.StepFailure(err)
				}
			}

			_, _ = fmt.Fprintf(out, "Rotation of %s complete\n", secretID)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Client request token for the new version (default: random UUID)")
	cmd.Flags().BoolVar(&reject, "reject", false, "Make the log target reject the pending credential")
	cmd.Flags().StringVar(&target, "target", config.TargetLog, "Target type: log or sql")

	return cmd
}
