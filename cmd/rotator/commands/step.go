package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/pkg/rotation"
)

// NewStepCommand creates the step command
func NewStepCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "step <secret-id> <token> <step>",
		Short: "Run one rotation step",
		Long: `Run a single rotation step for a secret version, exactly as the rotation
function would when Secrets Manager delivers the event.

Steps are createSecret, setSecret, testSecret and finishSecret. Every step can
be repeated safely: a step that already succeeded for the token does nothing,
and a token whose version is already AWSCURRENT short-circuits all steps.`,
		Example: `  # Retry a failed testSecret by hand
  rotator step app/db 3f1c2b9e-7d4a-4a8e-9c55-0f3e1d2a6b7c testSecret

  # Against LocalStack
  ROTATOR_ENDPOINT=http://localhost:4566 rotator step app/db $TOKEN finishSecret`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := rotation.ParseStep(args[2])
			if err != nil {
				return dserrors.StepFailure(err)
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			coordinator, target, err := newCoordinator(cmd.Context(), cfg, store)
			if err != nil {
				return err
			}
			defer target.Close()

			ctx, cancel := stepContext(cmd.Context(), cfg.Settings)
			defer cancel()

			req := rotation.Request{SecretID: args[0], Token: args[1], Step: step}
			if err := coordinator.HandleStep(ctx, req); err != nil {
				return dserrors.StepFailure(err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s completed for %s version %s\n", step, req.SecretID, req.Token)
			return nil
		},
	}

	return cmd
}
