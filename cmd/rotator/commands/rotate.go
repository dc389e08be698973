package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
)

// NewRotateCommand creates the rotate command
func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "rotate <secret-id>",
		Short: "Start a rotation attempt",
		Long: `Ask the secret store to start a rotation now. Secrets Manager creates the
AWSPENDING placeholder for the new token and delivers the four steps to the
secret's rotation function.

The token names the new version. A random UUID is used unless --token is set;
reusing a token resumes the same attempt instead of starting another one.`,
		Example: `  rotator rotate app/db
  rotator rotate app/db --token 3f1c2b9e-7d4a-4a8e-9c55-0f3e1d2a6b7c`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			if token == "" {
				token = uuid.NewString()
			}

			ctx, cancel := stepContext(cmd.Context(), cfg.Settings)
			defer cancel()

			if err := store.StartRotation(ctx, args[0], token); err != nil {
				return fmt.Errorf("failed to start rotation of %s: %w", args[0], err)
			}

			cfg.Logger.Info("Started rotation of %s", args[0])
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Client request token for the new version (default: random UUID)")

	return cmd
}
