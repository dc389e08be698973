package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/secretstores/cache"
	"github.com/systmms/rotator/pkg/rotation"
)

// NewGetCommand creates the get command
func NewGetCommand(cfg *config.Config) *cobra.Command {
	var (
		field     string
		versionID string
		stage     string
		reveal    bool
	)

	cmd := &cobra.Command{
		Use:   "get <secret-id>",
		Short: "Read a secret value",
		Long: `Read one version of a secret through the read cache.

Without --field the whole value is printed as JSON with the password
redacted; --reveal prints it in clear. With --field only that field is
printed, which is how scripts should consume it.

Reads may be up to cache.ttl stale. Rotation steps never read through this
cache.`,
		Example: `  rotator get app/db --field host
  rotator get app/db --stage AWSPENDING
  rotator get app/db --version 3f1c2b9e-7d4a-4a8e-9c55-0f3e1d2a6b7c --reveal`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			ttl, err := cfg.Settings.CacheTTL()
			if err != nil {
				return err
			}
			cached := cache.New(store, cache.WithTTL(ttl))

			value, err := cached.GetSecretValue(cmd.Context(), args[0], versionID, rotation.Stage(stage))
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			hits, misses := cached.Stats()
			cfg.Logger.Debug("Cache: %d hits, %d misses, ttl %s", hits, misses, cached.TTL())

			out := cmd.OutOrStdout()
			if field != "" {
				if _, ok := value[field]; !ok {
					return fmt.Errorf("secret %s has no field %q (fields: %v)", args[0], field, value.Fields())
				}
				_, _ = fmt.Fprintln(out, value.String(field))
				return nil
			}

			display := value.Clone()
			if !reveal {
				if _, ok := display[rotation.FieldPassword]; ok {
					display[rotation.FieldPassword] = logging.Secret(value.Password())
				}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(display)
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Print a single field of the value")
	cmd.Flags().StringVar(&versionID, "version", "", "Version id to read")
	cmd.Flags().StringVar(&stage, "stage", "", "Stage label to read (default AWSCURRENT when no version is given)")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the password in clear")

	return cmd
}
