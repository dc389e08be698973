package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/journal"
	"github.com/systmms/rotator/pkg/rotation"
	"gopkg.in/yaml.v3"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand(cfg *config.Config) *cobra.Command {
	var (
		limit     int
		format    string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history [secret-id]",
		Short: "Show rotation steps handled on this machine",
		Long: `Show the local journal of rotation steps run by 'rotator step', 'simulate'
and 'serve', newest first. The journal lives in journal.dir
($ROTATOR_JOURNAL_DIR or ~/.local/share/rotator/journal).

--prune removes entries older than the given duration instead.`,
		Example: `  rotator history
  rotator history app/db --limit 20 --format json
  rotator history --prune 720h`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Load(); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			j := openJournal(cfg)

			if olderThan > 0 {
				removed, err := j.Cleanup(olderThan, time.Now())
				if err != nil {
					return fmt.Errorf("failed to prune journal: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries older than %s\n", removed, olderThan)
				return nil
			}

			var (
				entries []journal.Entry
				err     error
			)
			if len(args) > 0 {
				entries, err = j.History(args[0], limit)
			} else {
				entries, err = j.All(limit)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			case "yaml":
				return yaml.NewEncoder(out).Encode(entries)
			case "table":
				return printHistoryTable(out, entries)
			default:
				return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries (0 for all)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	cmd.Flags().DurationVar(&olderThan, "prune", 0, "Remove entries older than this duration")

	return cmd
}

func printHistoryTable(out io.Writer, entries []journal.Entry) error {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "No rotation steps recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tSECRET\tTOKEN\tSTEP\tOUTCOME\tDURATION")
	_, _ = fmt.Fprintln(w, "----\t------\t-----\t----\t-------\t--------")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.SecretID,
			shortToken(e.Token),
			e.Step,
			formatOutcome(e.Outcome),
			e.Duration.Round(time.Millisecond),
		)
		if e.Error != "" {
			_, _ = fmt.Fprintf(w, "  └─ Error: %s\t\t\t\t\t\n", e.Error)
		}
	}
	return w.Flush()
}

func formatOutcome(outcome rotation.Outcome) string {
	switch outcome {
	case rotation.OutcomeCompleted:
		return "✅ completed"
	case rotation.OutcomeSkipped:
		return "⏭ skipped"
	case rotation.OutcomeFailed:
		return "❌ failed"
	default:
		return string(outcome)
	}
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
