package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/pkg/rotation"
	"gopkg.in/yaml.v3"
)

// SecretStatus is the machine readable output of 'rotator status'
type SecretStatus struct {
	ARN             string          `json:"arn" yaml:"arn"`
	Name            string          `json:"name" yaml:"name"`
	RotationEnabled bool            `json:"rotation_enabled" yaml:"rotation_enabled"`
	Versions        []VersionStatus `json:"versions" yaml:"versions"`
}

// VersionStatus lists the stages of one version
type VersionStatus struct {
	ID     string   `json:"id" yaml:"id"`
	Stages []string `json:"stages" yaml:"stages"`
}

// NewStatusCommand creates the status command
func NewStatusCommand(cfg *config.Config) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status <secret-id>",
		Short: "Show the versions and stage labels of a secret",
		Long: `Describe a secret and list its versions with their stage labels.

An in-flight rotation shows up as a version labeled AWSPENDING next to the
AWSCURRENT one. Exactly one version is AWSCURRENT at any time.`,
		Example: `  rotator status app/db
  rotator status app/db --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			meta, err := store.DescribeSecret(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to describe %s: %w", args[0], err)
			}

			status := statusOf(meta)
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			case "yaml":
				return yaml.NewEncoder(out).Encode(status)
			case "table":
				return printStatusTable(out, status)
			default:
				return fmt.Errorf("unknown format %q (use table, json or yaml)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")

	return cmd
}

func statusOf(meta *rotation.Metadata) SecretStatus {
	status := SecretStatus{
		ARN:             meta.ARN,
		Name:            meta.Name,
		RotationEnabled: meta.RotationEnabled,
		Versions:        []VersionStatus{},
	}
	for id, stages := range meta.Versions {
		names := make([]string, len(stages))
		for i, stage := range stages {
			names[i] = string(stage)
		}
		sort.Strings(names)
		status.Versions = append(status.Versions, VersionStatus{ID: id, Stages: names})
	}

	// AWSCURRENT first, then AWSPENDING, then everything else by id
	rank := func(v VersionStatus) int {
		for _, s := range v.Stages {
			if s == string(rotation.StageCurrent) {
				return 0
			}
		}
		for _, s := range v.Stages {
			if s == string(rotation.StagePending) {
				return 1
			}
		}
		return 2
	}
	sort.Slice(status.Versions, func(i, j int) bool {
		ri, rj := rank(status.Versions[i]), rank(status.Versions[j])
		if ri != rj {
			return ri < rj
		}
		return status.Versions[i].ID < status.Versions[j].ID
	})
	return status
}

func printStatusTable(out io.Writer, status SecretStatus) error {
	name := status.Name
	if name == "" {
		name = status.ARN
	}
	enabled := "disabled"
	if status.RotationEnabled {
		enabled = "enabled"
	}
	_, _ = fmt.Fprintf(out, "%s (rotation %s)\n", name, enabled)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tSTAGES")
	_, _ = fmt.Fprintln(w, "-------\t------")
	for _, v := range status.Versions {
		stages := "-"
		if len(v.Stages) > 0 {
			stages = fmt.Sprint(v.Stages)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", v.ID, stages)
	}
	return w.Flush()
}
