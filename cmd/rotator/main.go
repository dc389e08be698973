package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/cmd/rotator/commands"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/secure"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	err := run()
	secure.Purge()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "rotator",
		Short: "Secrets Manager rotation coordinator",
		Long: `rotator runs the four-step Secrets Manager rotation protocol
(createSecret, setSecret, testSecret, finishSecret) against a database user.

The same coordinator backs the Lambda rotation function; this CLI runs steps
by hand, starts rotations, serves an HTTP trigger and simulates rotations
against local fixtures.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger with parsed flags
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			cfg.Debug = debug
			cfg.NoColor = noColor
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: defaults plus ROTATOR_* environment)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewStepCommand(cfg),
		commands.NewRotateCommand(cfg),
		commands.NewSimulateCommand(cfg),
		commands.NewStatusCommand(cfg),
		commands.NewGetCommand(cfg),
		commands.NewServeCommand(cfg),
		commands.NewHistoryCommand(cfg),
		commands.NewDoctorCommand(cfg),
	)

	return rootCmd.Execute()
}
