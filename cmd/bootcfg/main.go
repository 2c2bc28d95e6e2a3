package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/bootcfg/cmd/bootcfg/commands"
	"github.com/systmms/bootcfg/internal/config"
	apperrors "github.com/systmms/bootcfg/internal/errors"
	"github.com/systmms/bootcfg/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", apperrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "bootcfg",
		Short: "Pick one backend per subsystem from the environment",
		Long: `bootcfg resolves which concrete backend serves each application subsystem
(cache, queue, storage, oauth, mail, ...) from environment variables,
runtime capability probes and fallback rules.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewResolveCommand(cfg),
		commands.NewProvidersCommand(cfg),
		commands.NewDoctorCommand(cfg),
		commands.NewEncryptCommand(cfg),
		commands.NewServeCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}
