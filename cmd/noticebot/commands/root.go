// Package commands defines all Cobra CLI commands for the noticebot binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/opennotice/noticebot/internal/audit"
	"github.com/opennotice/noticebot/internal/config"
	"github.com/opennotice/noticebot/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "noticebot",
		Short: "Noticebot — a question-answering assistant over official notices",
		Long: `Noticebot ingests official notices (exams, fees, holidays, events and more),
keeps them versioned and indexed, and answers natural language questions
about them with citations back to the source notices.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.noticebot/config.yaml).
See 'noticebot --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.noticebot/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewRebuildCmd(),
		NewPruneCmd(),
		NewVersionCmd(),
	)

	return root
}
