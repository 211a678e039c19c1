package cli

import (
	"os"

	"github.com/BrotherOrange/PlayForge/internal/config"
	"github.com/BrotherOrange/PlayForge/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	logJSON  bool

	// resolved by the root command before any subcommand runs
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playforge",
		Short: "PlayForge, a multi-agent game design studio",
		Long: "PlayForge runs teams of model-backed game design agents. A lead designer " +
			"delegates to specialist sub-agents and streams its answers over HTTP, SSE and WebSocket.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if paths, err = config.ResolvePaths(); err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			log, err = consoleLogger(cmd)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.playforge/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "console log level (trace, debug, info, warn, error, fatal, silent); env PLAYFORGE_LOG_LEVEL")
	cmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write console logs as JSON lines")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newGatewayCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMessageCmd())
	cmd.AddCommand(newAgentCmd())

	return cmd
}

// consoleLogger builds the stderr logger used until a command opens its
// own sinks from the config file.
func consoleLogger(cmd *cobra.Command) (*logging.Logger, error) {
	level := consoleLevel("info")
	style := "pretty"
	if logJSON {
		style = "json"
	}
	l, _, err := logging.Open(logging.Options{
		Level:        level,
		ConsoleStyle: style,
		Console:      cmd.ErrOrStderr(),
	})
	return l, err
}

// consoleLevel resolves the console level: --log-level, then
// PLAYFORGE_LOG_LEVEL, then fallback.
func consoleLevel(fallback string) string {
	if logLevel != "" {
		return logLevel
	}
	if env := os.Getenv("PLAYFORGE_LOG_LEVEL"); env != "" {
		return env
	}
	return fallback
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
