// Package commands provides the toolgate CLI commands.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/toolgate/internal/config"
	"github.com/opencode-ai/toolgate/internal/logging"
	"github.com/opencode-ai/toolgate/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel   string
	prettyLogs bool
	logFile    string
	configPath string
)

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "toolgate - conversational tool gateway with user-approved tool calls",
	Long: `toolgate connects a reasoning backend to tools served by MCP providers.
Every tool call the backend requests is held until the user approves it.

Run 'toolgate serve' to start the HTTP server, 'toolgate tools' to inspect
the tool catalog, or 'toolgate ask' to talk to a running server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		closer, err := logging.Init(logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: os.Stderr,
			Pretty: prettyLogs,
			File:   logFile,
		})
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Human-readable console logs")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Provider config file (default config/mcp-config.json)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("toolgate %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves configuration for the current directory and the
// --config flag. A --log-level given on the command line wins over the
// configured one.
func loadConfig(cmd *cobra.Command) (*types.Config, error) {
	cfg, err := config.Load(config.Options{ProviderFile: configPath})
	if err != nil {
		return nil, err
	}
	if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
		logging.SetLevel(logging.ParseLevel(cfg.LogLevel))
	}
	return cfg, nil
}
