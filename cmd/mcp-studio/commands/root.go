package commands

import (
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-studio-go/internal/config"
)

var (
	configPath       string
	logLevelOverride string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mcp-studio",
		Short:         "MCP Studio - manage and inspect MCP server connections",
		Long:          `mcp-studio keeps a set of MCP server configurations, connects to them over stdio, SSE or Streamable HTTP, and exposes their tools, prompts and resources over a local HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "init" {
				return configureLogger(config.DefaultConfig(), logLevelOverride)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.mcp-studio/config.json)")
	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewServeCmd(),
		NewServersCmd(),
		NewProbeCmd(),
	)

	return cmd
}
