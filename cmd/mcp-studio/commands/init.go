package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-studio-go/internal/config"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default mcp-studio configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}
	out := cmd.OutOrStdout()

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "Config already exists: %s\n", path)
		return nil
	}

	cfg := config.DefaultConfig()
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintf(out, "mcp-studio initialized!\n")
	fmt.Fprintf(out, "Config: %s\n", path)
	fmt.Fprintf(out, "Servers: %s\n", cfg.Store.Path)
	fmt.Fprintf(out, "\nNext steps:\n")
	fmt.Fprintf(out, "1. Add a server with 'mcp-studio servers add'\n")
	fmt.Fprintf(out, "2. Run 'mcp-studio serve' to start the API on %s\n", cfg.API.Addr())
	return nil
}
