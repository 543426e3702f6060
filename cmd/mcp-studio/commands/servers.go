package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-studio-go/internal/config"
	"github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"
)

func NewServersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage stored MCP server configurations",
	}
	cmd.AddCommand(newServersListCmd(), newServersAddCmd(), newServersRemoveCmd())
	return cmd
}

func newServersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			m, _ := newManager(cmd.Context(), cfg, runtimeOptions{})

			servers := m.Servers()
			out := cmd.OutOrStdout()
			if len(servers) == 0 {
				fmt.Fprintln(out, "No servers configured. Add one with 'mcp-studio servers add'.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTRANSPORT\tTARGET")
			for _, s := range servers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Config.DisplayName(), mcpmgr.TransportOf(s.Config), target(s.Config))
			}
			return w.Flush()
		},
	}
}

func target(cfg mcpmgr.ServerConfig) string {
	if c, ok := mcpmgr.AsStdio(cfg); ok {
		return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
	}
	return mcpmgr.RemoteURL(cfg)
}

type addFlags struct {
	id          string
	name        string
	description string
	transport   string
	command     string
	args        []string
	env         map[string]string
	url         string
	headers     map[string]string
}

func (f addFlags) serverConfig() (mcpmgr.ServerConfig, error) {
	kind, ok := mcpmgr.ParseTransport(f.transport)
	if !ok {
		return mcpmgr.ServerConfig{}, fmt.Errorf("unknown transport %q (want stdio, sse or http)", f.transport)
	}
	cfg := mcpmgr.ServerConfig{ID: f.id, Name: f.name, Description: f.description}
	if cfg.ID == "" {
		cfg.ID = ulid.Make().String()
	}
	switch kind {
	case mcpmgr.TransportStdio:
		cfg.Transport = &mcpmgr.StdioConfig{Command: f.command, Args: f.args, Env: f.env}
	case mcpmgr.TransportSSE:
		cfg.Transport = &mcpmgr.SSEConfig{URL: f.url, Headers: f.headers}
	case mcpmgr.TransportHTTP:
		cfg.Transport = &mcpmgr.HTTPConfig{URL: f.url, Headers: f.headers}
	}
	return cfg, nil
}

func newServersAddCmd() *cobra.Command {
	var f addFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a server configuration",
		Example: `  mcp-studio servers add --name everything --command npx --arg -y --arg @modelcontextprotocol/server-everything
  mcp-studio servers add --name docs --transport http --url https://gitmcp.io/modelcontextprotocol/go-sdk`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			server, err := f.serverConfig()
			if err != nil {
				return err
			}
			m, store := newManager(cmd.Context(), cfg, runtimeOptions{})
			if err := m.AddServer(cmd.Context(), server); err != nil {
				return err
			}
			if err := store.lastErr(); err != nil {
				return fmt.Errorf("failed to save servers to %s: %w", store.Path(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", server.DisplayName(), server.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.id, "id", "", "Server ID (generated when empty)")
	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().StringVar(&f.description, "description", "", "Free-form description")
	cmd.Flags().StringVar(&f.transport, "transport", "stdio", "Transport kind (stdio|sse|http)")
	cmd.Flags().StringVar(&f.command, "command", "", "Executable for stdio servers")
	cmd.Flags().StringArrayVar(&f.args, "arg", nil, "Argument for stdio servers (repeatable)")
	cmd.Flags().StringToStringVar(&f.env, "env", nil, "Environment variable KEY=VALUE for stdio servers")
	cmd.Flags().StringVar(&f.url, "url", "", "Endpoint URL for sse and http servers")
	cmd.Flags().StringToStringVar(&f.headers, "header", nil, "HTTP header NAME=VALUE for sse and http servers")
	return cmd
}

func newServersRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a server configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			m, store := newManager(cmd.Context(), cfg, runtimeOptions{})
			if err := m.RemoveServer(cmd.Context(), args[0]); err != nil {
				return err
			}
			if err := store.lastErr(); err != nil {
				return fmt.Errorf("failed to save servers to %s: %w", store.Path(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}
