package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/vikashloomba/mcp-studio-go/internal/config"
	mcpgateway "github.com/vikashloomba/mcp-studio-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-studio-go/pkg/studioapi"
)

func NewServeCmd() *cobra.Command {
	var (
		addr        string
		autoConnect bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connection manager behind the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if addr == "" {
				addr = cfg.API.Addr()
			}
			if cmd.Flags().Changed("auto-connect") {
				cfg.Manager.AutoConnect = autoConnect
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides api.host and api.port)")
	cmd.Flags().BoolVar(&autoConnect, "auto-connect", false, "Connect to every stored server on startup")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var tp trace.TracerProvider
	if cfg.Tracing.Enabled {
		sdkTP, shutdown, err := initTracer(os.Stderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() { _ = shutdown(context.Background()) }()
		tp = sdkTP
	}

	// The gateway is built after the manager, so list-change callbacks from
	// the binder reach it through this variable.
	var gw atomic.Pointer[mcpgateway.Gateway]
	m, _ := newManager(ctx, cfg, runtimeOptions{
		autoConnect:    cfg.Manager.AutoConnect,
		metrics:        mcpmgr.NewMetrics(reg),
		tracerProvider: tp,
		listChanged: func(serverID, feature string) {
			if g := gw.Load(); g != nil {
				g.ListChanged(serverID, feature)
			}
		},
	})
	defer m.Cleanup(context.Background())

	apiOpts := &studioapi.Options{
		Addr:           addr,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Gatherer:       reg,
		Logger:         slog.Default(),
	}
	if cfg.API.MCPGateway {
		g, err := mcpgateway.New(ctx, m, &mcpgateway.Options{Logger: slog.Default()})
		if err != nil {
			return fmt.Errorf("init mcp gateway: %w", err)
		}
		gw.Store(g)
		apiOpts.MCPHandler = g.Handler()
	}

	api, err := studioapi.New(m, apiOpts)
	if err != nil {
		return err
	}

	slog.Info("mcp-studio starting", "addr", addr, "servers", len(m.ListServers()), "store", cfg.Store.Path)
	if err := api.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("mcp-studio stopped")
	return nil
}
