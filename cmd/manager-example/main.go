package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vikashloomba/mcp-studio-go/pkg/mcpmgr"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	manager := mcpmgr.NewManager(ctx, nil, &mcpmgr.ManagerOptions{
		Logger:         logger,
		ConnectTimeout: 10 * time.Second,
	})
	defer manager.Cleanup(ctx)

	err := manager.AddServer(ctx, mcpmgr.ServerConfig{
		ID:        "example-stdio",
		Name:      "Example",
		Transport: &mcpmgr.StdioConfig{Command: "./my-mcp-server", Args: []string{"--serve"}},
	})
	if err != nil {
		fmt.Printf("add error: %v\n", err)
		return
	}

	if err := manager.Connect(ctx, "example-stdio"); err != nil {
		fmt.Printf("connect error: %v\n", err)
	}
	for _, summary := range manager.Servers() {
		fmt.Printf("Configured server: %s\n", summary.ID)
		fmt.Printf("Status: %s\n", summary.State)
		if summary.Error != "" {
			fmt.Printf("Error: %s\n", summary.Error)
		}
	}

	for e := range manager.Log().Query(mcpmgr.Filter{MinSeverity: mcpmgr.SeverityInfo}) {
		fmt.Printf("%s [%s] %s: %s\n", e.Timestamp.Format(time.TimeOnly), e.Severity, e.ServerID, e.Message)
	}
}
