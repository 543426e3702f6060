package main

import (
	"os"

	"github.com/vikashloomba/mcp-studio-go/cmd/mcp-studio/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
