package main

import (
	"os"

	"github.com/obot-platform/zoo-mcp-auth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
