package main

import (
	"os"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	if os.Getenv("FORDEZ_AUTORESTART") == "1" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
