// Command verity runs the data quality platform: the HTTP API, the automation
// orchestrator, and the notification dispatcher, selected by the SERVICES
// environment variable.
package main

import (
	"context"
	"os"

	"github.com/verity-dq/verity/internal/bootstrap"
)

func main() {
	logger := bootstrap.InitLogger()

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := bootstrap.Run(context.Background(), &cfg, logger); err != nil {
		logger.Error("service exited with error", "error", err)
		os.Exit(1)
	}
}
