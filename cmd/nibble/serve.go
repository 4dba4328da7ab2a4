package main

import (
	"fmt"
	"os"

	"github.com/artpar/nibble/bootstrap"
	"github.com/artpar/nibble/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the billing service",
	Long: `Start the nibble billing service.

The service will:
  - Load configuration from nibble.yaml (or --config)
  - Or load configuration from NIBBLE_* environment variables
  - Connect to the balance store (redis, sqlite or memory)
  - Serve the operator API and Prometheus metrics
  - Bill registered sessions on every heartbeat

Threshold and heartbeat settings reload on config file changes and on
SIGHUP without a restart.

Environment variables (for container deployments):
  NIBBLE_BALANCE_DRIVER     - Balance store: redis, sqlite or memory
  NIBBLE_BALANCE_HOST       - Redis host (default: 127.0.0.1)
  NIBBLE_SERVER_PORT        - Operator API port (default: 8080)
  NIBBLE_LOG_LEVEL          - Log level: debug, info, warn, error

Examples:
  nibble serve
  nibble serve --config /etc/nibble/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var app *bootstrap.App
	var err error

	if _, statErr := os.Stat(cfgFile); statErr == nil {
		// Config file present: hot reload via fsnotify and SIGHUP.
		app, err = bootstrap.New(cfgFile)
	} else {
		cfg, loadErr := config.LoadFromEnv()
		if loadErr != nil {
			return fmt.Errorf("error loading config: %w", loadErr)
		}
		fmt.Println("Running with environment variables (no config file)")
		app, err = bootstrap.NewFromConfig(cfg, bootstrap.Options{})
	}
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
