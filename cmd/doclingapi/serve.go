package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vivek1240/docling-api/bootstrap"
	"github.com/vivek1240/docling-api/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the metering server",
	Long: `Start the doclingapi server.

The server will:
  - Load configuration from docling-api.yaml (or --config)
  - Or load configuration from DOCAPI_* environment variables
  - Connect to the database
  - Forward conversion requests to the docling backend
  - Apply authentication, rate limiting, and credit metering

Environment variables (for Docker deployments):
  DOCAPI_BACKEND_URL        - Conversion backend URL (required)
  DOCAPI_DATABASE_DSN       - Database path (default: docling-api.db)
  DOCAPI_SERVER_PORT        - Server port (default: 8080)
  DOCAPI_ADMIN_TOKEN        - Token for the key management API
  DOCAPI_LOG_LEVEL          - Log level: debug, info, warn, error

Examples:
  doclingapi serve
  doclingapi serve --config /etc/doclingapi/config.yaml

  # Docker (env vars only):
  DOCAPI_BACKEND_URL=http://docling:5001 doclingapi serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s\n", cfgFile)
		fmt.Println("Option 2: Set DOCAPI_BACKEND_URL environment variable")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  DOCAPI_BACKEND_URL=http://docling:5001 doclingapi serve")
		return nil
	}

	opts := bootstrap.Options{}
	if hasConfigFile {
		opts.ConfigPath = cfgFile
	} else {
		fmt.Println("Running with environment variables (no config file)")
	}

	app, err := bootstrap.New(opts)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
