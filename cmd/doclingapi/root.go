package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "doclingapi",
	Short: "Metered document conversion API with API keys, credits, and billing",
	Long: `doclingapi is a commercial metering layer for a document
conversion backend.

It authenticates requests with API keys, charges prepaid credits per
converted page, rate limits each key, and reconciles credit purchases
from Stripe webhooks.

Quick start:
  doclingapi serve             # Start the server
  doclingapi keys create       # Issue an API key

Management:
  doclingapi keys       # Manage API keys and credits
  doclingapi validate   # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "docling-api.yaml", "config file path")
}
