package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vivek1240/docling-api/adapters/sqlite"
	"github.com/vivek1240/docling-api/config"
)

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the doclingapi configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Backend is reachable (optional)
  - Database is writable (optional)

Examples:
  doclingapi validate
  doclingapi validate --config /etc/doclingapi/config.yaml`,
	RunE: runValidate,
}

var (
	validateCheckBackend  bool
	validateCheckDatabase bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckBackend, "check-backend", false, "check if the conversion backend is reachable")
	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)
	fmt.Printf("  %s Required fields present\n", checkMark)

	if validateCheckBackend {
		if err := checkBackend(cfg.Backend.URL); err != nil {
			fmt.Printf("  %s Backend reachable\n", crossMark)
			return fmt.Errorf("backend check failed: %w", err)
		}
		fmt.Printf("  %s Backend reachable\n", checkMark)
	}

	if validateCheckDatabase {
		if err := checkDatabase(cfg.Database.DSN); err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			return fmt.Errorf("database check failed: %w", err)
		}
		fmt.Printf("  %s Database writable\n", checkMark)
	}

	fmt.Println()
	fmt.Println("Configuration valid")
	fmt.Printf("  Backend:  %s\n", cfg.Backend.URL)
	fmt.Printf("  Database: %s\n", cfg.Database.DSN)
	fmt.Printf("  Billing:  %s\n", cfg.Billing.Provider)
	fmt.Printf("  Pricing:  %d credit(s)/page, %d minimum/document\n",
		cfg.Pricing.CreditsPerPage, cfg.Pricing.MinCreditsPerDocument)

	return nil
}

func checkBackend(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}

func checkDatabase(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Migrate()
}
