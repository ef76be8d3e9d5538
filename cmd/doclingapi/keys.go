package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vivek1240/docling-api/adapters/clock"
	"github.com/vivek1240/docling-api/adapters/idgen"
	"github.com/vivek1240/docling-api/adapters/sqlite"
	"github.com/vivek1240/docling-api/app"
	"github.com/vivek1240/docling-api/config"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys",
	Long: `Manage doclingapi API keys.

Each key belongs to an account with a prepaid credit balance. The full
key is shown once at creation; only its digest is stored.

Examples:
  doclingapi keys list
  doclingapi keys create --name="Acme Corp" --tier=professional
  doclingapi keys grant dk_abc123 --credits=500
  doclingapi keys revoke dk_abc123`,
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API keys",
	RunE:  runKeysList,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE:  runKeysCreate,
}

var keysGrantCmd = &cobra.Command{
	Use:   "grant <key-id>",
	Short: "Add credits to an account",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysGrant,
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var (
	keyName      string
	keyTier      string
	grantCredits int64
)

func init() {
	rootCmd.AddCommand(keysCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysCreateCmd)
	keysCmd.AddCommand(keysGrantCmd)
	keysCmd.AddCommand(keysRevokeCmd)

	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "account name (required)")
	keysCreateCmd.Flags().StringVar(&keyTier, "tier", "", "pricing tier: starter, professional, business")
	keysCreateCmd.MarkFlagRequired("name")

	keysGrantCmd.Flags().Int64Var(&grantCredits, "credits", 0, "credits to add (required)")
	keysGrantCmd.MarkFlagRequired("credits")
}

func runKeysList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	accounts, err := sqlite.NewAccountStore(db).List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Println("No API keys found.")
		fmt.Println()
		fmt.Println("Create a key with: doclingapi keys create --name=<name>")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY ID\tNAME\tTIER\tCREDITS\tSTATUS\tCREATED")
	fmt.Fprintln(w, "------\t----\t----\t-------\t------\t-------")

	for _, acct := range accounts {
		status := "active"
		if !acct.IsActive {
			status = "revoked"
		}
		created := acct.CreatedAt.Format("2006-01-02")
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", acct.KeyID, acct.Name, acct.Tier, acct.Credits, status, created)
	}

	w.Flush()
	return nil
}

func runKeysCreate(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	svc := newKeyService(db)
	issued, err := svc.Issue(context.Background(), keyName, keyTier)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}

	fmt.Printf("%s Created API key for %s (%s tier, %d credits)\n",
		checkMark, issued.Account.Name, issued.Account.Tier, issued.Account.Credits)
	fmt.Println()
	fmt.Println("API Key (save this, shown once):")
	fmt.Printf("  %s\n", issued.FullKey)
	fmt.Println()
	fmt.Printf("Key ID: %s\n", issued.Account.KeyID)

	return nil
}

func runKeysGrant(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	if grantCredits <= 0 {
		return fmt.Errorf("credits must be positive")
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	acct, err := sqlite.NewAccountStore(db).GetByKeyID(ctx, keyID)
	if err != nil {
		return fmt.Errorf("key not found: %s", keyID)
	}

	if err := sqlite.NewLedger(db).Grant(ctx, acct.ID, grantCredits); err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	fmt.Printf("%s Granted %d credits to %s (balance: %d)\n",
		checkMark, grantCredits, keyID, acct.Credits+grantCredits)
	return nil
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	keyID := args[0]

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	svc := newKeyService(db)

	acct, err := svc.Get(ctx, keyID)
	if err != nil {
		return fmt.Errorf("key not found: %s", keyID)
	}

	if !acct.IsActive {
		fmt.Printf("Key %s is already revoked.\n", keyID)
		return nil
	}

	if !confirm(fmt.Sprintf("Revoke key %s?", keyID)) {
		fmt.Println("Aborted.")
		return nil
	}

	if err := svc.Deactivate(ctx, keyID); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}

	fmt.Printf("%s Revoked key: %s\n", checkMark, keyID)
	return nil
}

func newKeyService(db *sqlite.DB) *app.KeyService {
	return app.NewKeyService(
		sqlite.NewAccountStore(db),
		sqlite.NewUsageStore(db),
		clock.Real{},
		idgen.UUID{},
		zerolog.Nop(),
	)
}

func openDatabase() (*sqlite.DB, error) {
	// Load config to get database path
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

func confirm(message string) bool {
	fmt.Printf("%s [y/N]: ", message)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
