package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vivek1240/docling-api/domain/account"
	"github.com/vivek1240/docling-api/ports"
)

// AccountStore implements ports.AccountStore using SQLite.
type AccountStore struct {
	db *DB
}

// NewAccountStore creates a new SQLite account store.
func NewAccountStore(db *DB) *AccountStore {
	return &AccountStore{db: db}
}

const accountColumns = `id, key_id, key_digest, name, tier, credits, credits_used,
	documents_processed, pages_processed, is_active, stripe_customer_id,
	stripe_subscription_id, created_at, last_used`

// Create stores a new account.
func (s *AccountStore) Create(ctx context.Context, a account.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.KeyID, a.KeyDigest, a.Name, a.Tier, a.Credits, a.CreditsUsed,
		a.DocumentsProcessed, a.PagesProcessed, a.IsActive,
		nullString(a.StripeCustomerID), nullString(a.StripeSubscriptionID),
		a.CreatedAt, nullTime(a.LastUsed))
	return err
}

// GetByKeyID retrieves an account by its public key id.
func (s *AccountStore) GetByKeyID(ctx context.Context, keyID string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE key_id = ?
	`, keyID)
	return scanAccountRow(row)
}

// GetByDigest retrieves an account by credential digest.
func (s *AccountStore) GetByDigest(ctx context.Context, digest string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE key_digest = ?
	`, digest)
	return scanAccountRow(row)
}

// GetByStripeCustomer retrieves an account by Stripe customer id.
func (s *AccountStore) GetByStripeCustomer(ctx context.Context, customerID string) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = ?
	`, customerID)
	return scanAccountRow(row)
}

// List returns all accounts, newest first.
func (s *AccountStore) List(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []account.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Deactivate marks an account inactive.
func (s *AccountStore) Deactivate(ctx context.Context, keyID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = 0 WHERE key_id = ?
	`, keyID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastUsed updates the last used timestamp.
func (s *AccountStore) UpdateLastUsed(ctx context.Context, keyID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET last_used = ? WHERE key_id = ?
	`, at, keyID)
	return err
}

// UpdateStripeInfo sets the Stripe customer and subscription ids.
func (s *AccountStore) UpdateStripeInfo(ctx context.Context, accountID, customerID, subscriptionID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET stripe_customer_id = ?, stripe_subscription_id = ? WHERE id = ?
	`, nullString(customerID), nullString(subscriptionID), accountID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type accountScanner interface {
	Scan(dest ...any) error
}

func scanAccountFrom(sc accountScanner) (account.Account, error) {
	var a account.Account
	var customerID, subscriptionID sql.NullString
	var lastUsed sql.NullTime

	err := sc.Scan(
		&a.ID, &a.KeyID, &a.KeyDigest, &a.Name, &a.Tier, &a.Credits, &a.CreditsUsed,
		&a.DocumentsProcessed, &a.PagesProcessed, &a.IsActive,
		&customerID, &subscriptionID, &a.CreatedAt, &lastUsed,
	)
	if err != nil {
		return account.Account{}, err
	}

	a.StripeCustomerID = customerID.String
	a.StripeSubscriptionID = subscriptionID.String
	if lastUsed.Valid {
		a.LastUsed = &lastUsed.Time
	}

	return a, nil
}

func scanAccount(rows *sql.Rows) (account.Account, error) {
	return scanAccountFrom(rows)
}

func scanAccountRow(row *sql.Row) (account.Account, error) {
	a, err := scanAccountFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, ErrNotFound
	}
	return a, err
}

// Ensure interface compliance.
var _ ports.AccountStore = (*AccountStore)(nil)
