package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vivek1240/docling-api/domain/usage"
	"github.com/vivek1240/docling-api/ports"
)

// Ledger implements ports.Ledger using SQLite.
// Deductions and their usage events commit in a single transaction, and the
// conditional update guarantees the balance never goes negative.
type Ledger struct {
	db *DB
}

// NewLedger creates a new SQLite ledger.
func NewLedger(db *DB) *Ledger {
	return &Ledger{db: db}
}

// TryDeduct deducts ev.Credits from the account and records the usage event
// atomically. Returns ports.ErrInsufficientCredits without writing anything
// when the balance cannot cover the charge.
func (l *Ledger) TryDeduct(ctx context.Context, accountID string, ev usage.Event) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deduct: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET
			credits = credits - ?,
			credits_used = credits_used + ?,
			documents_processed = documents_processed + ?,
			pages_processed = pages_processed + ?
		WHERE id = ? AND credits >= ?
	`, ev.Credits, ev.Credits, ev.Documents, ev.Pages, accountID, ev.Credits)
	if err != nil {
		return fmt.Errorf("deduct credits: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the account is missing or the balance is too low.
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, accountID).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ports.ErrInsufficientCredits
	}

	if err := insertUsageEvent(ctx, tx, ev); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deduct: %w", err)
	}
	return nil
}

// Grant atomically adds credits to the account balance.
func (l *Ledger) Grant(ctx context.Context, accountID string, credits int64) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE accounts SET credits = credits + ? WHERE id = ?
	`, credits, accountID)
	if err != nil {
		return fmt.Errorf("grant credits: %w", err)
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

// execer covers *sql.Tx and *sql.DB for shared insert helpers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUsageEvent(ctx context.Context, e execer, ev usage.Event) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO usage_events (account_id, request_id, endpoint, documents,
			pages, credits, processing_time_ms, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.AccountID, ev.RequestID, ev.Endpoint, ev.Documents, ev.Pages,
		ev.Credits, ev.ProcessingTimeMs, ev.Status, nullString(ev.ErrorMessage), ev.CreatedAt)
	return err
}

// Ensure interface compliance.
var _ ports.Ledger = (*Ledger)(nil)
