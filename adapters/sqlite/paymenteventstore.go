package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vivek1240/docling-api/ports"
)

// PaymentEventStore implements ports.PaymentEventStore using SQLite.
// The processed-event insert shares a transaction with the credit mutation,
// so a replayed event id can never apply its grant twice.
type PaymentEventStore struct {
	db *DB
}

// NewPaymentEventStore creates a new SQLite payment event store.
func NewPaymentEventStore(db *DB) *PaymentEventStore {
	return &PaymentEventStore{db: db}
}

// Process applies the mutation and records the event id atomically.
// Returns ports.ErrDuplicateEvent for an already-processed event id.
func (s *PaymentEventStore) Process(ctx context.Context, eventID, eventType string, m ports.EventMutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment event: %w", err)
	}
	defer tx.Rollback()

	// The event id is the primary key. Inserting it first makes the
	// constraint violation abort the whole transaction before any grant.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_events (event_id, event_type, processed_at)
		VALUES (?, ?, ?)
	`, eventID, eventType, time.Now().UTC())
	if err != nil {
		if isUniqueConstraintError(err) {
			return ports.ErrDuplicateEvent
		}
		return fmt.Errorf("record payment event: %w", err)
	}

	if m.GrantAccountID != "" && m.GrantCredits > 0 {
		result, err := tx.ExecContext(ctx, `
			UPDATE accounts SET credits = credits + ? WHERE id = ?
		`, m.GrantCredits, m.GrantAccountID)
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
	}

	if m.ClearSubAccountID != "" {
		if _, err := tx.ExecContext(ctx, `
			UPDATE accounts SET stripe_subscription_id = NULL WHERE id = ?
		`, m.ClearSubAccountID); err != nil {
			return fmt.Errorf("clear subscription: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment event: %w", err)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "unique constraint"))
}

// Ensure interface compliance.
var _ ports.PaymentEventStore = (*PaymentEventStore)(nil)
