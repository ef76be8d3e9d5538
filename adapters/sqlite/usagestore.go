package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/vivek1240/docling-api/domain/usage"
	"github.com/vivek1240/docling-api/ports"
)

// MaxStatsEvents caps the number of recent events returned by Stats.
const MaxStatsEvents = 100

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Record stores a usage event outside the deduction path.
func (s *UsageStore) Record(ctx context.Context, ev usage.Event) error {
	return insertUsageEvent(ctx, s.db, ev)
}

// Stats returns aggregated usage since the cutoff together with the most
// recent events, newest first, capped at limit.
func (s *UsageStore) Stats(ctx context.Context, accountID string, since time.Time, limit int) (usage.Stats, []usage.Event, error) {
	if limit <= 0 || limit > MaxStatsEvents {
		limit = MaxStatsEvents
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, request_id, endpoint, documents, pages, credits,
			processing_time_ms, status, error_message, created_at
		FROM usage_events
		WHERE account_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, accountID, since)
	if err != nil {
		return usage.Stats{}, nil, err
	}
	defer rows.Close()

	var all []usage.Event
	for rows.Next() {
		ev, err := scanUsageEvent(rows)
		if err != nil {
			return usage.Stats{}, nil, err
		}
		all = append(all, ev)
	}
	if err := rows.Err(); err != nil {
		return usage.Stats{}, nil, err
	}

	stats := usage.Aggregate(all, since, time.Now().UTC())
	stats.AccountID = accountID

	recent := all
	if len(recent) > limit {
		recent = recent[:limit]
	}
	return stats, recent, nil
}

func scanUsageEvent(rows *sql.Rows) (usage.Event, error) {
	var ev usage.Event
	var errMsg sql.NullString

	err := rows.Scan(
		&ev.ID, &ev.AccountID, &ev.RequestID, &ev.Endpoint, &ev.Documents,
		&ev.Pages, &ev.Credits, &ev.ProcessingTimeMs, &ev.Status, &errMsg, &ev.CreatedAt,
	)
	if err != nil {
		return usage.Event{}, err
	}
	ev.ErrorMessage = errMsg.String
	return ev, nil
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
