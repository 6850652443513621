package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository reads and updates the timer_outbox table. It runs on
// database/sql with the pq driver because the LISTEN/NOTIFY listener shares
// the same DSN and driver.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FetchUnsentForEvent returns unsent rows for one event in commit order.
// Called when a notification names the event that just committed.
func (r *Repository) FetchUnsentForEvent(ctx context.Context, eventID uuid.UUID) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, seq, event_id, event_type, payload, created_at
		 FROM timer_outbox
		 WHERE event_id = $1 AND sent_at IS NULL
		 ORDER BY seq`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("fetch unsent outbox for event: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// FetchUnsent returns the oldest unsent rows across all events, for the
// fallback poll.
func (r *Repository) FetchUnsent(ctx context.Context, limit int) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, seq, event_id, event_type, payload, created_at
		 FROM timer_outbox
		 WHERE sent_at IS NULL
		 ORDER BY seq
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unsent outbox: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// MarkSent stamps rows as delivered.
func (r *Repository) MarkSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE timer_outbox SET sent_at = NOW() WHERE id = ANY($1::uuid[])`,
		pq.Array(strs))
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

// DeleteSentBefore prunes delivered rows older than the cutoff.
func (r *Repository) DeleteSentBefore(ctx context.Context, cutoff sql.NullTime) (int64, error) {
	if !cutoff.Valid {
		return 0, errors.New("cutoff required")
	}
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM timer_outbox WHERE sent_at IS NOT NULL AND sent_at < $1`,
		cutoff.Time)
	if err != nil {
		return 0, fmt.Errorf("prune outbox: %w", err)
	}
	return res.RowsAffected()
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ID, &row.Seq, &row.EventID, &row.EventType, &row.Payload, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
