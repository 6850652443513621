package overtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/showops/cueline/go/internal/models"
)

// Repository persists overtime state. Per-cue records upsert on
// (event_id, item_id); the show-start record upserts on event_id alone.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertCueOvertimeTx writes a per-cue overtime record inside the caller's
// transaction so it commits atomically with the timer stop that produced it.
func (r *Repository) UpsertCueOvertimeTx(ctx context.Context, tx pgx.Tx, rec *models.OvertimeRecord) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO overtime_minutes (event_id, item_id, overtime_minutes, created_at, updated_at)
		 VALUES ($1, $2, $3, NOW(), NOW())
		 ON CONFLICT (event_id, item_id)
		 DO UPDATE SET overtime_minutes = EXCLUDED.overtime_minutes, updated_at = NOW()`,
		rec.EventID, rec.CueID, rec.Minutes)
	if err != nil {
		return fmt.Errorf("upsert overtime for cue %d: %w", rec.CueID, err)
	}
	return nil
}

// UpsertShowStartTx writes the show-start overtime record inside the caller's
// transaction.
func (r *Repository) UpsertShowStartTx(ctx context.Context, tx pgx.Tx, rec *models.ShowStartOvertime) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO show_start_overtime (event_id, item_id, overtime_minutes, scheduled_time, actual_time, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (event_id)
		 DO UPDATE SET item_id = EXCLUDED.item_id,
		               overtime_minutes = EXCLUDED.overtime_minutes,
		               scheduled_time = EXCLUDED.scheduled_time,
		               actual_time = EXCLUDED.actual_time,
		               updated_at = NOW()`,
		rec.EventID, rec.CueID, rec.Minutes, rec.ScheduledAt, rec.ActualAt)
	if err != nil {
		return fmt.Errorf("upsert show-start overtime: %w", err)
	}
	return nil
}

// ListCueOvertimes returns all per-cue records for an event.
func (r *Repository) ListCueOvertimes(ctx context.Context, eventID uuid.UUID) ([]models.OvertimeRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, item_id, overtime_minutes, updated_at
		 FROM overtime_minutes WHERE event_id = $1 ORDER BY item_id`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("list overtime records: %w", err)
	}
	defer rows.Close()

	var recs []models.OvertimeRecord
	for rows.Next() {
		var rec models.OvertimeRecord
		if err := rows.Scan(&rec.EventID, &rec.CueID, &rec.Minutes, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan overtime record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// GetShowStart returns the show-start overtime for an event, or nil when it
// has never been recorded (or was reset).
func (r *Repository) GetShowStart(ctx context.Context, eventID uuid.UUID) (*models.ShowStartOvertime, error) {
	var rec models.ShowStartOvertime
	err := r.pool.QueryRow(ctx,
		`SELECT event_id, item_id, overtime_minutes, scheduled_time, actual_time, updated_at
		 FROM show_start_overtime WHERE event_id = $1`,
		eventID).Scan(&rec.EventID, &rec.CueID, &rec.Minutes, &rec.ScheduledAt, &rec.ActualAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get show-start overtime: %w", err)
	}
	return &rec, nil
}

// ClearTx deletes all overtime state for an event inside the caller's
// transaction. Used by the explicit reset path.
func (r *Repository) ClearTx(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM overtime_minutes WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("clear overtime records: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM show_start_overtime WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("clear show-start overtime: %w", err)
	}
	return nil
}
