package changelog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/showops/cueline/go/internal/models"
)

// Repository persists the append-only change history. Rows are never updated
// or reordered; concurrent writers are safe because writes cannot overwrite
// each other.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append writes one finalized entry.
func (r *Repository) Append(ctx context.Context, entry *models.ChangeLogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO change_log
		   (id, event_id, actor_id, actor_name, actor_role, action, description,
		    field_name, item_id, row_number, old_value, new_value, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.EventID, entry.ActorID, entry.ActorName, entry.ActorRole,
		entry.Action, entry.Description, nullIfEmpty(entry.Field), entry.CueID,
		entry.RowNumber, nullIfEmpty(entry.OldValue), nullIfEmpty(entry.NewValue),
		entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append change-log entry: %w", err)
	}
	return nil
}

// List returns entries for an event newest-first. before paginates: pass the
// CreatedAt of the last entry from the previous page, or the zero time for
// the first page.
func (r *Repository) List(ctx context.Context, eventID uuid.UUID, limit int, before time.Time) ([]models.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if before.IsZero() {
		before = time.Now().Add(24 * time.Hour)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, event_id, actor_id, actor_name, actor_role, action, description,
		        COALESCE(field_name, ''), item_id, row_number,
		        COALESCE(old_value, ''), COALESCE(new_value, ''), created_at
		 FROM change_log
		 WHERE event_id = $1 AND created_at < $2
		 ORDER BY created_at DESC
		 LIMIT $3`,
		eventID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list change-log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.ChangeLogEntry
	for rows.Next() {
		var e models.ChangeLogEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.ActorID, &e.ActorName, &e.ActorRole,
			&e.Action, &e.Description, &e.Field, &e.CueID, &e.RowNumber,
			&e.OldValue, &e.NewValue, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change-log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteAll clears the history for an event and returns the number of rows
// removed. Admin-only maintenance path.
func (r *Repository) DeleteAll(ctx context.Context, eventID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM change_log WHERE event_id = $1`, eventID)
	if err != nil {
		return 0, fmt.Errorf("clear change log: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
