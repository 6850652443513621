// Package schedule reads and edits the run-of-show cue list. Timer and
// overtime components treat it as the source of truth for cue ordering,
// durations and the show-start designation.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/showops/cueline/go/internal/models"
)

// ErrCueNotFound is returned when a cue id does not exist for the event.
var ErrCueNotFound = errors.New("cue not found")

// ErrEventNotFound is returned when the event id is unknown.
var ErrEventNotFound = errors.New("event not found")

// editableTextColumns is the allowlist for free-text field edits.
var editableTextColumns = map[string]string{
	"cueDisplay":  "cue_display",
	"segmentName": "segment_name",
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetEvent loads an event with its per-day start times.
func (r *Repository) GetEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error) {
	var (
		ev        models.Event
		dayStarts []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, number_of_days, start_cue_id, day_start_times, timezone, created_at, updated_at
		 FROM events WHERE id = $1`,
		eventID).Scan(&ev.ID, &ev.Name, &ev.NumberOfDays, &ev.StartCueID, &dayStarts, &ev.Timezone, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if len(dayStarts) > 0 {
		if err := json.Unmarshal(dayStarts, &ev.DayStartTimes); err != nil {
			return nil, fmt.Errorf("decode day start times: %w", err)
		}
	}
	return &ev, nil
}

// ListCues returns the event's cues in display order.
func (r *Repository) ListCues(ctx context.Context, eventID uuid.UUID) ([]models.Cue, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, event_id, position, day, cue_display, segment_name,
		        duration_hours, duration_minutes, duration_seconds,
		        is_indented, parent_id, updated_at
		 FROM cues WHERE event_id = $1 ORDER BY position`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("list cues: %w", err)
	}
	defer rows.Close()

	var cues []models.Cue
	for rows.Next() {
		var c models.Cue
		if err := rows.Scan(&c.ID, &c.EventID, &c.Position, &c.Day, &c.CueDisplay, &c.SegmentName,
			&c.DurationHours, &c.DurationMinutes, &c.DurationSeconds,
			&c.IsIndented, &c.ParentID, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cue: %w", err)
		}
		cues = append(cues, c)
	}
	return cues, rows.Err()
}

// GetCue loads one cue, scoped to the event.
func (r *Repository) GetCue(ctx context.Context, eventID uuid.UUID, cueID int64) (*models.Cue, error) {
	var c models.Cue
	err := r.pool.QueryRow(ctx,
		`SELECT id, event_id, position, day, cue_display, segment_name,
		        duration_hours, duration_minutes, duration_seconds,
		        is_indented, parent_id, updated_at
		 FROM cues WHERE event_id = $1 AND id = $2`,
		eventID, cueID).Scan(&c.ID, &c.EventID, &c.Position, &c.Day, &c.CueDisplay, &c.SegmentName,
		&c.DurationHours, &c.DurationMinutes, &c.DurationSeconds,
		&c.IsIndented, &c.ParentID, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCueNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cue %d: %w", cueID, err)
	}
	return &c, nil
}

// UpdateCueDurationTx rewrites a cue's scheduled duration inside the caller's
// transaction. The live duration adjustment commits atomically with the
// schedule so projections agree with the running timer.
func (r *Repository) UpdateCueDurationTx(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, cueID int64, hours, minutes, seconds int) error {
	tag, err := tx.Exec(ctx,
		`UPDATE cues SET duration_hours = $3, duration_minutes = $4, duration_seconds = $5, updated_at = NOW()
		 WHERE event_id = $1 AND id = $2`,
		eventID, cueID, hours, minutes, seconds)
	if err != nil {
		return fmt.Errorf("update cue %d duration: %w", cueID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCueNotFound
	}
	return nil
}

// UpdateCueText changes one free-text column on a cue. The field name is the
// client-facing camelCase name; anything outside the allowlist is rejected.
func (r *Repository) UpdateCueText(ctx context.Context, eventID uuid.UUID, cueID int64, field, value string) error {
	column, ok := editableTextColumns[field]
	if !ok {
		return fmt.Errorf("field %q is not editable", field)
	}
	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE cues SET %s = $3, updated_at = NOW() WHERE event_id = $1 AND id = $2`, column),
		eventID, cueID, value)
	if err != nil {
		return fmt.Errorf("update cue %d %s: %w", cueID, field, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCueNotFound
	}
	return nil
}

// SetStartCue designates (or clears) the show-start cue for an event.
func (r *Repository) SetStartCue(ctx context.Context, eventID uuid.UUID, cueID *int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE events SET start_cue_id = $2, updated_at = NOW() WHERE id = $1`,
		eventID, cueID)
	if err != nil {
		return fmt.Errorf("set start cue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}
