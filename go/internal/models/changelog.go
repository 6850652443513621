package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeLogEntry is one append-only row of the per-event audit history.
// Entries are human readable; the structured fields exist so the history view
// can link back to the row/field that changed.
type ChangeLogEntry struct {
	ID          uuid.UUID `json:"id"`
	EventID     uuid.UUID `json:"event_id"`
	ActorID     string    `json:"actor_id"`
	ActorName   string    `json:"actor_name"`
	ActorRole   Role      `json:"actor_role"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Field       string    `json:"field,omitempty"`
	CueID       *int64    `json:"cue_id,omitempty"`
	RowNumber   *int      `json:"row_number,omitempty"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PendingChange is the ephemeral debounce-buffer entry for one edit key.
// A newer edit to the same key replaces the pending entry instead of
// accumulating; only the final value survives into the ChangeLogEntry.
type PendingChange struct {
	Key         string    `json:"key"`
	EventID     uuid.UUID `json:"event_id"`
	Actor       Actor     `json:"actor"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Field       string    `json:"field,omitempty"`
	CueID       *int64    `json:"cue_id,omitempty"`
	RowNumber   *int      `json:"row_number,omitempty"`
	OldValue    string    `json:"old_value,omitempty"`
	NewValue    string    `json:"new_value,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	UpdatedAt   time.Time `json:"updated_at"`
}
