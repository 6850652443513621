package changelog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/auth"
	"github.com/showops/cueline/go/internal/models"
)

// App routes audit events through the two logging paths: structural changes
// synchronously, field edits via the debounce buffer.
type App struct {
	repo   *Repository
	buffer *Buffer
}

// NewApp wires the audit log. The buffer's sweep loop is started by the
// caller via Run.
func NewApp(repo *Repository, clock clockwork.Clock, cfg BufferConfig) *App {
	return &App{
		repo:   repo,
		buffer: NewBuffer(clock, cfg, repo),
	}
}

// Buffer exposes the debounce buffer (flush on shutdown, tests).
func (a *App) Buffer() *Buffer { return a.buffer }

// Run drives the buffer sweep until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	a.buffer.Run(ctx)
}

// RecordFieldEdit buffers a debounced field edit. Rapid successive edits to
// the same (cue, field) merge into a single history entry.
func (a *App) RecordFieldEdit(change models.PendingChange) error {
	if err := auth.RequireContentEdit(change.Actor); err != nil {
		return err
	}
	if change.Key == "" {
		if change.CueID == nil {
			return fmt.Errorf("field edit needs a key or a cue reference")
		}
		change.Key = FieldKey(*change.CueID, change.Field)
	}
	if change.Action == "" {
		change.Action = "FIELD_CHANGE"
	}
	a.buffer.Record(change)
	return nil
}

// LogStructural appends immediately: add/remove/move a cue, add/remove a
// column. No debounce, no merge.
func (a *App) LogStructural(ctx context.Context, eventID uuid.UUID, actor models.Actor, action, description string, cueID *int64, rowNumber *int) error {
	if err := auth.RequireContentEdit(actor); err != nil {
		return err
	}
	entry := &models.ChangeLogEntry{
		ID:          uuid.New(),
		EventID:     eventID,
		ActorID:     actor.ID,
		ActorName:   actor.Name,
		ActorRole:   actor.Role,
		Action:      action,
		Description: description,
		CueID:       cueID,
		RowNumber:   rowNumber,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.repo.Append(ctx, entry); err != nil {
		return err
	}
	log.Info().
		Str("event_id", eventID.String()).
		Str("action", action).
		Msg("structural change logged")
	return nil
}

// Flush finalizes all pending field edits immediately (navigation away,
// explicit save).
func (a *App) Flush() {
	a.buffer.Flush()
}

// List returns history for an event, newest first.
func (a *App) List(ctx context.Context, eventID uuid.UUID, limit int, before time.Time) ([]models.ChangeLogEntry, error) {
	return a.repo.List(ctx, eventID, limit, before)
}

// ClearAll wipes the history for an event.
func (a *App) ClearAll(ctx context.Context, eventID uuid.UUID) (int64, error) {
	return a.repo.DeleteAll(ctx, eventID)
}
