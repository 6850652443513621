package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/auth"
	"github.com/showops/cueline/go/internal/changelog"
	"github.com/showops/cueline/go/internal/models"
	"github.com/showops/cueline/go/internal/schedule"
	"github.com/showops/cueline/go/internal/timer"
)

// TimerAuthority is what the command handler needs from the timer authority.
type TimerAuthority interface {
	LoadCue(ctx context.Context, eventID uuid.UUID, cueID int64, actor models.Actor) (*models.MainTimer, error)
	StartTimer(ctx context.Context, eventID uuid.UUID, cueID int64, actor models.Actor) (*models.MainTimer, error)
	StopTimer(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.MainTimer, error)
	AdjustDuration(ctx context.Context, eventID uuid.UUID, deltaSeconds int, actor models.Actor) (*models.MainTimer, error)
	StartSecondary(ctx context.Context, eventID uuid.UUID, cueID int64, actor models.Actor) (*models.SecondaryTimer, error)
	StopSecondary(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.SecondaryTimer, error)
	ResetAll(ctx context.Context, eventID uuid.UUID, actor models.Actor) error
	GetSnapshot(ctx context.Context, eventID uuid.UUID) (*timer.Snapshot, error)
	GetProjection(ctx context.Context, eventID uuid.UUID) (*timer.ProjectionView, error)
}

// ChangeLog is what the command handler needs from the audit log.
type ChangeLog interface {
	RecordFieldEdit(change models.PendingChange) error
	LogStructural(ctx context.Context, eventID uuid.UUID, actor models.Actor, action, description string, cueID *int64, rowNumber *int) error
	Flush()
	List(ctx context.Context, eventID uuid.UUID, limit int, before time.Time) ([]models.ChangeLogEntry, error)
	ClearAll(ctx context.Context, eventID uuid.UUID) (int64, error)
}

// CommandHandler serves the JSON-over-HTTP command surface. Commands carry
// the acting actor in the body; denials come back as real status codes
// instead of silently dropped socket messages.
type CommandHandler struct {
	authority TimerAuthority
	changes   ChangeLog
}

func NewCommandHandler(authority TimerAuthority, changes ChangeLog) *CommandHandler {
	return &CommandHandler{authority: authority, changes: changes}
}

// RegisterRoutes registers all command routes on the mux.
func (h *CommandHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/events/{id}/timer/load", h.handleLoadCue)
	mux.HandleFunc("POST /api/events/{id}/timer/start", h.handleStartTimer)
	mux.HandleFunc("POST /api/events/{id}/timer/stop", h.handleStopTimer)
	mux.HandleFunc("POST /api/events/{id}/timer/duration", h.handleAdjustDuration)
	mux.HandleFunc("POST /api/events/{id}/subcue/start", h.handleStartSecondary)
	mux.HandleFunc("POST /api/events/{id}/subcue/stop", h.handleStopSecondary)
	mux.HandleFunc("POST /api/events/{id}/reset", h.handleResetAll)
	mux.HandleFunc("GET /api/events/{id}/sync", h.handleSync)
	mux.HandleFunc("GET /api/events/{id}/projection", h.handleProjection)
	mux.HandleFunc("POST /api/events/{id}/changes", h.handleRecordChange)
	mux.HandleFunc("POST /api/events/{id}/changes/flush", h.handleFlushChanges)
	mux.HandleFunc("GET /api/events/{id}/changes", h.handleListChanges)
	mux.HandleFunc("DELETE /api/events/{id}/changes", h.handleClearChanges)
}

type cueCommand struct {
	CueID int64        `json:"cue_id"`
	Actor models.Actor `json:"actor"`
}

type actorCommand struct {
	Actor models.Actor `json:"actor"`
}

type durationCommand struct {
	DeltaSeconds int          `json:"delta_seconds"`
	Actor        models.Actor `json:"actor"`
}

type changeCommand struct {
	Actor       models.Actor `json:"actor"`
	Action      string       `json:"action"`
	Description string       `json:"description"`
	Field       string       `json:"field,omitempty"`
	CueID       *int64       `json:"cue_id,omitempty"`
	RowNumber   *int         `json:"row_number,omitempty"`
	OldValue    string       `json:"old_value,omitempty"`
	NewValue    string       `json:"new_value,omitempty"`
	Structural  bool         `json:"structural,omitempty"`
}

func (h *CommandHandler) handleLoadCue(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	var cmd cueCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	result, err := h.authority.LoadCue(r.Context(), eventID, cmd.CueID, cmd.Actor)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CommandHandler) handleStartTimer(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	var cmd cueCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	result, err := h.authority.StartTimer(r.Context(), eventID, cmd.CueID, cmd.Actor)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CommandHandler) handleStopTimer(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	var cmd actorCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	result, err := h.authority.StopTimer(r.Context(), eventID, cmd.Actor)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CommandHandler) handleAdjustDuration(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	var cmd durationCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	result, err := h.authority.AdjustDuration(r.Context(), eventID, cmd.DeltaSeconds, cmd.Actor)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CommandHandler) handleStartSecondary(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	var cmd cueCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	result, err := h.authority.StartSecondary(r.Context(), eventID, cmd.CueID, cmd.Actor)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CommandHandler) handleStopSecondary(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	var cmd actorCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	result, err := h.authority.StopSecondary(r.Context(), eventID, cmd.Actor)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CommandHandler) handleResetAll(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	var cmd actorCommand
	if !decodeBody(w, r, &cmd) {
		return
	}
	if err := h.authority.ResetAll(r.Context(), eventID, cmd.Actor); err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleSync serves the authoritative snapshot for reconnecting clients and
// the low-frequency fallback poll.
func (h *CommandHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	snapshot, err := h.authority.GetSnapshot(r.Context(), eventID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleProjection serves overtime-adjusted start times for the whole
// schedule.
func (h *CommandHandler) handleProjection(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	view, err := h.authority.GetProjection(r.Context(), eventID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *CommandHandler) handleRecordChange(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	var cmd changeCommand
	if !decodeBody(w, r, &cmd) {
		return
	}

	var err error
	if cmd.Structural {
		err = h.changes.LogStructural(r.Context(), eventID, cmd.Actor, cmd.Action, cmd.Description, cmd.CueID, cmd.RowNumber)
	} else {
		err = h.changes.RecordFieldEdit(models.PendingChange{
			EventID:     eventID,
			Actor:       cmd.Actor,
			Action:      cmd.Action,
			Description: cmd.Description,
			Field:       cmd.Field,
			CueID:       cmd.CueID,
			RowNumber:   cmd.RowNumber,
			OldValue:    cmd.OldValue,
			NewValue:    cmd.NewValue,
		})
	}
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *CommandHandler) handleFlushChanges(w http.ResponseWriter, r *http.Request) {
	if _, ok := eventIDFromPath(w, r); !ok {
		return
	}
	h.changes.Flush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

func (h *CommandHandler) handleListChanges(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid before cursor", http.StatusBadRequest)
			return
		}
		before = parsed
	}

	entries, err := h.changes.List(r.Context(), eventID, limit, before)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *CommandHandler) handleClearChanges(w http.ResponseWriter, r *http.Request) {
	eventID, ok := eventIDFromPath(w, r)
	if !ok {
		return
	}
	deleted, err := h.changes.ClearAll(r.Context(), eventID)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func eventIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	eventID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return eventID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// writeCommandError maps domain errors to status codes. Role denials are 403,
// unknown cues 404, state machine violations 409.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrRoleDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, schedule.ErrCueNotFound), errors.Is(err, schedule.ErrEventNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, timer.ErrTimerAlreadyRunning),
		errors.Is(err, timer.ErrCueIndented),
		errors.Is(err, timer.ErrCueNotIndented),
		errors.Is(err, timer.ErrParentNotRunning),
		errors.Is(err, timer.ErrNoTimer),
		errors.Is(err, timer.ErrNoSecondaryTimer):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Msg("command failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

var _ ChangeLog = (*changelog.App)(nil)
