package events

import (
	"time"

	"github.com/showops/cueline/go/internal/models"
)

// Event types emitted by the timer authority and fanned out to clients. The
// gateway forwards payloads verbatim; its in-memory state consumer parses the
// timer ones to drive ticks.
const (
	TypeTimerUpdated            = "timerUpdated"
	TypeTimerStopped            = "timerStopped"
	TypeSecondaryTimerStarted   = "secondaryTimerStarted"
	TypeSecondaryTimerStopped   = "secondaryTimerStopped"
	TypeSecondaryTimerCleared   = "secondaryTimerCleared"
	TypeOvertimeUpdate          = "overtimeUpdate"
	TypeShowStartOvertimeUpdate = "showStartOvertimeUpdate"
	TypeOvertimeReset           = "overtimeReset"
	TypeCompletedCuesUpdated    = "completedCuesUpdated"
	TypeResetAllStates          = "resetAllStates"
	TypeScheduleUpdated         = "scheduleUpdated"
	TypeChangeLogUpdated        = "changeLogUpdated"
)

// TimerUpdatedPayload carries the authoritative main-timer row after a
// load/start/adjust.
type TimerUpdatedPayload struct {
	EventID         string     `json:"event_id"`
	CueID           int64      `json:"cue_id"`
	State           string     `json:"state"`
	DurationSeconds int        `json:"duration_seconds"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ActorID         string     `json:"actor_id"`
	ActorName       string     `json:"actor_name"`
	ActorRole       string     `json:"actor_role"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TimerStoppedPayload is emitted when the main timer stops, with the overtime
// outcome when one was recorded.
type TimerStoppedPayload struct {
	EventID         string `json:"event_id"`
	CueID           int64  `json:"cue_id"`
	ActorID         string `json:"actor_id"`
	OvertimeMinutes *int   `json:"overtime_minutes,omitempty"`
}

// SecondaryTimerPayload covers started/stopped/cleared for the sub-cue timer.
type SecondaryTimerPayload struct {
	EventID         string     `json:"event_id"`
	CueID           int64      `json:"cue_id"`
	DurationSeconds int        `json:"duration_seconds"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ActorID         string     `json:"actor_id"`
}

// OvertimeUpdatePayload announces a per-cue overtime record.
type OvertimeUpdatePayload struct {
	EventID string `json:"event_id"`
	CueID   int64  `json:"cue_id"`
	Minutes int    `json:"minutes"`
}

// ShowStartOvertimePayload announces show-start lateness (or earliness).
type ShowStartOvertimePayload struct {
	EventID     string    `json:"event_id"`
	CueID       int64     `json:"cue_id"`
	Minutes     int       `json:"minutes"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ActualAt    time.Time `json:"actual_at"`
}

// CompletedCuesPayload carries the full completed set; clients replace, never
// merge.
type CompletedCuesPayload struct {
	EventID string  `json:"event_id"`
	CueIDs  []int64 `json:"cue_ids"`
}

// ResetPayload is shared by overtimeReset and resetAllStates.
type ResetPayload struct {
	EventID string `json:"event_id"`
	ActorID string `json:"actor_id"`
}

// ScheduleUpdatedPayload tells clients a schedule row changed.
type ScheduleUpdatedPayload struct {
	EventID string `json:"event_id"`
	CueID   int64  `json:"cue_id"`
	Field   string `json:"field"`
}

func TimerUpdated(t *models.MainTimer) TimerUpdatedPayload {
	return TimerUpdatedPayload{
		EventID:         t.EventID.String(),
		CueID:           t.CueID,
		State:           string(t.State),
		DurationSeconds: t.DurationSeconds,
		StartedAt:       t.StartedAt,
		ActorID:         t.ActorID,
		ActorName:       t.ActorName,
		ActorRole:       string(t.ActorRole),
		UpdatedAt:       t.UpdatedAt,
	}
}
