package models

import (
	"time"

	"github.com/google/uuid"
)

// TimerState defines the lifecycle state of a cue timer.
type TimerState string

const (
	TimerStateIdle    TimerState = "IDLE"
	TimerStateLoaded  TimerState = "LOADED"
	TimerStateRunning TimerState = "RUNNING"
	TimerStateStopped TimerState = "STOPPED"
)

// MainTimer is the authoritative timer for the currently loaded cue.
// There is at most one live instance per event; it is persisted as a single
// row keyed on event_id and every mutation overwrites it.
type MainTimer struct {
	EventID         uuid.UUID  `json:"event_id"`
	CueID           int64      `json:"cue_id"`
	State           TimerState `json:"state"`
	DurationSeconds int        `json:"duration_seconds"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ActorID         string     `json:"actor_id"`
	ActorName       string     `json:"actor_name"`
	ActorRole       Role       `json:"actor_role"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ElapsedSeconds derives elapsed time from the start timestamp. Elapsed is
// never persisted as a counter; a client that reconnects mid-timer
// reconstructs the same value from StartedAt and the synchronized clock.
func (t *MainTimer) ElapsedSeconds(now time.Time) int {
	if t.State != TimerStateRunning || t.StartedAt == nil {
		return 0
	}
	return int(now.Sub(*t.StartedAt) / time.Second)
}

// RemainingSeconds may go negative when the cue overruns. Callers that show a
// progress percentage clamp at zero themselves; the raw countdown keeps its sign.
func (t *MainTimer) RemainingSeconds(now time.Time) int {
	return t.DurationSeconds - t.ElapsedSeconds(now)
}

// IsRunning reports whether the timer is live.
func (t *MainTimer) IsRunning() bool {
	return t.State == TimerStateRunning && t.StartedAt != nil
}

// SecondaryTimer is the subordinate sub-cue timer. Event-scoped: starting a
// new one implicitly stops any other, so at most one exists per event.
type SecondaryTimer struct {
	EventID         uuid.UUID  `json:"event_id"`
	CueID           int64      `json:"cue_id"`
	State           TimerState `json:"state"`
	DurationSeconds int        `json:"duration_seconds"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ActorID         string     `json:"actor_id"`
	ActorName       string     `json:"actor_name"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ElapsedSeconds derives elapsed time for the sub-cue timer.
func (t *SecondaryTimer) ElapsedSeconds(now time.Time) int {
	if t.State != TimerStateRunning || t.StartedAt == nil {
		return 0
	}
	return int(now.Sub(*t.StartedAt) / time.Second)
}
