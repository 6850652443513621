package models

import (
	"time"

	"github.com/google/uuid"
)

// OvertimeRecord stores the signed per-cue drift in whole minutes.
// Positive means the cue ran over its scheduled duration, negative under.
// Overwritten each time the main timer stops on that cue.
type OvertimeRecord struct {
	EventID   uuid.UUID `json:"event_id"`
	CueID     int64     `json:"cue_id"`
	Minutes   int       `json:"overtime_minutes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ShowStartOvertime stores the delta between the show-start cue's scheduled
// wall-clock start and its actual start. Once set it offsets the projected
// start of every cue at or after the show-start cue until explicitly reset.
type ShowStartOvertime struct {
	EventID     uuid.UUID `json:"event_id"`
	CueID       int64     `json:"cue_id"`
	Minutes     int       `json:"show_start_overtime"`
	ScheduledAt time.Time `json:"scheduled_time"`
	ActualAt    time.Time `json:"actual_time"`
	UpdatedAt   time.Time `json:"updated_at"`
}
