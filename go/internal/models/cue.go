package models

import (
	"time"

	"github.com/google/uuid"
)

// Cue is one scheduled segment (row) of the run of show. Indented cues are
// grouped under the preceding non-indented cue and share its load/run
// lifecycle; they may run their own secondary timer.
type Cue struct {
	ID              int64      `json:"id"`
	EventID         uuid.UUID  `json:"event_id"`
	Position        int        `json:"position"`
	Day             int        `json:"day"`
	CueDisplay      string     `json:"cue_display"`
	SegmentName     string     `json:"segment_name"`
	DurationHours   int        `json:"duration_hours"`
	DurationMinutes int        `json:"duration_minutes"`
	DurationSeconds int        `json:"duration_seconds"`
	IsIndented      bool       `json:"is_indented"`
	ParentID        *int64     `json:"parent_id,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TotalDurationSeconds flattens the H/M/S fields.
func (c *Cue) TotalDurationSeconds() int {
	return c.DurationHours*3600 + c.DurationMinutes*60 + c.DurationSeconds
}

// Event owns a schedule of cues for a production. StartCueID designates the
// "show start" cue used for show-start overtime; nil when none is designated.
type Event struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	NumberOfDays  int            `json:"number_of_days"`
	StartCueID    *int64         `json:"start_cue_id,omitempty"`
	DayStartTimes map[int]string `json:"day_start_times"` // day -> "HH:MM" local
	Timezone      string         `json:"timezone"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
