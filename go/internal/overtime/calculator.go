// Package overtime turns stop events into schedule drift: per-cue duration
// overruns and show-start lateness, both of which push every downstream cue's
// projected start time.
package overtime

import (
	"fmt"
	"math"
	"time"

	"github.com/showops/cueline/go/internal/models"
)

// CueMinutes computes the signed per-cue overtime in whole minutes from the
// actual and scheduled durations. The delta is floored, not truncated: a
// 90-second underrun is -2 minutes, and even a 30-second underrun floors to
// -1. Only a sub-minute overrun floors to zero.
func CueMinutes(actual, scheduled time.Duration) int {
	return int(math.Floor(float64(actual-scheduled) / float64(time.Minute)))
}

// Recordable reports whether a computed overtime is worth persisting: the
// floored drift must be at least one whole minute in either direction.
func Recordable(minutes int) bool {
	return minutes >= 1 || minutes <= -1
}

// OnStop evaluates a stopped main timer against its cue's schedule.
// Returns nil when the stop produced no recordable overtime (not running,
// no start timestamp, or under a minute of drift).
func OnStop(timer *models.MainTimer, cue *models.Cue, stoppedAt time.Time) *models.OvertimeRecord {
	if timer.StartedAt == nil {
		return nil
	}
	actual := stoppedAt.Sub(*timer.StartedAt)
	scheduled := time.Duration(timer.DurationSeconds) * time.Second

	minutes := CueMinutes(actual, scheduled)
	if !Recordable(minutes) {
		return nil
	}

	return &models.OvertimeRecord{
		EventID:   timer.EventID,
		CueID:     cue.ID,
		Minutes:   minutes,
		UpdatedAt: stoppedAt,
	}
}

// ShowStartDelta computes the show-start overtime for the designated start
// cue: the whole-minute difference between its scheduled wall-clock start and
// the timestamp it actually started.
func ShowStartDelta(event *models.Event, schedule []models.Cue, startCue *models.Cue, actualStart time.Time) (*models.ShowStartOvertime, error) {
	scheduled, err := ScheduledStart(event, schedule, startCue.ID, actualStart)
	if err != nil {
		return nil, err
	}

	minutes := int(math.Floor(float64(actualStart.Sub(scheduled)) / float64(time.Minute)))
	return &models.ShowStartOvertime{
		EventID:     event.ID,
		CueID:       startCue.ID,
		Minutes:     minutes,
		ScheduledAt: scheduled,
		ActualAt:    actualStart,
		UpdatedAt:   actualStart,
	}, nil
}

// ScheduledStart derives a cue's scheduled wall-clock start for the day it
// belongs to: the day's configured start time plus the cumulative durations
// of every earlier non-indented cue on that day. Indented cues play inside
// their parent's slot and contribute nothing to the main timeline.
// reference supplies the calendar date; only its date component is used.
func ScheduledStart(event *models.Event, schedule []models.Cue, cueID int64, reference time.Time) (time.Time, error) {
	var target *models.Cue
	for i := range schedule {
		if schedule[i].ID == cueID {
			target = &schedule[i]
			break
		}
	}
	if target == nil {
		return time.Time{}, fmt.Errorf("cue %d not in schedule", cueID)
	}

	dayStart, ok := event.DayStartTimes[target.Day]
	if !ok {
		return time.Time{}, fmt.Errorf("no start time configured for day %d", target.Day)
	}
	var hh, mm int
	if _, err := fmt.Sscanf(dayStart, "%d:%d", &hh, &mm); err != nil {
		return time.Time{}, fmt.Errorf("parse day %d start time %q: %w", target.Day, dayStart, err)
	}

	loc := reference.Location()
	if event.Timezone != "" {
		if tz, err := time.LoadLocation(event.Timezone); err == nil {
			loc = tz
		}
	}
	ref := reference.In(loc)
	start := time.Date(ref.Year(), ref.Month(), ref.Day(), hh, mm, 0, 0, loc)

	offset := time.Duration(0)
	for _, c := range schedule {
		if c.Day != target.Day || c.IsIndented {
			continue
		}
		if c.Position >= target.Position {
			break
		}
		offset += time.Duration(c.TotalDurationSeconds()) * time.Second
	}
	return start.Add(offset), nil
}
