package overtime

import (
	"time"

	"github.com/showops/cueline/go/internal/models"
)

// Projection computes overtime-adjusted start times for a schedule. It is a
// pure view over the current OvertimeRecords and ShowStartOvertime; the grid
// recomputes it after every overtimeUpdate broadcast.
type Projection struct {
	Event     *models.Event
	Schedule  []models.Cue // ordered by Position
	PerCue    map[int64]int // cueID -> signed overtime minutes
	ShowStart *models.ShowStartOvertime
}

// startCueOrdinal returns the position of the designated show-start cue, or
// -1 when none is set (no overtime accrues anywhere in that case).
func (p *Projection) startCueOrdinal() int {
	if p.Event.StartCueID == nil {
		return -1
	}
	for _, c := range p.Schedule {
		if c.ID == *p.Event.StartCueID {
			return c.Position
		}
	}
	return -1
}

// ShiftMinutes returns the total signed minutes by which cueID's projected
// start moves off its base schedule: the sum of per-cue overtime for every
// earlier non-indented cue from the show-start cue onward, plus the
// show-start overtime when the cue sits at or after the show-start cue.
// Cues above the show-start cue never shift; indented cues inherit their
// parent and report zero of their own.
func (p *Projection) ShiftMinutes(cueID int64) int {
	startPos := p.startCueOrdinal()
	if startPos < 0 {
		return 0
	}

	var target *models.Cue
	for i := range p.Schedule {
		if p.Schedule[i].ID == cueID {
			target = &p.Schedule[i]
			break
		}
	}
	if target == nil || target.IsIndented || target.Position < startPos {
		return 0
	}

	shift := 0
	if p.ShowStart != nil {
		shift += p.ShowStart.Minutes
	}
	for _, c := range p.Schedule {
		if c.IsIndented || c.Position < startPos || c.Position >= target.Position {
			continue
		}
		if c.Day != target.Day {
			continue
		}
		shift += p.PerCue[c.ID]
	}
	return shift
}

// ProjectedStart returns the overtime-adjusted wall-clock start for cueID.
// reference supplies the calendar date, as in ScheduledStart.
func (p *Projection) ProjectedStart(cueID int64, reference time.Time) (time.Time, error) {
	base, err := ScheduledStart(p.Event, p.Schedule, cueID, reference)
	if err != nil {
		return time.Time{}, err
	}
	return base.Add(time.Duration(p.ShiftMinutes(cueID)) * time.Minute), nil
}

// TotalRunTime sums the scheduled durations of the non-indented cues on a
// given day.
func TotalRunTime(schedule []models.Cue, day int) time.Duration {
	var total time.Duration
	for _, c := range schedule {
		if c.Day == day && !c.IsIndented {
			total += time.Duration(c.TotalDurationSeconds()) * time.Second
		}
	}
	return total
}
