package overtime

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showops/cueline/go/internal/models"
)

func minuteCue(id int64, pos, minutes int) models.Cue {
	return models.Cue{ID: id, Position: pos, Day: 1, DurationMinutes: minutes}
}

func TestOnStopRecordsWholeMinuteOverrun(t *testing.T) {
	eventID := uuid.New()
	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	cue := minuteCue(3, 2, 5)
	timer := &models.MainTimer{
		EventID:         eventID,
		CueID:           cue.ID,
		State:           models.TimerStateRunning,
		DurationSeconds: 300, // 5:00 scheduled
		StartedAt:       &started,
	}

	// Stopped after 6:00 elapsed -> +1 minute.
	rec := OnStop(timer, &cue, started.Add(6*time.Minute))
	require.NotNil(t, rec)
	assert.Equal(t, int(1), rec.Minutes)
	assert.Equal(t, cue.ID, rec.CueID)

	// 30 seconds over floors to zero: nothing recorded.
	assert.Nil(t, OnStop(timer, &cue, started.Add(5*time.Minute+30*time.Second)))

	// Two minutes under -> -2.
	rec = OnStop(timer, &cue, started.Add(3*time.Minute))
	require.NotNil(t, rec)
	assert.Equal(t, -2, rec.Minutes)
}

func TestOnStopFloorsUnderruns(t *testing.T) {
	eventID := uuid.New()
	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	cue := minuteCue(3, 2, 5)
	timer := &models.MainTimer{
		EventID:         eventID,
		CueID:           cue.ID,
		State:           models.TimerStateRunning,
		DurationSeconds: 300,
		StartedAt:       &started,
	}

	// Underruns floor away from zero: 90 seconds under is -2, not -1.
	rec := OnStop(timer, &cue, started.Add(3*time.Minute+30*time.Second))
	require.NotNil(t, rec)
	assert.Equal(t, -2, rec.Minutes)

	// Even 30 seconds under floors to a full minute saved.
	rec = OnStop(timer, &cue, started.Add(4*time.Minute+30*time.Second))
	require.NotNil(t, rec)
	assert.Equal(t, -1, rec.Minutes)
}

func TestOnStopWithoutStartTimestampIsNoop(t *testing.T) {
	cue := minuteCue(1, 0, 10)
	timer := &models.MainTimer{CueID: cue.ID, State: models.TimerStateLoaded, DurationSeconds: 600}
	assert.Nil(t, OnStop(timer, &cue, time.Now()))
}

func TestShowStartDeltaAgainstScheduledWallClock(t *testing.T) {
	event := &models.Event{
		ID:            uuid.New(),
		DayStartTimes: map[int]string{1: "09:00"},
		Timezone:      "UTC",
	}
	schedule := []models.Cue{
		minuteCue(1, 0, 15),
		minuteCue(2, 1, 10),
	}
	event.StartCueID = &schedule[1].ID

	// Cue 2 is scheduled at 09:15; it actually started 09:20.
	actual := time.Date(2026, 3, 14, 9, 20, 0, 0, time.UTC)
	rec, err := ShowStartDelta(event, schedule, &schedule[1], actual)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Minutes)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 15, 0, 0, time.UTC), rec.ScheduledAt)
}

func TestProjectionShiftsDownstreamCues(t *testing.T) {
	// Scheduled durations [10,10,10] minutes for A,B,C; A is the show-start
	// cue. A starting 5 minutes late must shift B and C by +5.
	event := &models.Event{
		ID:            uuid.New(),
		DayStartTimes: map[int]string{1: "09:00"},
		Timezone:      "UTC",
	}
	a, b, c := minuteCue(1, 0, 10), minuteCue(2, 1, 10), minuteCue(3, 2, 10)
	schedule := []models.Cue{a, b, c}
	event.StartCueID = &a.ID

	p := &Projection{
		Event:    event,
		Schedule: schedule,
		PerCue:   map[int64]int{},
		ShowStart: &models.ShowStartOvertime{
			EventID: event.ID,
			CueID:   a.ID,
			Minutes: 5,
		},
	}

	ref := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	bStart, err := p.ProjectedStart(b.ID, ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 15, 0, 0, time.UTC), bStart)

	cStart, err := p.ProjectedStart(c.ID, ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 25, 0, 0, time.UTC), cStart)

	// B accrues +2 of its own: C shifts by 5+2, B still only by 5.
	p.PerCue[b.ID] = 2
	assert.Equal(t, 5, p.ShiftMinutes(b.ID))
	assert.Equal(t, 7, p.ShiftMinutes(c.ID))
}

func TestProjectionIgnoresCuesAboveShowStartAndIndented(t *testing.T) {
	event := &models.Event{
		ID:            uuid.New(),
		DayStartTimes: map[int]string{1: "09:00"},
		Timezone:      "UTC",
	}
	pre := minuteCue(1, 0, 10)
	start := minuteCue(2, 1, 10)
	sub := minuteCue(3, 2, 5)
	sub.IsIndented = true
	sub.ParentID = &start.ID
	after := minuteCue(4, 3, 10)
	schedule := []models.Cue{pre, start, sub, after}
	event.StartCueID = &start.ID

	p := &Projection{
		Event:    event,
		Schedule: schedule,
		// Overtime recorded against a cue above the show-start cue never
		// accrues; the indented cue's own record is skipped too.
		PerCue:    map[int64]int{pre.ID: 9, sub.ID: 4, start.ID: 3},
		ShowStart: nil,
	}

	assert.Equal(t, 0, p.ShiftMinutes(pre.ID))
	assert.Equal(t, 0, p.ShiftMinutes(start.ID))
	assert.Equal(t, 0, p.ShiftMinutes(sub.ID))
	assert.Equal(t, 3, p.ShiftMinutes(after.ID))
}

func TestTotalRunTimeSkipsIndentedCues(t *testing.T) {
	parent := minuteCue(1, 0, 30)
	sub := minuteCue(2, 1, 10)
	sub.IsIndented = true
	other := minuteCue(3, 2, 20)
	assert.Equal(t, 50*time.Minute, TotalRunTime([]models.Cue{parent, sub, other}, 1))
}
