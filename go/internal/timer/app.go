// Package timer is the authority for cue timer state. Every mutation is
// validated here, committed atomically with its broadcast outbox rows, and
// only then fanned out to clients. Clients never write timer state directly.
package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/auth"
	"github.com/showops/cueline/go/internal/models"
	"github.com/showops/cueline/go/internal/overtime"
	"github.com/showops/cueline/go/internal/timer/events"
)

var (
	// ErrTimerAlreadyRunning rejects a start while another cue's timer runs.
	ErrTimerAlreadyRunning = errors.New("a timer is already running")
	// ErrCueIndented rejects loading an indented cue as the main cue.
	ErrCueIndented = errors.New("indented cues cannot be loaded as the main cue")
	// ErrCueNotIndented rejects a sub-cue timer on a non-indented cue.
	ErrCueNotIndented = errors.New("sub-cue timers only run on indented cues")
	// ErrParentNotRunning rejects a sub-cue timer whose parent cue is not the
	// running main cue.
	ErrParentNotRunning = errors.New("parent cue is not running")
	// ErrNoTimer means the command needs a live timer and none exists.
	ErrNoTimer = errors.New("no timer is loaded")
	// ErrNoSecondaryTimer means no sub-cue timer exists to stop.
	ErrNoSecondaryTimer = errors.New("no sub-cue timer is running")
)

// ScheduleRepo is what the app needs from the schedule.
type ScheduleRepo interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (*models.Event, error)
	GetCue(ctx context.Context, eventID uuid.UUID, cueID int64) (*models.Cue, error)
	ListCues(ctx context.Context, eventID uuid.UUID) ([]models.Cue, error)
}

// OvertimeReader is what the sync snapshot needs from overtime persistence.
type OvertimeReader interface {
	ListCueOvertimes(ctx context.Context, eventID uuid.UUID) ([]models.OvertimeRecord, error)
	GetShowStart(ctx context.Context, eventID uuid.UUID) (*models.ShowStartOvertime, error)
}

// Snapshot is the full authoritative state of one event, served to clients
// on connect and on explicit resync.
type Snapshot struct {
	EventID       uuid.UUID                    `json:"event_id"`
	Timer         *models.MainTimer            `json:"timer,omitempty"`
	Secondary     *models.SecondaryTimer       `json:"secondary_timer,omitempty"`
	CompletedCues []int64                      `json:"completed_cues"`
	Overtimes     []models.OvertimeRecord      `json:"overtimes"`
	ShowStart     *models.ShowStartOvertime    `json:"show_start_overtime,omitempty"`
	ServerTime    time.Time                    `json:"server_time"`
}

// App validates and applies timer commands. All methods are safe to call
// concurrently but are expected to be serialized per event by the Authority.
type App struct {
	store    Store
	schedule ScheduleRepo
	overtime OvertimeReader
	clock    clockwork.Clock
}

func NewApp(store Store, schedule ScheduleRepo, overtimeReader OvertimeReader, clock clockwork.Clock) *App {
	return &App{
		store:    store,
		schedule: schedule,
		overtime: overtimeReader,
		clock:    clock,
	}
}

// LoadCue arms a cue without starting its countdown. Any previously live cue
// is marked completed (with its indented dependents) and any sub-cue timer
// is cancelled.
func (a *App) LoadCue(ctx context.Context, eventID uuid.UUID, cueID int64, actor models.Actor) (*models.MainTimer, error) {
	if err := auth.RequireTimerControl(actor); err != nil {
		return nil, err
	}
	cue, err := a.schedule.GetCue(ctx, eventID, cueID)
	if err != nil {
		return nil, err
	}
	if cue.IsIndented {
		return nil, ErrCueIndented
	}

	prev, err := a.store.GetMainTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	secondary, err := a.store.GetSecondaryTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	next := &models.MainTimer{
		EventID:         eventID,
		CueID:           cueID,
		State:           models.TimerStateLoaded,
		DurationSeconds: cue.TotalDurationSeconds(),
		ActorID:         actor.ID,
		ActorName:       actor.Name,
		ActorRole:       actor.Role,
		UpdatedAt:       now,
	}

	m := Mutation{
		EventID:  eventID,
		SetTimer: next,
		Broadcasts: []Broadcast{
			{Type: events.TypeTimerUpdated, Payload: events.TimerUpdated(next)},
		},
	}
	if secondary != nil {
		m.ClearSecondary = true
		m.Broadcasts = append(m.Broadcasts, Broadcast{
			Type: events.TypeSecondaryTimerCleared,
			Payload: events.SecondaryTimerPayload{
				EventID: eventID.String(),
				CueID:   secondary.CueID,
				ActorID: actor.ID,
			},
		})
	}
	if prev != nil && prev.CueID != cueID {
		completed, err := a.completeCue(ctx, eventID, prev.CueID, &m)
		if err != nil {
			return nil, err
		}
		m.Broadcasts = append(m.Broadcasts, Broadcast{
			Type:    events.TypeCompletedCuesUpdated,
			Payload: events.CompletedCuesPayload{EventID: eventID.String(), CueIDs: completed},
		})
	}

	if err := a.store.Apply(ctx, m); err != nil {
		return nil, err
	}
	log.Info().
		Str("event_id", eventID.String()).
		Int64("cue_id", cueID).
		Str("actor_id", actor.ID).
		Msg("cue loaded")
	return next, nil
}

// StartTimer begins the countdown for a cue. The start timestamp is always
// the authority's clock; client time never enters the row. Starting the
// event's designated show-start cue also records show-start overtime.
func (a *App) StartTimer(ctx context.Context, eventID uuid.UUID, cueID int64, actor models.Actor) (*models.MainTimer, error) {
	if err := auth.RequireTimerControl(actor); err != nil {
		return nil, err
	}
	cue, err := a.schedule.GetCue(ctx, eventID, cueID)
	if err != nil {
		return nil, err
	}
	if cue.IsIndented {
		return nil, ErrCueIndented
	}

	prev, err := a.store.GetMainTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.IsRunning() && prev.CueID != cueID {
		return nil, ErrTimerAlreadyRunning
	}

	now := a.clock.Now().UTC()
	startedAt := now
	next := &models.MainTimer{
		EventID:         eventID,
		CueID:           cueID,
		State:           models.TimerStateRunning,
		DurationSeconds: cue.TotalDurationSeconds(),
		StartedAt:       &startedAt,
		ActorID:         actor.ID,
		ActorName:       actor.Name,
		ActorRole:       actor.Role,
		UpdatedAt:       now,
	}
	if prev != nil && prev.CueID == cueID && prev.State == models.TimerStateLoaded {
		// Keep an adjusted duration made while loaded.
		next.DurationSeconds = prev.DurationSeconds
	}
	if prev != nil && prev.IsRunning() && prev.CueID == cueID {
		// Re-start of the running cue is a no-op; return the live row.
		return prev, nil
	}

	m := Mutation{
		EventID:  eventID,
		SetTimer: next,
		Broadcasts: []Broadcast{
			{Type: events.TypeTimerUpdated, Payload: events.TimerUpdated(next)},
		},
	}
	if prev != nil && prev.CueID != cueID {
		completed, err := a.completeCue(ctx, eventID, prev.CueID, &m)
		if err != nil {
			return nil, err
		}
		m.Broadcasts = append(m.Broadcasts, Broadcast{
			Type:    events.TypeCompletedCuesUpdated,
			Payload: events.CompletedCuesPayload{EventID: eventID.String(), CueIDs: completed},
		})
	}

	if err := a.recordShowStart(ctx, eventID, cue, startedAt, &m); err != nil {
		return nil, err
	}

	if err := a.store.Apply(ctx, m); err != nil {
		return nil, err
	}
	log.Info().
		Str("event_id", eventID.String()).
		Int64("cue_id", cueID).
		Int("duration_seconds", next.DurationSeconds).
		Msg("timer started")
	return next, nil
}

// StopTimer ends the countdown. The cue and its indented dependents are
// marked completed, and overtime is recorded when the overrun (or underrun)
// reaches a whole minute.
func (a *App) StopTimer(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.MainTimer, error) {
	if err := auth.RequireTimerControl(actor); err != nil {
		return nil, err
	}
	prev, err := a.store.GetMainTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, ErrNoTimer
	}
	secondary, err := a.store.GetSecondaryTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	next := *prev
	next.State = models.TimerStateStopped
	next.ActorID = actor.ID
	next.ActorName = actor.Name
	next.ActorRole = actor.Role
	next.UpdatedAt = now

	stopped := events.TimerStoppedPayload{
		EventID: eventID.String(),
		CueID:   prev.CueID,
		ActorID: actor.ID,
	}
	m := Mutation{
		EventID:  eventID,
		SetTimer: &next,
	}
	// Stopping the parent force-stops any sub-cue timer with it.
	if secondary != nil {
		m.ClearSecondary = true
		m.Broadcasts = append(m.Broadcasts, Broadcast{
			Type: events.TypeSecondaryTimerCleared,
			Payload: events.SecondaryTimerPayload{
				EventID: eventID.String(),
				CueID:   secondary.CueID,
				ActorID: actor.ID,
			},
		})
	}

	cue, err := a.schedule.GetCue(ctx, eventID, prev.CueID)
	if err != nil {
		return nil, err
	}
	if rec := overtime.OnStop(prev, cue, now); rec != nil {
		m.Overtime = rec
		stopped.OvertimeMinutes = &rec.Minutes
		m.Broadcasts = append(m.Broadcasts, Broadcast{
			Type: events.TypeOvertimeUpdate,
			Payload: events.OvertimeUpdatePayload{
				EventID: eventID.String(),
				CueID:   rec.CueID,
				Minutes: rec.Minutes,
			},
		})
	}

	completed, err := a.completeCue(ctx, eventID, prev.CueID, &m)
	if err != nil {
		return nil, err
	}
	m.Broadcasts = append(m.Broadcasts,
		Broadcast{Type: events.TypeTimerStopped, Payload: stopped},
		Broadcast{Type: events.TypeCompletedCuesUpdated, Payload: events.CompletedCuesPayload{
			EventID: eventID.String(), CueIDs: completed,
		}},
	)

	if err := a.store.Apply(ctx, m); err != nil {
		return nil, err
	}
	log.Info().
		Str("event_id", eventID.String()).
		Int64("cue_id", prev.CueID).
		Msg("timer stopped")
	return &next, nil
}

// AdjustDuration adds deltaSeconds to the live timer's duration and rewrites
// the cue's scheduled duration to match, in one transaction. The duration
// never goes below zero; remaining time may still be negative.
func (a *App) AdjustDuration(ctx context.Context, eventID uuid.UUID, deltaSeconds int, actor models.Actor) (*models.MainTimer, error) {
	if err := auth.RequireTimerControl(actor); err != nil {
		return nil, err
	}
	prev, err := a.store.GetMainTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, ErrNoTimer
	}

	next := *prev
	next.DurationSeconds = prev.DurationSeconds + deltaSeconds
	if next.DurationSeconds < 0 {
		next.DurationSeconds = 0
	}
	next.ActorID = actor.ID
	next.ActorName = actor.Name
	next.ActorRole = actor.Role
	next.UpdatedAt = a.clock.Now().UTC()

	m := Mutation{
		EventID:  eventID,
		SetTimer: &next,
		Duration: &DurationChange{
			CueID:   next.CueID,
			Hours:   next.DurationSeconds / 3600,
			Minutes: (next.DurationSeconds % 3600) / 60,
			Seconds: next.DurationSeconds % 60,
		},
		Broadcasts: []Broadcast{
			{Type: events.TypeTimerUpdated, Payload: events.TimerUpdated(&next)},
			{Type: events.TypeScheduleUpdated, Payload: events.ScheduleUpdatedPayload{
				EventID: eventID.String(),
				CueID:   next.CueID,
				Field:   "duration",
			}},
		},
	}
	if err := a.store.Apply(ctx, m); err != nil {
		return nil, err
	}
	return &next, nil
}

// StartSecondary starts the sub-cue timer for an indented cue. The parent
// cue must be the running main cue. At most one sub-cue timer exists per
// event; starting another replaces it.
func (a *App) StartSecondary(ctx context.Context, eventID uuid.UUID, cueID int64, actor models.Actor) (*models.SecondaryTimer, error) {
	if err := auth.RequireTimerControl(actor); err != nil {
		return nil, err
	}
	cue, err := a.schedule.GetCue(ctx, eventID, cueID)
	if err != nil {
		return nil, err
	}
	if !cue.IsIndented {
		return nil, ErrCueNotIndented
	}

	main, err := a.store.GetMainTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if main == nil || !main.IsRunning() {
		return nil, ErrParentNotRunning
	}
	if cue.ParentID == nil || *cue.ParentID != main.CueID {
		return nil, ErrParentNotRunning
	}

	now := a.clock.Now().UTC()
	startedAt := now
	next := &models.SecondaryTimer{
		EventID:         eventID,
		CueID:           cueID,
		State:           models.TimerStateRunning,
		DurationSeconds: cue.TotalDurationSeconds(),
		StartedAt:       &startedAt,
		ActorID:         actor.ID,
		ActorName:       actor.Name,
		UpdatedAt:       now,
	}
	m := Mutation{
		EventID:      eventID,
		SetSecondary: next,
		Broadcasts: []Broadcast{
			{Type: events.TypeSecondaryTimerStarted, Payload: events.SecondaryTimerPayload{
				EventID:         eventID.String(),
				CueID:           cueID,
				DurationSeconds: next.DurationSeconds,
				StartedAt:       next.StartedAt,
				ActorID:         actor.ID,
			}},
		},
	}
	if err := a.store.Apply(ctx, m); err != nil {
		return nil, err
	}
	log.Info().
		Str("event_id", eventID.String()).
		Int64("cue_id", cueID).
		Msg("sub-cue timer started")
	return next, nil
}

// StopSecondary marks the sub-cue timer stopped. The row stays visible until
// the authority's clear hold elapses and ClearSecondary removes it.
func (a *App) StopSecondary(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.SecondaryTimer, error) {
	if err := auth.RequireTimerControl(actor); err != nil {
		return nil, err
	}
	prev, err := a.store.GetSecondaryTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, ErrNoSecondaryTimer
	}

	next := *prev
	next.State = models.TimerStateStopped
	next.ActorID = actor.ID
	next.UpdatedAt = a.clock.Now().UTC()

	m := Mutation{
		EventID:      eventID,
		SetSecondary: &next,
		Broadcasts: []Broadcast{
			{Type: events.TypeSecondaryTimerStopped, Payload: events.SecondaryTimerPayload{
				EventID:         eventID.String(),
				CueID:           next.CueID,
				DurationSeconds: next.DurationSeconds,
				StartedAt:       next.StartedAt,
				ActorID:         actor.ID,
			}},
		},
	}
	if err := a.store.Apply(ctx, m); err != nil {
		return nil, err
	}
	return &next, nil
}

// ClearSecondary removes a stopped sub-cue timer row. Called by the
// authority after the clear hold; a timer that was restarted in the meantime
// is left alone.
func (a *App) ClearSecondary(ctx context.Context, eventID uuid.UUID, cueID int64) error {
	current, err := a.store.GetSecondaryTimer(ctx, eventID)
	if err != nil {
		return err
	}
	if current == nil || current.CueID != cueID || current.State != models.TimerStateStopped {
		return nil
	}
	return a.store.Apply(ctx, Mutation{
		EventID:        eventID,
		ClearSecondary: true,
		Broadcasts: []Broadcast{
			{Type: events.TypeSecondaryTimerCleared, Payload: events.SecondaryTimerPayload{
				EventID: eventID.String(),
				CueID:   cueID,
			}},
		},
	})
}

// ResetAll wipes every piece of live state for an event: timers, sub-cue
// timers, completed cues and all overtime records.
func (a *App) ResetAll(ctx context.Context, eventID uuid.UUID, actor models.Actor) error {
	if err := auth.RequireTimerControl(actor); err != nil {
		return err
	}
	m := Mutation{
		EventID:        eventID,
		ClearTimer:     true,
		ClearSecondary: true,
		ClearCompleted: true,
		ClearOvertime:  true,
		Broadcasts: []Broadcast{
			{Type: events.TypeResetAllStates, Payload: events.ResetPayload{EventID: eventID.String(), ActorID: actor.ID}},
			{Type: events.TypeOvertimeReset, Payload: events.ResetPayload{EventID: eventID.String(), ActorID: actor.ID}},
		},
	}
	if err := a.store.Apply(ctx, m); err != nil {
		return err
	}
	log.Info().
		Str("event_id", eventID.String()).
		Str("actor_id", actor.ID).
		Msg("all timer state reset")
	return nil
}

// GetSnapshot assembles the authoritative state for sync. ServerTime is
// stamped last so clients can seed their offset estimate from the same
// response.
func (a *App) GetSnapshot(ctx context.Context, eventID uuid.UUID) (*Snapshot, error) {
	timer, err := a.store.GetMainTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	secondary, err := a.store.GetSecondaryTimer(ctx, eventID)
	if err != nil {
		return nil, err
	}
	completed, err := a.store.ListCompletedCues(ctx, eventID)
	if err != nil {
		return nil, err
	}
	overtimes, err := a.overtime.ListCueOvertimes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	showStart, err := a.overtime.GetShowStart(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		EventID:       eventID,
		Timer:         timer,
		Secondary:     secondary,
		CompletedCues: completed,
		Overtimes:     overtimes,
		ShowStart:     showStart,
		ServerTime:    a.clock.Now().UTC(),
	}, nil
}

// ProjectedCue is one non-indented cue with its overtime-adjusted start.
type ProjectedCue struct {
	CueID          int64     `json:"cue_id"`
	Day            int       `json:"day"`
	ShiftMinutes   int       `json:"shift_minutes"`
	ScheduledStart time.Time `json:"scheduled_start"`
	ProjectedStart time.Time `json:"projected_start"`
}

// ProjectionView is the overtime-adjusted schedule served alongside sync.
type ProjectionView struct {
	EventID    uuid.UUID      `json:"event_id"`
	Cues       []ProjectedCue `json:"cues"`
	ServerTime time.Time      `json:"server_time"`
}

// GetProjection recomputes projected start times from the base schedule plus
// the accumulated overtime records. Cues on days without a configured start
// time are skipped rather than failing the whole view.
func (a *App) GetProjection(ctx context.Context, eventID uuid.UUID) (*ProjectionView, error) {
	event, err := a.schedule.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	cues, err := a.schedule.ListCues(ctx, eventID)
	if err != nil {
		return nil, err
	}
	records, err := a.overtime.ListCueOvertimes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	showStart, err := a.overtime.GetShowStart(ctx, eventID)
	if err != nil {
		return nil, err
	}

	perCue := make(map[int64]int, len(records))
	for _, r := range records {
		perCue[r.CueID] = r.Minutes
	}
	projection := &overtime.Projection{
		Event:     event,
		Schedule:  cues,
		PerCue:    perCue,
		ShowStart: showStart,
	}

	now := a.clock.Now().UTC()
	view := &ProjectionView{EventID: eventID, ServerTime: now}
	for _, cue := range cues {
		if cue.IsIndented {
			continue
		}
		base, err := overtime.ScheduledStart(event, cues, cue.ID, now)
		if err != nil {
			continue
		}
		shift := projection.ShiftMinutes(cue.ID)
		view.Cues = append(view.Cues, ProjectedCue{
			CueID:          cue.ID,
			Day:            cue.Day,
			ShiftMinutes:   shift,
			ScheduledStart: base,
			ProjectedStart: base.Add(time.Duration(shift) * time.Minute),
		})
	}
	return view, nil
}

// completeCue marks cueID and its indented dependents completed on the
// mutation and returns the resulting full completed set.
func (a *App) completeCue(ctx context.Context, eventID uuid.UUID, cueID int64, m *Mutation) ([]int64, error) {
	cues, err := a.schedule.ListCues(ctx, eventID)
	if err != nil {
		return nil, err
	}
	newlyDone := []int64{cueID}
	for _, c := range cues {
		if c.IsIndented && c.ParentID != nil && *c.ParentID == cueID {
			newlyDone = append(newlyDone, c.ID)
		}
	}
	m.CompleteCues = append(m.CompleteCues, newlyDone...)

	existing, err := a.store.ListCompletedCues(ctx, eventID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(existing)+len(newlyDone))
	full := make([]int64, 0, len(existing)+len(newlyDone))
	for _, id := range append(existing, newlyDone...) {
		if !seen[id] {
			seen[id] = true
			full = append(full, id)
		}
	}
	return full, nil
}

// recordShowStart adds a show-start overtime record to the mutation when the
// started cue is the event's designated show-start cue.
func (a *App) recordShowStart(ctx context.Context, eventID uuid.UUID, cue *models.Cue, startedAt time.Time, m *Mutation) error {
	event, err := a.schedule.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.StartCueID == nil || *event.StartCueID != cue.ID {
		return nil
	}
	cues, err := a.schedule.ListCues(ctx, eventID)
	if err != nil {
		return err
	}
	rec, err := overtime.ShowStartDelta(event, cues, cue, startedAt)
	if err != nil {
		return fmt.Errorf("show-start overtime: %w", err)
	}
	m.ShowStart = rec
	m.Broadcasts = append(m.Broadcasts, Broadcast{
		Type: events.TypeShowStartOvertimeUpdate,
		Payload: events.ShowStartOvertimePayload{
			EventID:     eventID.String(),
			CueID:       rec.CueID,
			Minutes:     rec.Minutes,
			ScheduledAt: rec.ScheduledAt,
			ActualAt:    rec.ActualAt,
		},
	})
	return nil
}
