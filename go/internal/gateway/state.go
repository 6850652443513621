package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	timerevents "github.com/showops/cueline/go/internal/timer/events"
)

// runningTimer is the slice of authoritative state the tick loop needs.
type runningTimer struct {
	CueID           int64
	DurationSeconds int
	StartedAt       time.Time
}

// EventState mirrors the running timers of one show, rebuilt purely from
// broadcast events. It exists so the gateway can emit countdown ticks without
// touching the database every second.
type EventState struct {
	Timer     *runningTimer
	Secondary *runningTimer
}

// EventStateManager tracks per-event state and drives the once-a-second
// timerTick fanout for events with a running timer.
type EventStateManager struct {
	mu     sync.RWMutex
	states map[uuid.UUID]*EventState
	clock  clockwork.Clock
}

func NewEventStateManager(clock clockwork.Clock) *EventStateManager {
	return &EventStateManager{
		states: make(map[uuid.UUID]*EventState),
		clock:  clock,
	}
}

// GetState returns a copy of the tracked state for an event, or nil.
func (m *EventStateManager) GetState(eventID uuid.UUID) *EventState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[eventID]
	if !ok {
		return nil
	}
	copied := *state
	return &copied
}

// ProcessEvent folds one broadcast event into the tracked state.
func (m *EventStateManager) ProcessEvent(event *ShowEvent) error {
	eventID, err := uuid.Parse(event.EventID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[eventID]
	if !ok {
		state = &EventState{}
	}

	switch event.Type {
	case EventTypeTimerUpdated:
		var p timerevents.TimerUpdatedPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("unmarshal timerUpdated: %w", err)
		}
		if p.State == "RUNNING" && p.StartedAt != nil {
			state.Timer = &runningTimer{
				CueID:           p.CueID,
				DurationSeconds: p.DurationSeconds,
				StartedAt:       *p.StartedAt,
			}
		} else {
			state.Timer = nil
		}

	case EventTypeTimerStopped:
		state.Timer = nil

	case EventTypeSecondaryTimerStarted:
		var p timerevents.SecondaryTimerPayload
		if err := json.Unmarshal(event.Data, &p); err != nil {
			return fmt.Errorf("unmarshal secondaryTimerStarted: %w", err)
		}
		if p.StartedAt != nil {
			state.Secondary = &runningTimer{
				CueID:           p.CueID,
				DurationSeconds: p.DurationSeconds,
				StartedAt:       *p.StartedAt,
			}
		}

	case EventTypeSecondaryTimerStopped, EventTypeSecondaryTimerCleared:
		state.Secondary = nil

	case EventTypeResetAllStates:
		delete(m.states, eventID)
		return nil
	}

	m.states[eventID] = state
	return nil
}

// RunTicker emits timerTick frames once a second for every event with a
// running timer. Ticks are derived, never stored; a missed tick costs
// nothing because clients recompute from started_at.
func (m *EventStateManager) RunTicker(ctx context.Context, cm *ConnectionManager) {
	ticker := m.clock.NewTicker(time.Second)
	defer ticker.Stop()

	log.Info().Msg("timer tick loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("timer tick loop shutting down")
			return
		case <-ticker.Chan():
			m.tick(cm)
		}
	}
}

func (m *EventStateManager) tick(cm *ConnectionManager) {
	now := m.clock.Now().UTC()

	m.mu.RLock()
	type pending struct {
		eventID uuid.UUID
		payload TimerTickPayload
	}
	var ticks []pending
	for eventID, state := range m.states {
		if state.Timer == nil {
			continue
		}
		elapsed := int(now.Sub(state.Timer.StartedAt) / time.Second)
		payload := TimerTickPayload{
			EventID:          eventID.String(),
			CueID:            state.Timer.CueID,
			ElapsedSeconds:   elapsed,
			RemainingSeconds: state.Timer.DurationSeconds - elapsed,
			TickedAt:         now,
		}
		if state.Secondary != nil {
			secCue := state.Secondary.CueID
			secElapsed := int(now.Sub(state.Secondary.StartedAt) / time.Second)
			payload.SecondaryCueID = &secCue
			payload.SecondaryElapsedSec = &secElapsed
		}
		ticks = append(ticks, pending{eventID, payload})
	}
	m.mu.RUnlock()

	for _, t := range ticks {
		event, err := NewShowEvent(t.eventID, EventTypeTimerTick, t.payload)
		if err != nil {
			log.Error().Err(err).Msg("failed to build tick event")
			continue
		}
		cm.BroadcastToEvent(t.eventID, event)
	}
}
