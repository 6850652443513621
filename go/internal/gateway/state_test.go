package gateway

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	timerevents "github.com/showops/cueline/go/internal/timer/events"
)

func mustShowEvent(t *testing.T, eventID uuid.UUID, eventType EventType, payload any) *ShowEvent {
	t.Helper()
	event, err := NewShowEvent(eventID, eventType, payload)
	require.NoError(t, err)
	return event
}

func TestStateManagerTracksRunningTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewEventStateManager(clock)
	eventID := uuid.New()

	startedAt := clock.Now().UTC()
	err := m.ProcessEvent(mustShowEvent(t, eventID, EventTypeTimerUpdated, timerevents.TimerUpdatedPayload{
		EventID:         eventID.String(),
		CueID:           42,
		State:           "RUNNING",
		DurationSeconds: 300,
		StartedAt:       &startedAt,
	}))
	require.NoError(t, err)

	state := m.GetState(eventID)
	require.NotNil(t, state)
	require.NotNil(t, state.Timer)
	assert.Equal(t, int64(42), state.Timer.CueID)
	assert.Equal(t, 300, state.Timer.DurationSeconds)
}

func TestStateManagerLoadedTimerDoesNotTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewEventStateManager(clock)
	eventID := uuid.New()

	err := m.ProcessEvent(mustShowEvent(t, eventID, EventTypeTimerUpdated, timerevents.TimerUpdatedPayload{
		EventID:         eventID.String(),
		CueID:           42,
		State:           "LOADED",
		DurationSeconds: 300,
	}))
	require.NoError(t, err)

	state := m.GetState(eventID)
	require.NotNil(t, state)
	assert.Nil(t, state.Timer)
}

func TestStateManagerStopClearsTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewEventStateManager(clock)
	eventID := uuid.New()

	startedAt := clock.Now().UTC()
	require.NoError(t, m.ProcessEvent(mustShowEvent(t, eventID, EventTypeTimerUpdated, timerevents.TimerUpdatedPayload{
		EventID: eventID.String(), CueID: 42, State: "RUNNING", DurationSeconds: 300, StartedAt: &startedAt,
	})))
	require.NoError(t, m.ProcessEvent(mustShowEvent(t, eventID, EventTypeTimerStopped, timerevents.TimerStoppedPayload{
		EventID: eventID.String(), CueID: 42,
	})))

	state := m.GetState(eventID)
	require.NotNil(t, state)
	assert.Nil(t, state.Timer)
}

func TestStateManagerSecondaryLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewEventStateManager(clock)
	eventID := uuid.New()

	startedAt := clock.Now().UTC()
	require.NoError(t, m.ProcessEvent(mustShowEvent(t, eventID, EventTypeSecondaryTimerStarted, timerevents.SecondaryTimerPayload{
		EventID: eventID.String(), CueID: 43, DurationSeconds: 120, StartedAt: &startedAt,
	})))
	state := m.GetState(eventID)
	require.NotNil(t, state)
	require.NotNil(t, state.Secondary)
	assert.Equal(t, int64(43), state.Secondary.CueID)

	require.NoError(t, m.ProcessEvent(mustShowEvent(t, eventID, EventTypeSecondaryTimerCleared, timerevents.SecondaryTimerPayload{
		EventID: eventID.String(), CueID: 43,
	})))
	state = m.GetState(eventID)
	require.NotNil(t, state)
	assert.Nil(t, state.Secondary)
}

func TestStateManagerResetRemovesState(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewEventStateManager(clock)
	eventID := uuid.New()

	startedAt := clock.Now().UTC()
	require.NoError(t, m.ProcessEvent(mustShowEvent(t, eventID, EventTypeTimerUpdated, timerevents.TimerUpdatedPayload{
		EventID: eventID.String(), CueID: 42, State: "RUNNING", DurationSeconds: 300, StartedAt: &startedAt,
	})))
	require.NoError(t, m.ProcessEvent(mustShowEvent(t, eventID, EventTypeResetAllStates, timerevents.ResetPayload{
		EventID: eventID.String(),
	})))

	assert.Nil(t, m.GetState(eventID))
}

func TestTickDerivesElapsedFromStartedAt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewEventStateManager(clock)
	eventID := uuid.New()

	startedAt := clock.Now().UTC()
	require.NoError(t, m.ProcessEvent(mustShowEvent(t, eventID, EventTypeTimerUpdated, timerevents.TimerUpdatedPayload{
		EventID: eventID.String(), CueID: 42, State: "RUNNING", DurationSeconds: 300, StartedAt: &startedAt,
	})))

	// Two minutes pass; the derived tick must reflect them even though no
	// intermediate ticks were observed.
	clock.Advance(2 * time.Minute)

	state := m.GetState(eventID)
	require.NotNil(t, state.Timer)
	now := clock.Now().UTC()
	elapsed := int(now.Sub(state.Timer.StartedAt) / time.Second)
	assert.Equal(t, 120, elapsed)
	assert.Equal(t, 180, state.Timer.DurationSeconds-elapsed)
}
