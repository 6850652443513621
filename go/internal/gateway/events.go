package gateway

import (
	"encoding/json"
	"time"

	timerevents "github.com/showops/cueline/go/internal/timer/events"
)

// ShowEvent is the frame every websocket client receives. Data carries the
// event-type specific payload untouched.
type ShowEvent struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType identifies a websocket frame.
type EventType string

// Domain events pass through from the outbox; gateway events originate here.
const (
	EventTypeTimerUpdated            EventType = timerevents.TypeTimerUpdated
	EventTypeTimerStopped            EventType = timerevents.TypeTimerStopped
	EventTypeSecondaryTimerStarted   EventType = timerevents.TypeSecondaryTimerStarted
	EventTypeSecondaryTimerStopped   EventType = timerevents.TypeSecondaryTimerStopped
	EventTypeSecondaryTimerCleared   EventType = timerevents.TypeSecondaryTimerCleared
	EventTypeOvertimeUpdate          EventType = timerevents.TypeOvertimeUpdate
	EventTypeShowStartOvertimeUpdate EventType = timerevents.TypeShowStartOvertimeUpdate
	EventTypeOvertimeReset           EventType = timerevents.TypeOvertimeReset
	EventTypeCompletedCuesUpdated    EventType = timerevents.TypeCompletedCuesUpdated
	EventTypeResetAllStates          EventType = timerevents.TypeResetAllStates
	EventTypeScheduleUpdated         EventType = timerevents.TypeScheduleUpdated
	EventTypeChangeLogUpdated        EventType = timerevents.TypeChangeLogUpdated

	EventTypeServerTime      EventType = "serverTime"
	EventTypeTimerTick       EventType = "timerTick"
	EventTypePresenceUpdated EventType = "presenceUpdated"
	EventTypeSyncState       EventType = "syncState"
)

// ServerTimePayload lets clients estimate their clock offset. Sent on
// connect and periodically afterwards.
type ServerTimePayload struct {
	ServerTime time.Time `json:"server_time"`
}

// TimerTickPayload is the once-a-second countdown frame for running timers.
// Ticks are cosmetic; clients that miss some recompute from started_at.
type TimerTickPayload struct {
	EventID             string    `json:"event_id"`
	CueID               int64     `json:"cue_id"`
	ElapsedSeconds      int       `json:"elapsed_seconds"`
	RemainingSeconds    int       `json:"remaining_seconds"`
	SecondaryCueID      *int64    `json:"secondary_cue_id,omitempty"`
	SecondaryElapsedSec *int      `json:"secondary_elapsed_sec,omitempty"`
	TickedAt            time.Time `json:"ticked_at"`
}

// PresencePayload is the full roster of connected actors for an event.
type PresencePayload struct {
	EventID string          `json:"event_id"`
	Actors  []PresenceEntry `json:"actors"`
}

type PresenceEntry struct {
	ActorID   string    `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}

// clientMessage is what clients may send over the socket. Everything except
// sync requests and presence pings is ignored; commands go over HTTP.
type clientMessage struct {
	Type string `json:"type"`
}
