// Package outbox relays committed timer broadcasts from Postgres to NATS.
// Rows are written in the same transaction as the state they announce, so a
// broadcast can never describe a mutation that did not commit.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Row is one unsent broadcast in the timer_outbox table. Seq is the
// commit-order sequence the relay drains by; created_at alone cannot order
// rows because every broadcast of one transaction shares the same NOW().
type Row struct {
	ID        uuid.UUID       `json:"id"`
	Seq       int64           `json:"seq"`
	EventID   uuid.UUID       `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}
