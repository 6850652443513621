package events

import (
	"encoding/json"
	"time"
)

// Envelope is the wire frame published to NATS and forwarded to websocket
// clients. Payload stays opaque to the transport.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	EventID   string          `json:"eventId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}
