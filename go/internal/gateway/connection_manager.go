// Package gateway fans authoritative timer events out to websocket clients
// and accepts their commands over HTTP. It holds no truth of its own: every
// frame it sends was either committed through the outbox or derived from a
// committed row.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/models"
)

// SyncProvider serves the authoritative snapshot a client needs on connect
// or explicit resync.
type SyncProvider interface {
	GetSnapshot(ctx context.Context, eventID uuid.UUID) (json.RawMessage, error)
}

// ConnectionManager manages websocket connections, grouped per show event.
type ConnectionManager struct {
	eventConnections map[uuid.UUID]map[*Connection]bool
	mu               sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	sync     SyncProvider

	broadcastCh chan BroadcastMessage
}

// Connection is one websocket client with its self-identified actor.
type Connection struct {
	ID      string
	Actor   models.Actor
	EventID uuid.UUID
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	LastPing    time.Time
}

type ConnectionConfig struct {
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	PingInterval       time.Duration
	ServerTimeInterval time.Duration // how often serverTime frames go out
	MaxMessageSize     int64
	ReadBufferSize     int
	WriteBufferSize    int
	CheckOrigin        func(r *http.Request) bool
}

// BroadcastMessage targets every connection of an event, or one actor when
// ActorID is set.
type BroadcastMessage struct {
	EventID uuid.UUID
	Event   *ShowEvent
	ActorID string
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:       10 * time.Second,
		ReadTimeout:        60 * time.Second,
		PingInterval:       30 * time.Second,
		ServerTimeInterval: 30 * time.Second,
		MaxMessageSize:     4096,
		ReadBufferSize:     1024,
		WriteBufferSize:    1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

func NewConnectionManager(config ConnectionConfig, syncProvider SyncProvider) *ConnectionManager {
	return &ConnectionManager{
		eventConnections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		sync:        syncProvider,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcast messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a websocket and joins the
// event room. The client immediately receives serverTime (for clock offset)
// and a full syncState frame.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, actor models.Actor, eventID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Actor:       actor,
		EventID:     eventID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	connection.sendServerTime()
	connection.sendSyncState(r.Context())
	cm.broadcastPresence(eventID)

	log.Info().
		Str("connection_id", connection.ID).
		Str("actor_id", actor.ID).
		Str("role", string(actor.Role)).
		Str("event_id", eventID.String()).
		Msg("websocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.eventConnections[conn.EventID] == nil {
		cm.eventConnections[conn.EventID] = make(map[*Connection]bool)
	}
	cm.eventConnections[conn.EventID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("event_id", conn.EventID.String()).
		Int("total_connections", len(cm.eventConnections[conn.EventID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	removed := false
	if connections, exists := cm.eventConnections[conn.EventID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)
			removed = true

			if len(connections) == 0 {
				delete(cm.eventConnections, conn.EventID)
			}
		}
	}
	cm.mu.Unlock()

	if removed {
		log.Info().
			Str("connection_id", conn.ID).
			Str("actor_id", conn.Actor.ID).
			Str("event_id", conn.EventID.String()).
			Msg("connection unregistered")
		cm.broadcastPresence(conn.EventID)
	}
}

// BroadcastToEvent queues an event for every client of a show.
func (cm *ConnectionManager) BroadcastToEvent(eventID uuid.UUID, event *ShowEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{EventID: eventID, Event: event}:
	default:
		log.Warn().Str("event_id", eventID.String()).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastToActor queues an event for one actor's connections only.
func (cm *ConnectionManager) BroadcastToActor(eventID uuid.UUID, actorID string, event *ShowEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{EventID: eventID, Event: event, ActorID: actorID}:
	default:
		log.Warn().
			Str("event_id", eventID.String()).
			Str("actor_id", actorID).
			Msg("broadcast channel full, dropping actor message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.eventConnections[message.EventID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	var targets []*Connection
	for conn := range connections {
		if message.ActorID != "" && conn.Actor.ID != message.ActorID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- eventData:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Str("actor_id", conn.Actor.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("event_id", message.EventID.String()).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Roster returns the connected actors for an event, oldest connection first.
func (cm *ConnectionManager) Roster(eventID uuid.UUID) []PresenceEntry {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	seen := make(map[string]bool)
	var roster []PresenceEntry
	for conn := range cm.eventConnections[eventID] {
		if seen[conn.Actor.ID] {
			continue
		}
		seen[conn.Actor.ID] = true
		roster = append(roster, PresenceEntry{
			ActorID:   conn.Actor.ID,
			ActorName: conn.Actor.Name,
			Role:      string(conn.Actor.Role),
			JoinedAt:  conn.ConnectedAt,
		})
	}
	return roster
}

func (cm *ConnectionManager) broadcastPresence(eventID uuid.UUID) {
	event, err := NewShowEvent(eventID, EventTypePresenceUpdated, PresencePayload{
		EventID: eventID.String(),
		Actors:  cm.Roster(eventID),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build presence event")
		return
	}
	cm.BroadcastToEvent(eventID, event)
}

// GetConnectionStats returns statistics about active connections.
func (cm *ConnectionManager) GetConnectionStats() (total int, activeEvents int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, connections := range cm.eventConnections {
		total += len(connections)
	}
	return total, len(cm.eventConnections)
}

// NewShowEvent wraps a payload into a broadcast-ready frame.
func NewShowEvent(eventID uuid.UUID, eventType EventType, payload any) (*ShowEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &ShowEvent{
		ID:        uuid.New().String(),
		EventID:   eventID.String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

func (c *Connection) sendServerTime() {
	event, err := NewShowEvent(c.EventID, EventTypeServerTime, ServerTimePayload{ServerTime: time.Now().UTC()})
	if err != nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

func (c *Connection) sendSyncState(ctx context.Context) {
	if c.Manager.sync == nil {
		return
	}
	snapshot, err := c.Manager.sync.GetSnapshot(ctx, c.EventID)
	if err != nil {
		log.Error().Err(err).
			Str("event_id", c.EventID.String()).
			Msg("failed to build sync snapshot")
		return
	}
	event := &ShowEvent{
		ID:        uuid.New().String(),
		EventID:   c.EventID.String(),
		Type:      EventTypeSyncState,
		Timestamp: time.Now().UTC(),
		Data:      snapshot,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// writePump sends messages, pings and periodic serverTime frames.
func (c *Connection) writePump() {
	pingTicker := time.NewTicker(c.Manager.config.PingInterval)
	serverTimeTicker := time.NewTicker(c.Manager.config.ServerTimeInterval)
	defer func() {
		pingTicker.Stop()
		serverTimeTicker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to websocket")
				return
			}

		case <-serverTimeTicker.C:
			c.sendServerTime()

		case <-pingTicker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected websocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage serves the few things clients say over the socket.
// Commands never arrive here; they go over HTTP so rejections carry status
// codes.
func (c *Connection) handleClientMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().
			Str("connection_id", c.ID).
			Msg("ignoring malformed client message")
		return
	}

	switch msg.Type {
	case "requestSync":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.sendSyncState(ctx)
		cancel()
	case "requestServerTime":
		c.sendServerTime()
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", msg.Type).
			Msg("ignoring unknown client message")
	}
}
