package gateway

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/models"
)

// WebSocketHandler upgrades viewer/editor/operator connections for a show.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleEventConnection handles websocket connections for one show event.
// Actors self-identify via query parameters; an absent or unknown role
// downgrades to viewer rather than rejecting the connection.
func (h *WebSocketHandler) HandleEventConnection(w http.ResponseWriter, r *http.Request) {
	eventIDStr := r.URL.Query().Get("event_id")
	if eventIDStr == "" {
		http.Error(w, "event_id is required", http.StatusBadRequest)
		return
	}
	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		http.Error(w, "invalid event_id format", http.StatusBadRequest)
		return
	}

	actor := models.Actor{
		ID:   r.URL.Query().Get("actor_id"),
		Name: r.URL.Query().Get("actor_name"),
		Role: models.Role(r.URL.Query().Get("role")),
	}
	if actor.ID == "" {
		actor.ID = uuid.New().String()
	}
	if !actor.Role.Valid() {
		actor.Role = models.RoleViewer
	}

	if err := h.connectionManager.UpgradeConnection(w, r, actor, eventID); err != nil {
		log.Error().
			Err(err).
			Str("event_id", eventID.String()).
			Str("actor_id", actor.ID).
			Msg("failed to upgrade websocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	total, activeEvents := h.connectionManager.GetConnectionStats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"total_connections":%d,"active_events":%d}`, total, activeEvents)
}

// RegisterRoutes registers websocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/events", h.HandleEventConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
