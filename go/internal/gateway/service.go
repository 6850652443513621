package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Service ties the gateway together: websocket fanout, the JetStream
// consumer feeding it, the tick loop and the HTTP command surface.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	stateManager      *EventStateManager
	commandHandler    *CommandHandler
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
	}
}

// snapshotProvider adapts the timer authority to the connection manager's
// raw-JSON sync interface.
type snapshotProvider struct {
	authority TimerAuthority
}

func (p *snapshotProvider) GetSnapshot(ctx context.Context, eventID uuid.UUID) (json.RawMessage, error) {
	snapshot, err := p.authority.GetSnapshot(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshot)
}

// NewService creates the gateway service.
func NewService(config Config, authority TimerAuthority, changes ChangeLog, clock clockwork.Clock) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, &snapshotProvider{authority: authority})
	stateManager := NewEventStateManager(clock)

	eventConsumer, err := NewEventConsumer(connectionManager, stateManager, config.JetStreamConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		eventConsumer:     eventConsumer,
		stateManager:      stateManager,
		commandHandler:    NewCommandHandler(authority, changes),
	}, nil
}

// Start runs the fanout loop, the JetStream consumer and the tick loop until
// ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	go s.connectionManager.Start(ctx)
	go s.stateManager.RunTicker(ctx, s.connectionManager)

	log.Info().Msg("gateway service started")
	return s.eventConsumer.Start(ctx)
}

// Stop shuts down the event consumer.
func (s *Service) Stop() error {
	return s.eventConsumer.Stop()
}

// RegisterRoutes registers the websocket and command routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.commandHandler.RegisterRoutes(mux)
}

// ConnectionManager exposes the fanout layer (health endpoints, tests).
func (s *Service) ConnectionManager() *ConnectionManager {
	return s.connectionManager
}
