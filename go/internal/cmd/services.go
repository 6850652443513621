package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/changelog"
	"github.com/showops/cueline/go/internal/gateway"
	"github.com/showops/cueline/go/internal/outbox"
	"github.com/showops/cueline/go/internal/overtime"
	"github.com/showops/cueline/go/internal/schedule"
	"github.com/showops/cueline/go/internal/timer"
)

type Services struct {
	Authority *timer.Authority
	Changes   *changelog.App
	Gateway   *gateway.Service
	Relay     *outbox.Listener

	natsConn *nats.Conn
}

func setupServices(ctx context.Context, pool *pgxpool.Pool, database *sql.DB, dsn string, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Authority/Service layer
	clock := clockwork.NewRealClock()

	overtimeRepo := overtime.NewRepository(pool)
	scheduleRepo := schedule.NewRepository(pool)
	timerRepo := timer.NewRepository(pool, overtimeRepo, scheduleRepo)

	timerApp := timer.NewApp(timerRepo, scheduleRepo, overtimeRepo, clock)
	authority := timer.NewAuthority(timerApp, clock, config.clearHold())

	changes := changelog.NewApp(changelog.NewRepository(pool), clock, config.bufferConfig())

	// Outbox relay: timer commits land in timer_outbox inside the same
	// transaction; the relay drains them onto JetStream.
	natsConn, js, err := outbox.SetupNATS(getEnv("NATS_URL", nats.DefaultURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	publisher, err := outbox.NewNATSPublisher(ctx, js)
	if err != nil {
		natsConn.Close()
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	listenerCfg := outbox.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dsn
	relay, err := outbox.NewListener(outbox.NewRepository(database), publisher, listenerCfg)
	if err != nil {
		natsConn.Close()
		return nil, fmt.Errorf("failed to create outbox relay: %w", err)
	}

	gatewayService, err := gateway.NewService(config.gatewayConfig(), authority, changes, clock)
	if err != nil {
		natsConn.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	return &Services{
		Authority: authority,
		Changes:   changes,
		Gateway:   gatewayService,
		Relay:     relay,
		natsConn:  natsConn,
	}, nil
}

// Shutdown releases everything setupServices opened, in reverse order.
func (s *Services) Shutdown() {
	s.Authority.Close()
	if err := s.Gateway.Stop(); err != nil {
		log.Error().Err(err).Msg("gateway stop")
	}
	if err := s.Relay.Stop(); err != nil {
		log.Error().Err(err).Msg("outbox relay stop")
	}
	s.natsConn.Close()
}
