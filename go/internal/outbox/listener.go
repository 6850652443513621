package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // channel pg_notify'd by timer commits
	FallbackInterval time.Duration // how often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "timer_outbox",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// Store is the slice of Repository the relay drains through.
type Store interface {
	FetchUnsentForEvent(ctx context.Context, eventID uuid.UUID) ([]Row, error)
	FetchUnsent(ctx context.Context, limit int) ([]Row, error)
	MarkSent(ctx context.Context, ids []uuid.UUID) error
}

// Listener is the outbox relay. The hot path is LISTEN/NOTIFY: a timer
// commit notifies with its event id and the relay drains that event's unsent
// rows immediately. The fallback poll catches anything a dropped connection
// missed.
type Listener struct {
	repo      Store
	listener  *pq.Listener
	publisher Publisher
	cfg       ListenerConfig
}

func NewListener(repo Store, publisher Publisher, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.NotifyChannel, err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for outbox notifications")

	return &Listener{
		repo:      repo,
		listener:  l,
		publisher: publisher,
		cfg:       cfg,
	}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("outbox relay started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Drain whatever accumulated while the relay was down.
	if err := l.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed initial outbox drain")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil means the connection was lost and re-established; the
				// fallback poll covers anything missed in between.
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle outbox notification")
			}
		case <-fallbackTicker.C:
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent outbox events")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping outbox listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

// handleNotification drains the unsent rows of the event named in the
// notification payload.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	eventID, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event id in notification: %w", err)
	}

	rows, err := l.repo.FetchUnsentForEvent(ctx, eventID)
	if err != nil {
		return err
	}
	return l.publishRows(ctx, rows)
}

func (l *Listener) processUnsent(ctx context.Context) error {
	rows, err := l.repo.FetchUnsent(ctx, l.cfg.BatchSize)
	if err != nil {
		return err
	}
	return l.publishRows(ctx, rows)
}

func (l *Listener) publishRows(ctx context.Context, rows []Row) error {
	var sent []uuid.UUID
	for _, row := range rows {
		if err := l.publishWithRetry(ctx, row); err != nil {
			log.Error().Err(err).
				Str("outbox_id", row.ID.String()).
				Str("type", row.EventType).
				Msg("failed to publish outbox row")
			// Stop at the first failure to preserve per-event ordering.
			break
		}
		sent = append(sent, row.ID)
	}
	if len(sent) == 0 {
		return nil
	}
	return l.repo.MarkSent(ctx, sent)
}

func (l *Listener) publishWithRetry(ctx context.Context, row Row) error {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := l.publisher.Publish(ctx, row); err != nil {
			lastErr = err
			log.Warn().Err(err).
				Int("attempt", attempt+1).
				Str("outbox_id", row.ID.String()).
				Msg("publish failed, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("outbox_id", row.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}
	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}
