package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/showops/cueline/go/internal/models"
	"github.com/showops/cueline/go/internal/overtime"
	"github.com/showops/cueline/go/internal/schedule"
)

// outboxNotifyChannel is the pg_notify channel the outbox listener subscribes
// to. Kept in sync with the relay configuration.
const outboxNotifyChannel = "timer_outbox"

// Broadcast is one event queued for clients as part of a mutation. The
// payload is marshaled when the outbox row is written.
type Broadcast struct {
	Type    string
	Payload any
}

// DurationChange rewrites a cue's scheduled duration alongside the live
// timer, so projections and the countdown stay in agreement.
type DurationChange struct {
	CueID   int64
	Hours   int
	Minutes int
	Seconds int
}

// Mutation is one atomic state transition of an event's timer state. All set
// fields commit in a single transaction together with the outbox rows for
// its broadcasts.
type Mutation struct {
	EventID uuid.UUID

	SetTimer   *models.MainTimer
	ClearTimer bool

	SetSecondary   *models.SecondaryTimer
	ClearSecondary bool

	CompleteCues   []int64
	ClearCompleted bool

	Duration *DurationChange

	Overtime      *models.OvertimeRecord
	ShowStart     *models.ShowStartOvertime
	ClearOvertime bool

	Broadcasts []Broadcast
}

// Store is what the app layer needs from persistence.
type Store interface {
	GetMainTimer(ctx context.Context, eventID uuid.UUID) (*models.MainTimer, error)
	GetSecondaryTimer(ctx context.Context, eventID uuid.UUID) (*models.SecondaryTimer, error)
	ListCompletedCues(ctx context.Context, eventID uuid.UUID) ([]int64, error)
	Apply(ctx context.Context, m Mutation) error
}

// Repository is the Postgres store. Timer rows are one-per-event upserts;
// every command overwrites the previous row rather than inserting history.
type Repository struct {
	pool         *pgxpool.Pool
	overtimeRepo *overtime.Repository
	scheduleRepo *schedule.Repository
}

func NewRepository(pool *pgxpool.Pool, overtimeRepo *overtime.Repository, scheduleRepo *schedule.Repository) *Repository {
	return &Repository{
		pool:         pool,
		overtimeRepo: overtimeRepo,
		scheduleRepo: scheduleRepo,
	}
}

// GetMainTimer returns the live main timer, or nil when none exists.
func (r *Repository) GetMainTimer(ctx context.Context, eventID uuid.UUID) (*models.MainTimer, error) {
	var t models.MainTimer
	err := r.pool.QueryRow(ctx,
		`SELECT event_id, item_id, state, duration_seconds, started_at, actor_id, actor_name, actor_role, updated_at
		 FROM active_timers WHERE event_id = $1`,
		eventID).Scan(&t.EventID, &t.CueID, &t.State, &t.DurationSeconds, &t.StartedAt,
		&t.ActorID, &t.ActorName, &t.ActorRole, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get main timer: %w", err)
	}
	return &t, nil
}

// GetSecondaryTimer returns the live sub-cue timer, or nil when none exists.
func (r *Repository) GetSecondaryTimer(ctx context.Context, eventID uuid.UUID) (*models.SecondaryTimer, error) {
	var t models.SecondaryTimer
	err := r.pool.QueryRow(ctx,
		`SELECT event_id, item_id, state, duration_seconds, started_at, actor_id, actor_name, updated_at
		 FROM sub_cue_timers WHERE event_id = $1`,
		eventID).Scan(&t.EventID, &t.CueID, &t.State, &t.DurationSeconds, &t.StartedAt,
		&t.ActorID, &t.ActorName, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secondary timer: %w", err)
	}
	return &t, nil
}

// ListCompletedCues returns the ids of cues marked completed for an event.
func (r *Repository) ListCompletedCues(ctx context.Context, eventID uuid.UUID) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT item_id FROM completed_cues WHERE event_id = $1 ORDER BY item_id`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("list completed cues: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan completed cue: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Apply commits one mutation atomically: timer rows, completion marks,
// overtime records, schedule rewrites and the outbox rows for every
// broadcast. A pg_notify in the same transaction wakes the outbox relay as
// soon as the commit lands.
func (r *Repository) Apply(ctx context.Context, m Mutation) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if m.SetTimer != nil {
			if err := r.upsertMainTimer(ctx, tx, m.SetTimer); err != nil {
				return err
			}
		}
		if m.ClearTimer {
			if _, err := tx.Exec(ctx, `DELETE FROM active_timers WHERE event_id = $1`, m.EventID); err != nil {
				return fmt.Errorf("clear main timer: %w", err)
			}
		}
		if m.SetSecondary != nil {
			if err := r.upsertSecondaryTimer(ctx, tx, m.SetSecondary); err != nil {
				return err
			}
		}
		if m.ClearSecondary {
			if _, err := tx.Exec(ctx, `DELETE FROM sub_cue_timers WHERE event_id = $1`, m.EventID); err != nil {
				return fmt.Errorf("clear secondary timer: %w", err)
			}
		}
		for _, cueID := range m.CompleteCues {
			if _, err := tx.Exec(ctx,
				`INSERT INTO completed_cues (event_id, item_id, completed_at) VALUES ($1, $2, NOW())
				 ON CONFLICT (event_id, item_id) DO NOTHING`,
				m.EventID, cueID); err != nil {
				return fmt.Errorf("mark cue %d completed: %w", cueID, err)
			}
		}
		if m.ClearCompleted {
			if _, err := tx.Exec(ctx, `DELETE FROM completed_cues WHERE event_id = $1`, m.EventID); err != nil {
				return fmt.Errorf("clear completed cues: %w", err)
			}
		}
		if m.Duration != nil {
			if err := r.scheduleRepo.UpdateCueDurationTx(ctx, tx, m.EventID, m.Duration.CueID,
				m.Duration.Hours, m.Duration.Minutes, m.Duration.Seconds); err != nil {
				return err
			}
		}
		if m.Overtime != nil {
			if err := r.overtimeRepo.UpsertCueOvertimeTx(ctx, tx, m.Overtime); err != nil {
				return err
			}
		}
		if m.ShowStart != nil {
			if err := r.overtimeRepo.UpsertShowStartTx(ctx, tx, m.ShowStart); err != nil {
				return err
			}
		}
		if m.ClearOvertime {
			if err := r.overtimeRepo.ClearTx(ctx, tx, m.EventID); err != nil {
				return err
			}
		}
		return r.insertBroadcasts(ctx, tx, m.EventID, m.Broadcasts)
	})
}

func (r *Repository) upsertMainTimer(ctx context.Context, tx pgx.Tx, t *models.MainTimer) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO active_timers (event_id, item_id, state, duration_seconds, started_at, actor_id, actor_name, actor_role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 ON CONFLICT (event_id)
		 DO UPDATE SET item_id = EXCLUDED.item_id,
		               state = EXCLUDED.state,
		               duration_seconds = EXCLUDED.duration_seconds,
		               started_at = EXCLUDED.started_at,
		               actor_id = EXCLUDED.actor_id,
		               actor_name = EXCLUDED.actor_name,
		               actor_role = EXCLUDED.actor_role,
		               updated_at = NOW()`,
		t.EventID, t.CueID, t.State, t.DurationSeconds, t.StartedAt, t.ActorID, t.ActorName, t.ActorRole)
	if err != nil {
		return fmt.Errorf("upsert main timer: %w", err)
	}
	return nil
}

func (r *Repository) upsertSecondaryTimer(ctx context.Context, tx pgx.Tx, t *models.SecondaryTimer) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO sub_cue_timers (event_id, item_id, state, duration_seconds, started_at, actor_id, actor_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 ON CONFLICT (event_id)
		 DO UPDATE SET item_id = EXCLUDED.item_id,
		               state = EXCLUDED.state,
		               duration_seconds = EXCLUDED.duration_seconds,
		               started_at = EXCLUDED.started_at,
		               actor_id = EXCLUDED.actor_id,
		               actor_name = EXCLUDED.actor_name,
		               updated_at = NOW()`,
		t.EventID, t.CueID, t.State, t.DurationSeconds, t.StartedAt, t.ActorID, t.ActorName)
	if err != nil {
		return fmt.Errorf("upsert secondary timer: %w", err)
	}
	return nil
}

// insertBroadcasts writes the mutation's broadcasts one by one so each draws
// the next outbox seq in order; the relay drains by seq, so subscribers see
// one commit's broadcasts in exactly this order.
func (r *Repository) insertBroadcasts(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, broadcasts []Broadcast) error {
	if len(broadcasts) == 0 {
		return nil
	}
	for _, b := range broadcasts {
		payload, err := json.Marshal(b.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", b.Type, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO timer_outbox (id, event_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4, NOW())`,
			uuid.New(), eventID, b.Type, payload); err != nil {
			return fmt.Errorf("insert outbox %s: %w", b.Type, err)
		}
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, outboxNotifyChannel, eventID.String()); err != nil {
		return fmt.Errorf("notify outbox relay: %w", err)
	}
	return nil
}
