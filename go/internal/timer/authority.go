package timer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/models"
)

// DefaultClearHold is how long a stopped sub-cue timer stays visible before
// its row is removed and secondaryTimerCleared goes out.
const DefaultClearHold = 3 * time.Second

// Authority serializes all timer commands per event. Each event gets one
// goroutine; commands for the same event run in arrival order, so two
// operators racing a start can never both win. Commands for different events
// never block each other.
type Authority struct {
	app       *App
	clock     clockwork.Clock
	clearHold time.Duration

	mu     sync.Mutex
	actors map[uuid.UUID]*eventActor
	closed bool
}

type eventActor struct {
	jobs chan func()
	done chan struct{}
}

func NewAuthority(app *App, clock clockwork.Clock, clearHold time.Duration) *Authority {
	if clearHold <= 0 {
		clearHold = DefaultClearHold
	}
	return &Authority{
		app:       app,
		clock:     clock,
		clearHold: clearHold,
		actors:    make(map[uuid.UUID]*eventActor),
	}
}

// Close drains every event actor. Pending commands finish; new ones are
// rejected.
func (au *Authority) Close() {
	au.mu.Lock()
	if au.closed {
		au.mu.Unlock()
		return
	}
	au.closed = true
	actors := make([]*eventActor, 0, len(au.actors))
	for _, a := range au.actors {
		actors = append(actors, a)
	}
	au.mu.Unlock()

	for _, a := range actors {
		close(a.jobs)
		<-a.done
	}
}

func (au *Authority) actor(eventID uuid.UUID) *eventActor {
	au.mu.Lock()
	defer au.mu.Unlock()
	if au.closed {
		return nil
	}
	if a, ok := au.actors[eventID]; ok {
		return a
	}
	a := &eventActor{
		jobs: make(chan func(), 64),
		done: make(chan struct{}),
	}
	au.actors[eventID] = a
	go func() {
		defer close(a.done)
		for job := range a.jobs {
			job()
		}
	}()
	return a
}

// run executes fn on the event's actor goroutine and waits for its result.
func run[T any](ctx context.Context, au *Authority, eventID uuid.UUID, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	a := au.actor(eventID)
	if a == nil {
		return zero, context.Canceled
	}

	type result struct {
		val T
		err error
	}
	resCh := make(chan result, 1)
	select {
	case a.jobs <- func() {
		val, err := fn(ctx)
		resCh <- result{val, err}
	}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-resCh:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (au *Authority) LoadCue(ctx context.Context, eventID uuid.UUID, cueID int64, actor models.Actor) (*models.MainTimer, error) {
	return run(ctx, au, eventID, func(ctx context.Context) (*models.MainTimer, error) {
		return au.app.LoadCue(ctx, eventID, cueID, actor)
	})
}

func (au *Authority) StartTimer(ctx context.Context, eventID uuid.UUID, cueID int64, actor models.Actor) (*models.MainTimer, error) {
	return run(ctx, au, eventID, func(ctx context.Context) (*models.MainTimer, error) {
		return au.app.StartTimer(ctx, eventID, cueID, actor)
	})
}

func (au *Authority) StopTimer(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.MainTimer, error) {
	return run(ctx, au, eventID, func(ctx context.Context) (*models.MainTimer, error) {
		return au.app.StopTimer(ctx, eventID, actor)
	})
}

func (au *Authority) AdjustDuration(ctx context.Context, eventID uuid.UUID, deltaSeconds int, actor models.Actor) (*models.MainTimer, error) {
	return run(ctx, au, eventID, func(ctx context.Context) (*models.MainTimer, error) {
		return au.app.AdjustDuration(ctx, eventID, deltaSeconds, actor)
	})
}

func (au *Authority) StartSecondary(ctx context.Context, eventID uuid.UUID, cueID int64, actor models.Actor) (*models.SecondaryTimer, error) {
	return run(ctx, au, eventID, func(ctx context.Context) (*models.SecondaryTimer, error) {
		return au.app.StartSecondary(ctx, eventID, cueID, actor)
	})
}

// StopSecondary stops the sub-cue timer and arms the clear hold. Once the
// hold elapses the row is removed, unless a new sub-cue timer replaced it in
// the meantime.
func (au *Authority) StopSecondary(ctx context.Context, eventID uuid.UUID, actor models.Actor) (*models.SecondaryTimer, error) {
	stopped, err := run(ctx, au, eventID, func(ctx context.Context) (*models.SecondaryTimer, error) {
		return au.app.StopSecondary(ctx, eventID, actor)
	})
	if err != nil {
		return nil, err
	}

	cueID := stopped.CueID
	au.clock.AfterFunc(au.clearHold, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := run(ctx, au, eventID, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, au.app.ClearSecondary(ctx, eventID, cueID)
		})
		if err != nil {
			log.Error().Err(err).
				Str("event_id", eventID.String()).
				Int64("cue_id", cueID).
				Msg("failed to clear stopped sub-cue timer")
		}
	})
	return stopped, nil
}

func (au *Authority) ResetAll(ctx context.Context, eventID uuid.UUID, actor models.Actor) error {
	_, err := run(ctx, au, eventID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, au.app.ResetAll(ctx, eventID, actor)
	})
	return err
}

// GetSnapshot reads the authoritative state. Reads don't go through the
// actor; every mutation is already committed before its broadcast exists, so
// a snapshot is consistent at whatever commit it observes.
func (au *Authority) GetSnapshot(ctx context.Context, eventID uuid.UUID) (*Snapshot, error) {
	return au.app.GetSnapshot(ctx, eventID)
}

// GetProjection is a read too; it folds recorded overtime into projected
// start times without touching timer state.
func (au *Authority) GetProjection(ctx context.Context, eventID uuid.UUID) (*ProjectionView, error) {
	return au.app.GetProjection(ctx, eventID)
}
