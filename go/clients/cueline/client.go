// Package cueline is the Go client for the run-of-show sync service. It
// subscribes to the websocket feed, keeps a clock-offset estimate from
// serverTime frames, and sends commands over HTTP.
package cueline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/clocksync"
	"github.com/showops/cueline/go/internal/models"
	"github.com/showops/cueline/go/internal/timer"
	timerevents "github.com/showops/cueline/go/internal/timer/events"
)

const (
	reconnectBaseDelay   = 2 * time.Second
	maxReconnectAttempts = 5
)

// frame mirrors the gateway's websocket envelope.
type frame struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Callbacks receive pushed events. Nil callbacks are skipped. A timer frame
// echoing this client's own command is suppressed only when it matches the
// row the command returned, which the caller already applied optimistically;
// an echo carrying different state is delivered like any remote change.
type Callbacks struct {
	OnTimerUpdated            func(timerevents.TimerUpdatedPayload)
	OnTimerStopped            func(timerevents.TimerStoppedPayload)
	OnTimerTick               func(TickPayload)
	OnSecondaryTimerStarted   func(timerevents.SecondaryTimerPayload)
	OnSecondaryTimerStopped   func(timerevents.SecondaryTimerPayload)
	OnSecondaryTimerCleared   func(timerevents.SecondaryTimerPayload)
	OnOvertimeUpdate          func(timerevents.OvertimeUpdatePayload)
	OnShowStartOvertimeUpdate func(timerevents.ShowStartOvertimePayload)
	OnCompletedCuesUpdated    func(timerevents.CompletedCuesPayload)
	OnResetAllStates          func()
	OnScheduleUpdated         func(timerevents.ScheduleUpdatedPayload)
	OnSyncState               func(timer.Snapshot)
	OnPresenceUpdated         func(json.RawMessage)
	OnConnected               func()
	OnDisconnected            func(error)
}

// TickPayload is the once-a-second countdown frame.
type TickPayload struct {
	EventID             string    `json:"event_id"`
	CueID               int64     `json:"cue_id"`
	ElapsedSeconds      int       `json:"elapsed_seconds"`
	RemainingSeconds    int       `json:"remaining_seconds"`
	SecondaryCueID      *int64    `json:"secondary_cue_id,omitempty"`
	SecondaryElapsedSec *int      `json:"secondary_elapsed_sec,omitempty"`
	TickedAt            time.Time `json:"ticked_at"`
}

// Config configures a client session.
type Config struct {
	BaseURL string // http(s) base, e.g. http://localhost:8080
	WSURL   string // ws(s) endpoint, e.g. ws://localhost:8080/ws/events
	EventID uuid.UUID
	Actor   models.Actor

	// PollInterval enables a low-frequency sync poll that keeps state fresh
	// while the socket is down. Zero disables it.
	PollInterval time.Duration

	Callbacks Callbacks
}

// Client is one actor's connection to a show. Safe for use from one
// goroutine per method group: commands may be issued concurrently, Run owns
// the socket.
type Client struct {
	cfg       Config
	http      *commandClient
	estimator *clocksync.Estimator

	mu   sync.Mutex
	conn *websocket.Conn

	// Authoritative rows returned by this client's own commands, i.e. the
	// state the caller has already applied optimistically. Echo suppression
	// compares incoming frames against these instead of trusting actor id
	// alone: two sessions can share an actor id.
	appliedMu        sync.Mutex
	appliedTimer     *models.MainTimer
	appliedSecondary *models.SecondaryTimer
}

func New(cfg Config) (*Client, error) {
	if cfg.EventID == uuid.Nil {
		return nil, fmt.Errorf("event id is required")
	}
	if cfg.Actor.ID == "" {
		cfg.Actor.ID = uuid.New().String()
	}
	if !cfg.Actor.Role.Valid() {
		cfg.Actor.Role = models.RoleViewer
	}
	return &Client{
		cfg:       cfg,
		http:      newCommandClient(cfg.BaseURL),
		estimator: clocksync.NewEstimator(clockwork.NewRealClock()),
	}, nil
}

// Offset returns the current estimated server-minus-local clock offset.
func (c *Client) Offset() time.Duration {
	return c.estimator.Offset()
}

// ServerNow returns local time corrected by the estimated offset.
func (c *Client) ServerNow() time.Time {
	return c.estimator.Now()
}

// ElapsedSeconds reconstructs a timer's elapsed time from its start
// timestamp and the synchronized clock. Identical on every client regardless
// of when each one connected.
func (c *Client) ElapsedSeconds(startedAt time.Time) int {
	return c.estimator.ElapsedSince(startedAt)
}

// Run connects and processes the feed until ctx is cancelled. Dropped
// connections are retried with linear backoff; after maxReconnectAttempts
// consecutive failures Run returns the last error.
func (c *Client) Run(ctx context.Context) error {
	if c.cfg.PollInterval > 0 {
		go c.pollLoop(ctx)
	}

	attempts := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cb := c.cfg.Callbacks.OnDisconnected; cb != nil {
			cb(err)
		}

		attempts++
		if attempts > maxReconnectAttempts {
			return fmt.Errorf("giving up after %d reconnect attempts: %w", maxReconnectAttempts, err)
		}

		delay := reconnectBaseDelay * time.Duration(attempts)
		log.Warn().Err(err).
			Int("attempt", attempts).
			Dur("delay", delay).
			Msg("websocket dropped, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		// A successful sync means the server is reachable again; start the
		// attempt count over.
		if _, syncErr := c.Sync(ctx); syncErr == nil {
			attempts = 0
		}
	}
}

// wsURL builds the dial target. Actor names come from user input, so the
// query is encoded rather than interpolated.
func (c *Client) wsURL() string {
	q := url.Values{}
	q.Set("event_id", c.cfg.EventID.String())
	q.Set("actor_id", c.cfg.Actor.ID)
	q.Set("actor_name", c.cfg.Actor.Name)
	q.Set("role", string(c.cfg.Actor.Role))
	return c.cfg.WSURL + "?" + q.Encode()
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if cb := c.cfg.Callbacks.OnConnected; cb != nil {
		cb()
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(data)
	}
}

// RequestSync asks the server to push a fresh syncState frame over the
// socket.
func (c *Client) RequestSync() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteJSON(map[string]string{"type": "requestSync"})
}

func (c *Client) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			connected := c.conn != nil
			c.mu.Unlock()
			if connected {
				continue
			}
			if _, err := c.Sync(ctx); err != nil {
				log.Debug().Err(err).Msg("fallback sync poll failed")
			}
		}
	}
}

// dispatch decodes one frame and routes it. Unknown types are ignored so old
// clients survive new event types.
func (c *Client) dispatch(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed frame")
		return
	}

	switch f.Type {
	case "serverTime":
		var p struct {
			ServerTime time.Time `json:"server_time"`
		}
		if json.Unmarshal(f.Data, &p) == nil {
			c.estimator.ApplyServerTime(p.ServerTime)
		}

	case "syncState":
		var snap timer.Snapshot
		if json.Unmarshal(f.Data, &snap) == nil {
			c.estimator.ApplyServerTime(snap.ServerTime)
			if cb := c.cfg.Callbacks.OnSyncState; cb != nil {
				cb(snap)
			}
		}

	case timerevents.TypeTimerUpdated:
		var p timerevents.TimerUpdatedPayload
		if json.Unmarshal(f.Data, &p) != nil {
			return
		}
		if c.ownTimerEcho(p) {
			// Own command echoed back; already applied optimistically.
			return
		}
		if cb := c.cfg.Callbacks.OnTimerUpdated; cb != nil {
			cb(p)
		}

	case timerevents.TypeTimerStopped:
		var p timerevents.TimerStoppedPayload
		if json.Unmarshal(f.Data, &p) != nil {
			return
		}
		if c.ownStopEcho(p) {
			return
		}
		if cb := c.cfg.Callbacks.OnTimerStopped; cb != nil {
			cb(p)
		}

	case "timerTick":
		var p TickPayload
		if json.Unmarshal(f.Data, &p) == nil {
			if cb := c.cfg.Callbacks.OnTimerTick; cb != nil {
				cb(p)
			}
		}

	case timerevents.TypeSecondaryTimerStarted:
		c.dispatchSecondary(f.Data, c.cfg.Callbacks.OnSecondaryTimerStarted, true)
	case timerevents.TypeSecondaryTimerStopped:
		c.dispatchSecondary(f.Data, c.cfg.Callbacks.OnSecondaryTimerStopped, true)
	case timerevents.TypeSecondaryTimerCleared:
		// A clear is never applied optimistically: the server issues it from
		// the hold timer or a parent stop, so it always goes to the callback.
		c.dispatchSecondary(f.Data, c.cfg.Callbacks.OnSecondaryTimerCleared, false)

	case timerevents.TypeOvertimeUpdate:
		var p timerevents.OvertimeUpdatePayload
		if json.Unmarshal(f.Data, &p) == nil {
			if cb := c.cfg.Callbacks.OnOvertimeUpdate; cb != nil {
				cb(p)
			}
		}

	case timerevents.TypeShowStartOvertimeUpdate:
		var p timerevents.ShowStartOvertimePayload
		if json.Unmarshal(f.Data, &p) == nil {
			if cb := c.cfg.Callbacks.OnShowStartOvertimeUpdate; cb != nil {
				cb(p)
			}
		}

	case timerevents.TypeCompletedCuesUpdated:
		var p timerevents.CompletedCuesPayload
		if json.Unmarshal(f.Data, &p) == nil {
			if cb := c.cfg.Callbacks.OnCompletedCuesUpdated; cb != nil {
				cb(p)
			}
		}

	case timerevents.TypeResetAllStates, timerevents.TypeOvertimeReset:
		if cb := c.cfg.Callbacks.OnResetAllStates; cb != nil {
			cb()
		}

	case timerevents.TypeScheduleUpdated:
		var p timerevents.ScheduleUpdatedPayload
		if json.Unmarshal(f.Data, &p) == nil {
			if cb := c.cfg.Callbacks.OnScheduleUpdated; cb != nil {
				cb(p)
			}
		}

	case "presenceUpdated":
		if cb := c.cfg.Callbacks.OnPresenceUpdated; cb != nil {
			cb(f.Data)
		}

	default:
		log.Debug().Str("type", f.Type).Msg("ignoring unknown frame type")
	}
}

func (c *Client) dispatchSecondary(data json.RawMessage, cb func(timerevents.SecondaryTimerPayload), suppressible bool) {
	var p timerevents.SecondaryTimerPayload
	if json.Unmarshal(data, &p) != nil {
		return
	}
	if suppressible && c.ownSecondaryEcho(p) {
		return
	}
	if cb != nil {
		cb(p)
	}
}

// noteTimer and noteSecondary record the authoritative row a command
// returned so its broadcast echo can be recognized.
func (c *Client) noteTimer(t *models.MainTimer) {
	c.appliedMu.Lock()
	c.appliedTimer = t
	c.appliedMu.Unlock()
}

func (c *Client) noteSecondary(t *models.SecondaryTimer) {
	c.appliedMu.Lock()
	c.appliedSecondary = t
	c.appliedMu.Unlock()
}

func (c *Client) clearApplied() {
	c.appliedMu.Lock()
	c.appliedTimer = nil
	c.appliedSecondary = nil
	c.appliedMu.Unlock()
}

func (c *Client) ownTimerEcho(p timerevents.TimerUpdatedPayload) bool {
	if p.ActorID != c.cfg.Actor.ID {
		return false
	}
	c.appliedMu.Lock()
	defer c.appliedMu.Unlock()
	t := c.appliedTimer
	return t != nil &&
		t.CueID == p.CueID &&
		string(t.State) == p.State &&
		t.DurationSeconds == p.DurationSeconds &&
		timesMatch(t.StartedAt, p.StartedAt)
}

func (c *Client) ownStopEcho(p timerevents.TimerStoppedPayload) bool {
	if p.ActorID != c.cfg.Actor.ID {
		return false
	}
	c.appliedMu.Lock()
	defer c.appliedMu.Unlock()
	t := c.appliedTimer
	return t != nil && t.CueID == p.CueID && t.State == models.TimerStateStopped
}

func (c *Client) ownSecondaryEcho(p timerevents.SecondaryTimerPayload) bool {
	if p.ActorID != c.cfg.Actor.ID {
		return false
	}
	c.appliedMu.Lock()
	defer c.appliedMu.Unlock()
	s := c.appliedSecondary
	return s != nil && s.CueID == p.CueID && timesMatch(s.StartedAt, p.StartedAt)
}

func timesMatch(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
