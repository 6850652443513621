package cueline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/showops/cueline/go/internal/models"
	"github.com/showops/cueline/go/internal/timer"
)

// APIError is a non-2xx response from the command API. StatusCode 403 means
// the actor's role does not permit the command, 409 means the timer state
// machine rejected it.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsRoleDenied reports whether err is a 403 from the command API.
func IsRoleDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// IsStateConflict reports whether err is a 409 from the command API.
func IsStateConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

type commandClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func newCommandClient(baseURL string) *commandClient {
	return &commandClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func (c *commandClient) makeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(responseBody)),
		}
	}

	return responseBody, nil
}

func (c *commandClient) postJSON(ctx context.Context, endpoint string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.makeRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
}

type cueCommand struct {
	CueID int64        `json:"cue_id"`
	Actor models.Actor `json:"actor"`
}

type actorCommand struct {
	Actor models.Actor `json:"actor"`
}

type durationCommand struct {
	DeltaSeconds int          `json:"delta_seconds"`
	Actor        models.Actor `json:"actor"`
}

func (c *Client) timerPath(suffix string) string {
	return fmt.Sprintf("/api/events/%s/%s", c.cfg.EventID, suffix)
}

// LoadCue arms a cue without starting it. Returns the authoritative timer
// row, which the caller may apply optimistically before the broadcast lands.
func (c *Client) LoadCue(ctx context.Context, cueID int64) (*models.MainTimer, error) {
	return c.timerCommand(ctx, "timer/load", cueCommand{CueID: cueID, Actor: c.cfg.Actor})
}

// StartTimer starts the given cue's countdown on the server clock.
func (c *Client) StartTimer(ctx context.Context, cueID int64) (*models.MainTimer, error) {
	return c.timerCommand(ctx, "timer/start", cueCommand{CueID: cueID, Actor: c.cfg.Actor})
}

// StopTimer stops the running timer and records any overtime.
func (c *Client) StopTimer(ctx context.Context) (*models.MainTimer, error) {
	return c.timerCommand(ctx, "timer/stop", actorCommand{Actor: c.cfg.Actor})
}

// AdjustDuration shifts the active cue's duration by deltaSeconds and
// rewrites the schedule row to match.
func (c *Client) AdjustDuration(ctx context.Context, deltaSeconds int) (*models.MainTimer, error) {
	return c.timerCommand(ctx, "timer/duration", durationCommand{
		DeltaSeconds: deltaSeconds,
		Actor:        c.cfg.Actor,
	})
}

func (c *Client) timerCommand(ctx context.Context, suffix string, body any) (*models.MainTimer, error) {
	data, err := c.http.postJSON(ctx, c.timerPath(suffix), body)
	if err != nil {
		return nil, err
	}
	var t models.MainTimer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode timer response: %w", err)
	}
	c.noteTimer(&t)
	return &t, nil
}

// StartSecondary starts the sub-cue timer for an indented cue whose parent
// is the running main cue.
func (c *Client) StartSecondary(ctx context.Context, cueID int64) (*models.SecondaryTimer, error) {
	return c.secondaryCommand(ctx, "subcue/start", cueCommand{CueID: cueID, Actor: c.cfg.Actor})
}

// StopSecondary stops the sub-cue timer. The server clears the stopped row
// a few seconds later unless it is restarted.
func (c *Client) StopSecondary(ctx context.Context) (*models.SecondaryTimer, error) {
	return c.secondaryCommand(ctx, "subcue/stop", actorCommand{Actor: c.cfg.Actor})
}

func (c *Client) secondaryCommand(ctx context.Context, suffix string, body any) (*models.SecondaryTimer, error) {
	data, err := c.http.postJSON(ctx, c.timerPath(suffix), body)
	if err != nil {
		return nil, err
	}
	var t models.SecondaryTimer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode secondary timer response: %w", err)
	}
	c.noteSecondary(&t)
	return &t, nil
}

// ResetAll wipes every timer, completion, and overtime record for the event.
func (c *Client) ResetAll(ctx context.Context) error {
	if _, err := c.http.postJSON(ctx, c.timerPath("reset"), actorCommand{Actor: c.cfg.Actor}); err != nil {
		return err
	}
	c.clearApplied()
	return nil
}

// Sync fetches the authoritative snapshot over HTTP. Also feeds the clock
// offset estimator, so a polling client stays synchronized without a socket.
func (c *Client) Sync(ctx context.Context) (*timer.Snapshot, error) {
	data, err := c.http.makeRequest(ctx, http.MethodGet, c.timerPath("sync"), nil)
	if err != nil {
		return nil, err
	}
	var snap timer.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	c.estimator.ApplyServerTime(snap.ServerTime)
	return &snap, nil
}

// Projection fetches overtime-adjusted start times for the schedule.
func (c *Client) Projection(ctx context.Context) (*timer.ProjectionView, error) {
	data, err := c.http.makeRequest(ctx, http.MethodGet, c.timerPath("projection"), nil)
	if err != nil {
		return nil, err
	}
	var view timer.ProjectionView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to decode projection: %w", err)
	}
	return &view, nil
}

type changeCommand struct {
	Actor       models.Actor `json:"actor"`
	Action      string       `json:"action"`
	Description string       `json:"description"`
	Field       string       `json:"field,omitempty"`
	CueID       *int64       `json:"cue_id,omitempty"`
	RowNumber   *int         `json:"row_number,omitempty"`
	OldValue    string       `json:"old_value,omitempty"`
	NewValue    string       `json:"new_value,omitempty"`
	Structural  bool         `json:"structural,omitempty"`
}

// RecordFieldChange reports a field edit to the change log. Rapid edits to
// the same cue field are merged server side.
func (c *Client) RecordFieldChange(ctx context.Context, cueID int64, field, oldValue, newValue string) error {
	_, err := c.http.postJSON(ctx, c.timerPath("changes"), changeCommand{
		Actor:    c.cfg.Actor,
		Field:    field,
		CueID:    &cueID,
		OldValue: oldValue,
		NewValue: newValue,
	})
	return err
}

// RecordStructuralChange logs an insert, delete, or move immediately,
// bypassing the debounce buffer.
func (c *Client) RecordStructuralChange(ctx context.Context, cueID int64, rowNumber int, action, description string) error {
	_, err := c.http.postJSON(ctx, c.timerPath("changes"), changeCommand{
		Actor:       c.cfg.Actor,
		Action:      action,
		Description: description,
		CueID:       &cueID,
		RowNumber:   &rowNumber,
		Structural:  true,
	})
	return err
}

// ListChanges pages through the audit log, newest first. Pass a zero time
// for the first page; pass the oldest entry's CreatedAt to get the next one.
func (c *Client) ListChanges(ctx context.Context, limit int, before time.Time) ([]models.ChangeLogEntry, error) {
	endpoint := fmt.Sprintf("%s?limit=%d", c.timerPath("changes"), limit)
	if !before.IsZero() {
		endpoint += "&before=" + url.QueryEscape(before.Format(time.RFC3339))
	}
	data, err := c.http.makeRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var page struct {
		Entries []models.ChangeLogEntry `json:"entries"`
	}
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("failed to decode change log: %w", err)
	}
	return page.Entries, nil
}
