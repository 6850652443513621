package cueline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/showops/cueline/go/internal/models"
	timerevents "github.com/showops/cueline/go/internal/timer/events"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL: baseURL,
		EventID: uuid.New(),
		Actor:   models.Actor{ID: "actor-1", Name: "Marta", Role: models.RoleOperator},
	})
	require.NoError(t, err)
	return c
}

func TestNewDefaultsActorIdentity(t *testing.T) {
	c, err := New(Config{EventID: uuid.New(), Actor: models.Actor{Role: "director"}})
	require.NoError(t, err)
	require.NotEmpty(t, c.cfg.Actor.ID)
	require.Equal(t, models.RoleViewer, c.cfg.Actor.Role)

	_, err = New(Config{})
	require.Error(t, err)
}

func TestDispatchServerTimeAdjustsOffset(t *testing.T) {
	c := newTestClient(t, "")

	serverTime := time.Now().Add(90 * time.Second)
	frame := fmt.Sprintf(`{"type":"serverTime","data":{"server_time":%q}}`,
		serverTime.Format(time.RFC3339Nano))
	c.dispatch([]byte(frame))

	require.InDelta(t, 90, c.Offset().Seconds(), 1)
	require.WithinDuration(t, serverTime, c.ServerNow(), time.Second)
}

func TestDispatchSuppressesOwnEchoOfAppliedState(t *testing.T) {
	var got []string
	c := newTestClient(t, "")
	c.cfg.Callbacks.OnTimerUpdated = func(p timerevents.TimerUpdatedPayload) {
		got = append(got, p.ActorID)
	}

	c.noteTimer(&models.MainTimer{
		CueID:           10,
		State:           models.TimerStateRunning,
		DurationSeconds: 300,
	})

	own := fmt.Sprintf(`{"type":"timerUpdated","data":{"cue_id":10,"state":"RUNNING","duration_seconds":300,"actor_id":%q}}`, c.cfg.Actor.ID)
	c.dispatch([]byte(own))
	require.Empty(t, got, "echo of already-applied state should be suppressed")

	other := `{"type":"timerUpdated","data":{"cue_id":10,"state":"RUNNING","duration_seconds":300,"actor_id":"actor-2"}}`
	c.dispatch([]byte(other))
	require.Equal(t, []string{"actor-2"}, got)
}

func TestDispatchDeliversOwnActorFrameWithUnappliedState(t *testing.T) {
	var got []timerevents.TimerUpdatedPayload
	c := newTestClient(t, "")
	c.cfg.Callbacks.OnTimerUpdated = func(p timerevents.TimerUpdatedPayload) {
		got = append(got, p)
	}

	// No command issued yet: a frame under this actor's id, say from another
	// session sharing it, carries state never applied here and must not be
	// dropped.
	frame := fmt.Sprintf(`{"type":"timerUpdated","data":{"cue_id":20,"state":"LOADED","duration_seconds":600,"actor_id":%q}}`, c.cfg.Actor.ID)
	c.dispatch([]byte(frame))
	require.Len(t, got, 1)
	require.Equal(t, int64(20), got[0].CueID)

	// After a command, an echo for a different cue is still delivered.
	c.noteTimer(&models.MainTimer{CueID: 10, State: models.TimerStateRunning, DurationSeconds: 300})
	frame = fmt.Sprintf(`{"type":"timerUpdated","data":{"cue_id":30,"state":"RUNNING","duration_seconds":120,"actor_id":%q}}`, c.cfg.Actor.ID)
	c.dispatch([]byte(frame))
	require.Len(t, got, 2)
}

func TestWebsocketURLEscapesActorName(t *testing.T) {
	c, err := New(Config{
		WSURL:   "ws://localhost:8080/ws/events",
		EventID: uuid.New(),
		Actor:   models.Actor{ID: "actor-1", Name: "Stage L&R / Monitors", Role: models.RoleOperator},
	})
	require.NoError(t, err)

	u, err := url.Parse(c.wsURL())
	require.NoError(t, err)
	require.Equal(t, "Stage L&R / Monitors", u.Query().Get("actor_name"))
	require.Equal(t, "actor-1", u.Query().Get("actor_id"))
	require.NotContains(t, u.RawQuery, " ")
}

func TestDispatchIgnoresUnknownAndMalformedFrames(t *testing.T) {
	c := newTestClient(t, "")
	c.dispatch([]byte(`{"type":"futureFrameType","data":{}}`))
	c.dispatch([]byte(`not json`))
}

func TestSyncFeedsClockEstimator(t *testing.T) {
	serverTime := time.Now().Add(45 * time.Second).UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"event_id":       uuid.New(),
			"completed_cues": []int64{},
			"overtimes":      []any{},
			"server_time":    serverTime,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	snap, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.WithinDuration(t, serverTime, snap.ServerTime, time.Second)
	require.InDelta(t, 45, c.Offset().Seconds(), 1)
}

func TestCommandErrorsCarryStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path[len(r.URL.Path)-5:] == "start":
			http.Error(w, "role denied: viewer cannot control timers", http.StatusForbidden)
		default:
			http.Error(w, "timer already running", http.StatusConflict)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.StartTimer(context.Background(), 10)
	require.Error(t, err)
	require.True(t, IsRoleDenied(err))
	require.False(t, IsStateConflict(err))

	_, err = c.StopTimer(context.Background())
	require.True(t, IsStateConflict(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "timer already running", apiErr.Message)
}

func TestStartTimerDecodesAuthoritativeRow(t *testing.T) {
	started := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cmd cueCommand
		require.NoError(t, json.NewDecoder(r.Body).Decode(&cmd))
		require.Equal(t, int64(10), cmd.CueID)
		require.Equal(t, "actor-1", cmd.Actor.ID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"cue_id":           cmd.CueID,
			"state":            models.TimerStateRunning,
			"duration_seconds": 300,
			"started_at":       started,
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	row, err := c.StartTimer(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, int64(10), row.CueID)
	require.Equal(t, models.TimerStateRunning, row.State)
	require.NotNil(t, row.StartedAt)
	require.True(t, started.Equal(*row.StartedAt))
}
