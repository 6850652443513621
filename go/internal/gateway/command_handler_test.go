package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showops/cueline/go/internal/auth"
	"github.com/showops/cueline/go/internal/models"
	"github.com/showops/cueline/go/internal/timer"
)

// fakeAuthority scripts authority responses per command.
type fakeAuthority struct {
	loadErr  error
	startErr error
	stopErr  error
	timer    *models.MainTimer
	snapshot *timer.Snapshot
}

func (f *fakeAuthority) LoadCue(_ context.Context, _ uuid.UUID, _ int64, _ models.Actor) (*models.MainTimer, error) {
	return f.timer, f.loadErr
}

func (f *fakeAuthority) StartTimer(_ context.Context, _ uuid.UUID, _ int64, _ models.Actor) (*models.MainTimer, error) {
	return f.timer, f.startErr
}

func (f *fakeAuthority) StopTimer(_ context.Context, _ uuid.UUID, _ models.Actor) (*models.MainTimer, error) {
	return f.timer, f.stopErr
}

func (f *fakeAuthority) AdjustDuration(_ context.Context, _ uuid.UUID, _ int, _ models.Actor) (*models.MainTimer, error) {
	return f.timer, nil
}

func (f *fakeAuthority) StartSecondary(_ context.Context, _ uuid.UUID, _ int64, _ models.Actor) (*models.SecondaryTimer, error) {
	return nil, timer.ErrParentNotRunning
}

func (f *fakeAuthority) StopSecondary(_ context.Context, _ uuid.UUID, _ models.Actor) (*models.SecondaryTimer, error) {
	return nil, timer.ErrNoSecondaryTimer
}

func (f *fakeAuthority) ResetAll(_ context.Context, _ uuid.UUID, _ models.Actor) error {
	return nil
}

func (f *fakeAuthority) GetSnapshot(_ context.Context, _ uuid.UUID) (*timer.Snapshot, error) {
	return f.snapshot, nil
}

func (f *fakeAuthority) GetProjection(_ context.Context, eventID uuid.UUID) (*timer.ProjectionView, error) {
	return &timer.ProjectionView{EventID: eventID}, nil
}

type noopChangeLog struct{}

func (noopChangeLog) RecordFieldEdit(models.PendingChange) error { return nil }
func (noopChangeLog) LogStructural(context.Context, uuid.UUID, models.Actor, string, string, *int64, *int) error {
	return nil
}
func (noopChangeLog) Flush() {}
func (noopChangeLog) List(context.Context, uuid.UUID, int, time.Time) ([]models.ChangeLogEntry, error) {
	return nil, nil
}
func (noopChangeLog) ClearAll(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func newTestMux(authority TimerAuthority) *http.ServeMux {
	mux := http.NewServeMux()
	NewCommandHandler(authority, noopChangeLog{}).RegisterRoutes(mux)
	return mux
}

func postJSON(t *testing.T, mux *http.ServeMux, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestRoleDenialIs403(t *testing.T) {
	eventID := uuid.New()
	mux := newTestMux(&fakeAuthority{
		startErr: auth.RequireTimerControl(models.Actor{ID: "v", Role: models.RoleViewer}),
	})

	w := postJSON(t, mux, "/api/events/"+eventID.String()+"/timer/start", cueCommand{
		CueID: 1,
		Actor: models.Actor{ID: "v", Role: models.RoleViewer},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStateViolationIs409(t *testing.T) {
	eventID := uuid.New()
	mux := newTestMux(&fakeAuthority{startErr: timer.ErrTimerAlreadyRunning})

	w := postJSON(t, mux, "/api/events/"+eventID.String()+"/timer/start", cueCommand{
		CueID: 1,
		Actor: models.Actor{ID: "op", Role: models.RoleOperator},
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = postJSON(t, mux, "/api/events/"+eventID.String()+"/subcue/start", cueCommand{
		CueID: 2,
		Actor: models.Actor{ID: "op", Role: models.RoleOperator},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStartTimerReturnsAuthoritativeRow(t *testing.T) {
	eventID := uuid.New()
	startedAt := time.Now().UTC()
	mux := newTestMux(&fakeAuthority{
		timer: &models.MainTimer{
			EventID:         eventID,
			CueID:           7,
			State:           models.TimerStateRunning,
			DurationSeconds: 300,
			StartedAt:       &startedAt,
		},
	})

	w := postJSON(t, mux, "/api/events/"+eventID.String()+"/timer/start", cueCommand{
		CueID: 7,
		Actor: models.Actor{ID: "op", Role: models.RoleOperator},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result models.MainTimer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, int64(7), result.CueID)
	assert.Equal(t, models.TimerStateRunning, result.State)
	require.NotNil(t, result.StartedAt)
}

func TestSyncReturnsSnapshot(t *testing.T) {
	eventID := uuid.New()
	mux := newTestMux(&fakeAuthority{
		snapshot: &timer.Snapshot{
			EventID:       eventID,
			CompletedCues: []int64{1, 2},
			ServerTime:    time.Now().UTC(),
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/events/"+eventID.String()+"/sync", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var snap timer.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, eventID, snap.EventID)
	assert.Equal(t, []int64{1, 2}, snap.CompletedCues)
	assert.False(t, snap.ServerTime.IsZero())
}

func TestInvalidEventIDIs400(t *testing.T) {
	mux := newTestMux(&fakeAuthority{})
	w := postJSON(t, mux, "/api/events/not-a-uuid/timer/start", cueCommand{CueID: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
