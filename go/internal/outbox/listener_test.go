package outbox

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	rows   []Row
	sent   []uuid.UUID
	fetchN int
}

func (s *fakeStore) FetchUnsentForEvent(_ context.Context, eventID uuid.UUID) ([]Row, error) {
	s.fetchN++
	var out []Row
	for _, r := range s.rows {
		if r.EventID == eventID && r.SentAt == nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *fakeStore) FetchUnsent(_ context.Context, limit int) ([]Row, error) {
	out, err := s.FetchUnsentForEvent(context.Background(), s.rows[0].EventID)
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) MarkSent(_ context.Context, ids []uuid.UUID) error {
	s.sent = append(s.sent, ids...)
	return nil
}

type capturingPublisher struct {
	published []Row
	failType  string
}

func (p *capturingPublisher) Publish(_ context.Context, row Row) error {
	if p.failType != "" && row.EventType == p.failType {
		return errors.New("nats unavailable")
	}
	p.published = append(p.published, row)
	return nil
}

// One transaction writes all of its broadcasts with the same created_at, so
// the relay must drain by seq, not timestamp.
func commitRows(eventID uuid.UUID, types ...string) []Row {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	rows := make([]Row, len(types))
	for i, typ := range types {
		rows[i] = Row{
			ID:        uuid.New(),
			Seq:       int64(i + 1),
			EventID:   eventID,
			EventType: typ,
			Payload:   []byte(`{}`),
			CreatedAt: at,
		}
	}
	return rows
}

func TestHandleNotificationPublishesCommitInSeqOrder(t *testing.T) {
	eventID := uuid.New()
	rows := commitRows(eventID, "secondaryTimerCleared", "overtimeUpdate", "timerStopped", "completedCuesUpdated")
	// Shuffle the backing slice: insertion order into the fake must not matter.
	store := &fakeStore{rows: []Row{rows[2], rows[0], rows[3], rows[1]}}
	pub := &capturingPublisher{}
	l := &Listener{repo: store, publisher: pub, cfg: DefaultListenerConfig()}

	require.NoError(t, l.handleNotification(context.Background(), eventID.String()))

	require.Len(t, pub.published, 4)
	for i, typ := range []string{"secondaryTimerCleared", "overtimeUpdate", "timerStopped", "completedCuesUpdated"} {
		assert.Equal(t, typ, pub.published[i].EventType)
		assert.Equal(t, int64(i+1), pub.published[i].Seq)
	}
	assert.Len(t, store.sent, 4)
}

func TestHandleNotificationRejectsMalformedPayload(t *testing.T) {
	l := &Listener{repo: &fakeStore{}, publisher: &capturingPublisher{}, cfg: DefaultListenerConfig()}
	assert.Error(t, l.handleNotification(context.Background(), "not-a-uuid"))
}

func TestPublishRowsStopsAtFirstFailure(t *testing.T) {
	eventID := uuid.New()
	store := &fakeStore{rows: commitRows(eventID, "timerUpdated", "overtimeUpdate", "timerStopped")}
	pub := &capturingPublisher{failType: "overtimeUpdate"}
	cfg := DefaultListenerConfig()
	cfg.MaxRetries = 0
	l := &Listener{repo: store, publisher: pub, cfg: cfg}

	require.NoError(t, l.handleNotification(context.Background(), eventID.String()))

	// Only the row before the failure was published and marked; the rest wait
	// for the next drain so ordering survives the outage.
	require.Len(t, pub.published, 1)
	assert.Equal(t, "timerUpdated", pub.published[0].EventType)
	assert.Len(t, store.sent, 1)
}
