package changelog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showops/cueline/go/internal/models"
)

type captureSink struct {
	mu      sync.Mutex
	entries []models.ChangeLogEntry
}

func (s *captureSink) Append(_ context.Context, entry *models.ChangeLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *captureSink) all() []models.ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChangeLogEntry(nil), s.entries...)
}

func testChange(eventID uuid.UUID, cueID int64, field, oldVal, newVal string) models.PendingChange {
	return models.PendingChange{
		Key:     FieldKey(cueID, field),
		EventID: eventID,
		Actor: models.Actor{
			ID:   "actor-1",
			Name: "Ana",
			Role: models.RoleEditor,
		},
		Action:      "FIELD_CHANGE",
		Description: "changed " + field,
		Field:       field,
		CueID:       &cueID,
		OldValue:    oldVal,
		NewValue:    newVal,
	}
}

func TestBufferMergesRapidEdits(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &captureSink{}
	buf := NewBuffer(clock, DefaultBufferConfig(), sink)

	eventID := uuid.New()

	// Five rapid edits to the same field, one second apart.
	values := []string{"O", "Op", "Ope", "Open", "Opening"}
	prev := ""
	for _, v := range values {
		buf.Record(testChange(eventID, 101, "segmentName", prev, v))
		prev = v
		clock.Advance(time.Second)
	}
	require.Equal(t, 1, buf.PendingCount())
	require.Empty(t, sink.all())

	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, time.Second, 5*time.Millisecond)

	entry := sink.all()[0]
	assert.Equal(t, "O", entry.OldValue)
	assert.Equal(t, "Opening", entry.NewValue)
	assert.Equal(t, "segmentName", entry.Field)
	assert.Equal(t, 0, buf.PendingCount())
}

func TestBufferSeparateKeysSeparateEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &captureSink{}
	buf := NewBuffer(clock, DefaultBufferConfig(), sink)

	eventID := uuid.New()
	buf.Record(testChange(eventID, 101, "segmentName", "", "Opening"))
	buf.Record(testChange(eventID, 101, "durationMinutes", "5", "7"))
	buf.Record(testChange(eventID, 102, "segmentName", "", "Keynote"))
	require.Equal(t, 3, buf.PendingCount())

	clock.Advance(6 * time.Second)
	require.Eventually(t, func() bool {
		return len(sink.all()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestBufferFlushCommitsInInsertionOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &captureSink{}
	buf := NewBuffer(clock, DefaultBufferConfig(), sink)

	eventID := uuid.New()
	buf.Record(testChange(eventID, 3, "segmentName", "", "c"))
	buf.Record(testChange(eventID, 1, "segmentName", "", "a"))
	buf.Record(testChange(eventID, 2, "segmentName", "", "b"))

	buf.Flush()

	entries := sink.all()
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].NewValue)
	assert.Equal(t, "a", entries[1].NewValue)
	assert.Equal(t, "b", entries[2].NewValue)
	assert.Equal(t, 0, buf.PendingCount())

	// The quiet-period timers were stopped by the flush; advancing the clock
	// must not produce duplicates.
	clock.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sink.all(), 3)
}

func TestBufferIdempotentCommit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &captureSink{}
	buf := NewBuffer(clock, DefaultBufferConfig(), sink)

	eventID := uuid.New()
	buf.Record(testChange(eventID, 101, "segmentName", "", "Opening"))

	b := buf
	b.mu.Lock()
	entry, idemKey := b.popLocked(FieldKey(101, "segmentName"))
	b.mu.Unlock()
	require.NotNil(t, entry)

	b.Commit(entry, idemKey)
	b.Commit(entry, idemKey) // replay of the same finalization
	b.Commit(entry, idemKey)

	assert.Len(t, sink.all(), 1)
}

func TestBufferSweepFinalizesStaleEntries(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultBufferConfig()
	sink := &captureSink{}
	buf := NewBuffer(clock, cfg, sink)

	eventID := uuid.New()
	buf.Record(testChange(eventID, 101, "segmentName", "", "Opening"))

	// Simulate a lost quiet timer: stop it behind the buffer's back, then let
	// the sweep pick the entry up once it crosses the stale threshold.
	buf.mu.Lock()
	buf.pending[FieldKey(101, "segmentName")].timer.Stop()
	buf.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		buf.Run(ctx)
		close(done)
	}()

	clock.BlockUntilContext(ctx, 1)
	clock.Advance(cfg.StaleThreshold)
	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestBufferRemoteSyncAfterFinalize(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &captureSink{}
	buf := NewBuffer(clock, DefaultBufferConfig(), sink)

	var mu sync.Mutex
	syncs := 0
	buf.SetSyncFunc(func() {
		mu.Lock()
		syncs++
		mu.Unlock()
	})

	eventID := uuid.New()
	buf.Record(testChange(eventID, 101, "segmentName", "", "Opening"))
	buf.Flush()
	require.Len(t, sink.all(), 1)

	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return syncs == 1
	}, time.Second, 5*time.Millisecond)
}
