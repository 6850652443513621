// Package changelog captures every edit exactly once despite rapid, bursty
// user input. Structural changes append synchronously; field edits pass
// through a keyed debounce buffer that merges successive edits to the same
// field and finalizes after a quiet period.
package changelog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/showops/cueline/go/internal/models"
)

// Sink receives finalized entries. Satisfied by *Repository.
type Sink interface {
	Append(ctx context.Context, entry *models.ChangeLogEntry) error
}

// BufferConfig tunes the debounce behavior.
type BufferConfig struct {
	QuietPeriod    time.Duration // delay after the last edit before finalizing
	StaleThreshold time.Duration // pending entries older than this are swept
	SweepInterval  time.Duration // how often the sweep runs
	SyncDelay      time.Duration // delay after finalize before remote sync
	ProcessedTTL   time.Duration // how long finalized idempotency keys are remembered
}

// DefaultBufferConfig mirrors the editing cadence the UI was tuned for: five
// seconds of quiet before a field edit becomes history.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		QuietPeriod:    5 * time.Second,
		StaleThreshold: 15 * time.Second,
		SweepInterval:  5 * time.Second,
		SyncDelay:      2 * time.Second,
		ProcessedTTL:   10 * time.Minute,
	}
}

type pendingEntry struct {
	change models.PendingChange
	timer  clockwork.Timer
}

// Buffer is the keyed-merge debounce buffer. One instance per editing
// session; it is not shared across clients. The persisted log underneath is
// append-only, so concurrent sessions never overwrite each other and the
// idempotency set absorbs duplicates.
type Buffer struct {
	clock clockwork.Clock
	cfg   BufferConfig
	sink  Sink

	// syncFn, when set, is invoked best-effort shortly after a finalization
	// burst settles (whole-schedule snapshot push in the original flow).
	syncFn func()

	mu        sync.Mutex
	pending   map[string]*pendingEntry
	order     []string // insertion order, for forced-flush determinism
	processed map[string]time.Time
	syncTimer clockwork.Timer
}

// NewBuffer creates a debounce buffer.
func NewBuffer(clock clockwork.Clock, cfg BufferConfig, sink Sink) *Buffer {
	return &Buffer{
		clock:     clock,
		cfg:       cfg,
		sink:      sink,
		pending:   make(map[string]*pendingEntry),
		processed: make(map[string]time.Time),
	}
}

// SetSyncFunc registers the post-finalization remote sync hook.
func (b *Buffer) SetSyncFunc(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncFn = fn
}

// FieldKey builds the default composite key for a field edit.
func FieldKey(cueID int64, field string) string {
	return fmt.Sprintf("%d:%s", cueID, field)
}

// Record buffers a field edit. A new edit to the same key replaces the
// pending entry (only the last value survives) and restarts the quiet-period
// timer. The first edit's FirstSeen and OldValue are preserved, so the
// finalized entry reads as one change from the value before the burst to the
// value after it.
func (b *Buffer) Record(change models.PendingChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	change.UpdatedAt = now

	if existing, ok := b.pending[change.Key]; ok {
		change.FirstSeen = existing.change.FirstSeen
		change.OldValue = existing.change.OldValue
		existing.change = change
		existing.timer.Reset(b.cfg.QuietPeriod)
		return
	}

	change.FirstSeen = now
	key := change.Key
	b.pending[key] = &pendingEntry{
		change: change,
		timer: b.clock.AfterFunc(b.cfg.QuietPeriod, func() {
			b.finalizeKey(key)
		}),
	}
	b.order = append(b.order, key)
}

// finalizeKey is the quiet-period callback for one key.
func (b *Buffer) finalizeKey(key string) {
	b.mu.Lock()
	entry, idemKey := b.popLocked(key)
	b.mu.Unlock()
	if entry == nil {
		return
	}
	b.Commit(entry, idemKey)
}

// popLocked removes a pending entry and stamps its idempotency key. The pop
// and the stamp happen under the same lock, so a finalize timer racing a
// forced flush can only produce one (entry, key) pair.
func (b *Buffer) popLocked(key string) (*models.ChangeLogEntry, string) {
	pe, ok := b.pending[key]
	if !ok {
		return nil, ""
	}
	delete(b.pending, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	pe.timer.Stop()

	finalizedAt := b.clock.Now()
	idemKey := fmt.Sprintf("%s@%d", key, finalizedAt.UnixNano())

	c := pe.change
	return &models.ChangeLogEntry{
		ID:          uuid.New(),
		EventID:     c.EventID,
		ActorID:     c.Actor.ID,
		ActorName:   c.Actor.Name,
		ActorRole:   c.Actor.Role,
		Action:      c.Action,
		Description: c.Description,
		Field:       c.Field,
		CueID:       c.CueID,
		RowNumber:   c.RowNumber,
		OldValue:    c.OldValue,
		NewValue:    c.NewValue,
		CreatedAt:   finalizedAt,
	}, idemKey
}

// Commit persists an entry unless its idempotency key was already processed.
// Replaying a finalized key is silently dropped; persistence errors leave the
// key marked so a retry cannot double-log (append-only history prefers a lost
// entry over a duplicated one).
func (b *Buffer) Commit(entry *models.ChangeLogEntry, idemKey string) {
	b.mu.Lock()
	if _, seen := b.processed[idemKey]; seen {
		b.mu.Unlock()
		log.Debug().Str("key", idemKey).Msg("duplicate change-log finalization dropped")
		return
	}
	b.processed[idemKey] = b.clock.Now()
	b.mu.Unlock()

	if err := b.sink.Append(context.Background(), entry); err != nil {
		log.Error().Err(err).
			Str("key", idemKey).
			Str("action", entry.Action).
			Msg("failed to persist change-log entry")
		return
	}

	log.Debug().
		Str("action", entry.Action).
		Str("field", entry.Field).
		Msg("change-log entry finalized")

	b.scheduleRemoteSync()
}

// Flush finalizes all outstanding pending entries immediately, in original
// insertion order. Used on navigation away, explicit save and shutdown.
func (b *Buffer) Flush() {
	b.mu.Lock()
	keys := append([]string(nil), b.order...)
	type popped struct {
		entry *models.ChangeLogEntry
		key   string
	}
	var out []popped
	for _, k := range keys {
		if entry, idemKey := b.popLocked(k); entry != nil {
			out = append(out, popped{entry, idemKey})
		}
	}
	b.mu.Unlock()

	for _, p := range out {
		b.Commit(p.entry, p.key)
	}
}

// PendingCount returns how many entries are buffered.
func (b *Buffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run drives the periodic sweep until ctx is cancelled. A pending entry whose
// quiet timer was somehow lost gets finalized once it exceeds the stale
// threshold, and old idempotency keys are evicted.
func (b *Buffer) Run(ctx context.Context) {
	ticker := b.clock.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.Flush()
			return
		case <-ticker.Chan():
			b.sweep()
		}
	}
}

func (b *Buffer) sweep() {
	now := b.clock.Now()

	b.mu.Lock()
	var stale []string
	for key, pe := range b.pending {
		if now.Sub(pe.change.UpdatedAt) >= b.cfg.StaleThreshold {
			stale = append(stale, key)
		}
	}
	for key, at := range b.processed {
		if now.Sub(at) >= b.cfg.ProcessedTTL {
			delete(b.processed, key)
		}
	}
	b.mu.Unlock()

	for _, key := range stale {
		log.Warn().Str("key", key).Msg("sweeping stale pending change")
		b.finalizeKey(key)
	}
}

// scheduleRemoteSync arms (or re-arms) the post-finalize sync delay.
func (b *Buffer) scheduleRemoteSync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.syncFn == nil {
		return
	}
	if b.syncTimer != nil {
		b.syncTimer.Reset(b.cfg.SyncDelay)
		return
	}
	b.syncTimer = b.clock.AfterFunc(b.cfg.SyncDelay, func() {
		b.mu.Lock()
		fn := b.syncFn
		b.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
