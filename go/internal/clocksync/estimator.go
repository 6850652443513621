// Package clocksync keeps a client's countdown math honest without trusting
// its wall clock. The server stamps a serverTime message on every connect and
// periodically afterwards; the estimator turns those into a signed offset that
// every elapsed/remaining computation applies.
package clocksync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// MaxPlausibleOffset bounds how far the estimator will believe a single
// serverTime exchange. Anything past this is treated as a failed exchange
// (stale message, clock jump mid-flight) and the previous known-good offset
// is kept.
const MaxPlausibleOffset = time.Hour

// Estimator tracks the signed difference between server time and local time.
// Safe for concurrent use: the broadcast reader updates it while the tick
// loop reads it.
type Estimator struct {
	clock clockwork.Clock

	mu        sync.RWMutex
	offset    time.Duration
	synced    bool
	lastSync  time.Time
	rejection int
}

// NewEstimator returns an estimator with a zero offset. Until the first
// serverTime exchange, Now() falls back to the local clock.
func NewEstimator(clock clockwork.Clock) *Estimator {
	return &Estimator{clock: clock}
}

// ApplyServerTime reconciles a server-sent timestamp against the local
// receive time. The error introduced by transit is bounded by one round trip,
// which keeps all clients within roughly a second of each other.
func (e *Estimator) ApplyServerTime(serverTime time.Time) {
	received := e.clock.Now()
	offset := serverTime.Sub(received)

	e.mu.Lock()
	defer e.mu.Unlock()

	if offset > MaxPlausibleOffset || offset < -MaxPlausibleOffset {
		e.rejection++
		log.Warn().
			Dur("offset", offset).
			Dur("kept_offset", e.offset).
			Int("rejections", e.rejection).
			Msg("implausible clock offset ignored")
		return
	}

	e.offset = offset
	e.synced = true
	e.lastSync = received
}

// Offset returns the current signed server-minus-local offset.
func (e *Estimator) Offset() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.offset
}

// Synced reports whether at least one serverTime exchange succeeded.
func (e *Estimator) Synced() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.synced
}

// Now returns the local clock corrected into server time.
func (e *Estimator) Now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock.Now().Add(e.offset)
}

// ElapsedSince computes elapsed seconds against a server-issued start
// timestamp using the corrected clock.
func (e *Estimator) ElapsedSince(startedAt time.Time) int {
	return int(e.Now().Sub(startedAt) / time.Second)
}
