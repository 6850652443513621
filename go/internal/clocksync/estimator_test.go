package clocksync

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyServerTimeComputesSignedOffset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewEstimator(clock)

	// Server is 90s ahead of this client.
	e.ApplyServerTime(clock.Now().Add(90 * time.Second))

	assert.Equal(t, 90*time.Second, e.Offset())
	assert.True(t, e.Synced())
	assert.Equal(t, clock.Now().Add(90*time.Second), e.Now())

	// Server behind the client yields a negative offset.
	e.ApplyServerTime(clock.Now().Add(-30 * time.Second))
	assert.Equal(t, -30*time.Second, e.Offset())
}

func TestImplausibleOffsetKeepsPreviousKnownGood(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewEstimator(clock)

	e.ApplyServerTime(clock.Now().Add(2 * time.Second))
	require.Equal(t, 2*time.Second, e.Offset())

	// A clearly broken exchange (hours off) must not move the offset.
	e.ApplyServerTime(clock.Now().Add(26 * time.Hour))
	assert.Equal(t, 2*time.Second, e.Offset())

	e.ApplyServerTime(clock.Now().Add(-48 * time.Hour))
	assert.Equal(t, 2*time.Second, e.Offset())
}

func TestElapsedSinceSurvivesReconnect(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewEstimator(clock)
	e.ApplyServerTime(clock.Now().Add(5 * time.Second))

	startedAt := e.Now()
	clock.Advance(3 * time.Minute)

	// A fresh estimator seeded from a new serverTime exchange (as after a
	// disconnect/reconnect) must reconstruct the same elapsed value.
	reconnected := NewEstimator(clock)
	reconnected.ApplyServerTime(clock.Now().Add(5 * time.Second))

	assert.Equal(t, 180, e.ElapsedSince(startedAt))
	assert.Equal(t, 180, reconnected.ElapsedSince(startedAt))
}
