package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/closetmind/gateway/internal/config"
	"github.com/closetmind/gateway/pkg/logger"
)

func newTestTracker() *Tracker {
	return NewTracker(&config.BlocklistConfig{
		BlockThreshold:  5,
		StepMinutes:     5,
		MaxBlockMinutes: 60,
		DecayPerSweep:   2,
		SweepSchedule:   "@every 5m",
	}, logger.NewNop())
}

func TestTracker_WarnedBelowThreshold(t *testing.T) {
	tr := newTestTracker()

	for i := 1; i <= 4; i++ {
		violations, _, blocked := tr.RecordViolation("203.0.113.7")
		assert.Equal(t, i, violations)
		assert.False(t, blocked)
	}

	_, isBlocked := tr.BlockRemaining("203.0.113.7")
	assert.False(t, isBlocked)
}

func TestTracker_BlocksAtThreshold(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		tr.RecordViolation("203.0.113.7")
	}

	violations, blockedUntil, blocked := tr.RecordViolation("203.0.113.7")
	require.True(t, blocked)
	assert.Equal(t, 5, violations)
	// 5 violations * 5 minutes.
	assert.Equal(t, now.Add(25*time.Minute), blockedUntil)

	remaining, isBlocked := tr.BlockRemaining("203.0.113.7")
	require.True(t, isBlocked)
	assert.Equal(t, 25*time.Minute, remaining)
}

func TestTracker_BlockDurationCapped(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	var blockedUntil time.Time
	for i := 0; i < 20; i++ {
		_, blockedUntil, _ = tr.RecordViolation("203.0.113.7")
	}

	// 20 * 5min = 100min would exceed the 60min cap.
	assert.Equal(t, now.Add(60*time.Minute), blockedUntil)
}

func TestTracker_BlockRestartsOnRepeatOffense(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		tr.RecordViolation("203.0.113.7")
	}

	now = now.Add(10 * time.Minute)
	_, blockedUntil, blocked := tr.RecordViolation("203.0.113.7")
	require.True(t, blocked)
	// 6 violations * 5 minutes from the new offense.
	assert.Equal(t, now.Add(30*time.Minute), blockedUntil)
}

func TestTracker_BlockLapses(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		tr.RecordViolation("203.0.113.7")
	}

	_, isBlocked := tr.BlockRemaining("203.0.113.7")
	require.True(t, isBlocked)

	now = now.Add(25*time.Minute + time.Second)
	_, isBlocked = tr.BlockRemaining("203.0.113.7")
	assert.False(t, isBlocked)
}

func TestTracker_SweepDecaysLapsedRecords(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tr.RecordViolation("203.0.113.7")
	}

	tr.Sweep()
	tracked, blocked := tr.Stats()
	assert.Equal(t, 1, tracked)
	assert.Equal(t, 0, blocked)

	// Second sweep drops the count to zero and deletes the record.
	tr.Sweep()
	tracked, _ = tr.Stats()
	assert.Equal(t, 0, tracked)
}

func TestTracker_SweepSkipsActiveBlocks(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		tr.RecordViolation("203.0.113.7")
	}

	tr.Sweep()

	remaining, isBlocked := tr.BlockRemaining("203.0.113.7")
	require.True(t, isBlocked)
	assert.Equal(t, 25*time.Minute, remaining)
}

func TestTracker_DecayedOffenderEscalatesFaster(t *testing.T) {
	tr := newTestTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		tr.RecordViolation("203.0.113.7")
	}
	tr.Sweep() // 4 -> 2

	// Two violations on a decayed record reach the threshold again faster
	// than a fresh client would.
	tr.RecordViolation("203.0.113.7")
	tr.RecordViolation("203.0.113.7")
	violations, _, blocked := tr.RecordViolation("203.0.113.7")
	assert.True(t, blocked)
	assert.Equal(t, 5, violations)
}

func TestTracker_AddressesIsolated(t *testing.T) {
	tr := newTestTracker()

	for i := 0; i < 5; i++ {
		tr.RecordViolation("203.0.113.7")
	}

	_, isBlocked := tr.BlockRemaining("198.51.100.9")
	assert.False(t, isBlocked)
}
