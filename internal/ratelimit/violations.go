package ratelimit

import (
	"sync"
	"time"

	"github.com/closetmind/gateway/internal/config"
	"github.com/closetmind/gateway/internal/metrics"
	"github.com/closetmind/gateway/pkg/logger"
)

// violationRecord tracks repeat offenses for one address. A zero blockedUntil
// means the address has never been blocked or its block was cleared.
type violationRecord struct {
	violations   int
	blockedUntil time.Time
}

// Tracker escalates repeat rate-limit offenders into timed blocks.
//
// States per address: Clean (no record) -> Warned (1..threshold-1 violations)
// -> Blocked (violations >= threshold, blockedUntil set). Every rate-limit
// rejection from any limiter class counts one violation against the address.
// The periodic sweep decays violations on addresses whose block has lapsed
// (or that were never blocked), so sustained good behavior returns a client
// to Clean, while a fresh offense above zero escalates faster than a first
// offense would.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*violationRecord

	threshold int
	step      time.Duration
	maxBlock  time.Duration
	decay     int

	log *logger.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewTracker creates a violation tracker from config.
func NewTracker(cfg *config.BlocklistConfig, log *logger.Logger) *Tracker {
	return &Tracker{
		records:   make(map[string]*violationRecord),
		threshold: cfg.BlockThreshold,
		step:      time.Duration(cfg.StepMinutes) * time.Minute,
		maxBlock:  time.Duration(cfg.MaxBlockMinutes) * time.Minute,
		decay:     cfg.DecayPerSweep,
		log:       log,
		now:       time.Now,
	}
}

// BlockRemaining reports whether the address is currently blocked and, if so,
// how long remains. This is the pre-check gate: it runs before any limiter
// check and overrides per-class limiting entirely.
func (t *Tracker) BlockRemaining(addr string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[addr]
	if !exists || rec.blockedUntil.IsZero() {
		return 0, false
	}

	now := t.now()
	if rec.blockedUntil.After(now) {
		return rec.blockedUntil.Sub(now), true
	}
	return 0, false
}

// RecordViolation counts one rate-limit rejection against the address. Once
// the count reaches the threshold (and on every rejection while blocked) the
// block duration is recomputed as violations*step, capped at maxBlock, and
// the block window restarts from now. Returns the new violation count and,
// when blocked, the block expiry.
func (t *Tracker) RecordViolation(addr string) (violations int, blockedUntil time.Time, blocked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[addr]
	if !exists {
		rec = &violationRecord{}
		t.records[addr] = rec
	}

	rec.violations++

	if rec.violations < t.threshold {
		return rec.violations, time.Time{}, false
	}

	duration := time.Duration(rec.violations) * t.step
	if duration > t.maxBlock {
		duration = t.maxBlock
	}
	rec.blockedUntil = t.now().Add(duration)

	metrics.BlocksImposed.Inc()
	metrics.ActiveBlocks.Set(float64(t.blockedLocked()))
	t.log.Warn("address blocked after repeated rate limit violations",
		"addr", addr,
		"violations", rec.violations,
		"block_duration", duration,
	)

	return rec.violations, rec.blockedUntil, true
}

// Sweep decays every record that is not currently blocked: violations drop by
// the decay step (floor 0), a lapsed block is cleared, and records that reach
// zero are deleted. Runs on a fixed cadence, fully serialized against the
// request path by the same mutex.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	decayed := 0
	for addr, rec := range t.records {
		if !rec.blockedUntil.IsZero() && rec.blockedUntil.After(now) {
			continue
		}

		rec.blockedUntil = time.Time{}
		rec.violations -= t.decay
		decayed++
		if rec.violations <= 0 {
			delete(t.records, addr)
		}
	}

	metrics.ActiveBlocks.Set(float64(t.blockedLocked()))
	if decayed > 0 {
		t.log.Info("violation sweep completed", "decayed", decayed, "tracked", len(t.records))
	}
}

// Stats returns the number of tracked addresses and how many are blocked.
func (t *Tracker) Stats() (tracked int, blocked int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records), t.blockedLocked()
}

// blockedLocked counts currently blocked addresses. Caller holds t.mu.
func (t *Tracker) blockedLocked() int {
	now := t.now()
	blocked := 0
	for _, rec := range t.records {
		if !rec.blockedUntil.IsZero() && rec.blockedUntil.After(now) {
			blocked++
		}
	}
	return blocked
}
