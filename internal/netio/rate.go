package netio

import "time"

// RateTracker converts successive cumulative counter reads into Mbps rates.
// Each consumer (live poller, ambient poller) keeps its own tracker so the
// two cadences never interfere.
type RateTracker struct {
	prev   ByteCounters
	prevAt time.Time
	primed bool
}

// Update folds in a new reading and returns the rate since the previous one.
// The first call only primes the tracker (ok=false). A counter that moved
// backwards (reset or wrap) yields a zero delta for that interval, never an
// underflowed positive number.
func (t *RateTracker) Update(c ByteCounters, at time.Time) (downMbps, upMbps float64, ok bool) {
	if !t.primed {
		t.prev = c
		t.prevAt = at
		t.primed = true
		return 0, 0, false
	}

	elapsed := at.Sub(t.prevAt).Seconds()
	if elapsed <= 0 {
		return 0, 0, false
	}

	downMbps = mbps(counterDelta(t.prev.Received, c.Received), elapsed)
	upMbps = mbps(counterDelta(t.prev.Sent, c.Sent), elapsed)

	t.prev = c
	t.prevAt = at
	return downMbps, upMbps, true
}

// Reset clears the tracker so the next Update primes it again.
func (t *RateTracker) Reset() { *t = RateTracker{} }

func counterDelta(prev, cur uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

func mbps(deltaBytes uint64, elapsedSec float64) float64 {
	return float64(deltaBytes) * 8 / elapsedSec / 1_000_000
}
