package channel

import (
	"math"
	"time"
)

// Poller decides how long the bridge waits between two polls.
type Poller interface {
	// Interval returns the wait before poll attempt n+1 (n starts at 0).
	Interval(n int) time.Duration
}

// FixedInterval waits the same duration between every poll.
type FixedInterval time.Duration

// Interval implements Poller.
func (f FixedInterval) Interval(int) time.Duration { return time.Duration(f) }

// Backoff grows the interval geometrically up to Max.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Interval implements Poller.
func (b Backoff) Interval(n int) time.Duration {
	if b.Multiplier <= 1 {
		return b.Initial
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(n))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

var (
	_ Poller = FixedInterval(0)
	_ Poller = Backoff{}
)
