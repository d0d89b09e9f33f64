package watcher

import "time"

// Backoff is the retry delay policy applied after a failed health check or
// watch cycle: Short while the consecutive failure count is at most
// Threshold, Long afterwards. Retries never stop on their own.
type Backoff struct {
	Short     time.Duration
	Long      time.Duration
	Threshold int
}

// DefaultBackoff waits 5s for the first 12 failures, then 30s.
func DefaultBackoff() Backoff {
	return Backoff{
		Short:     5 * time.Second,
		Long:      30 * time.Second,
		Threshold: 12,
	}
}

// Delay returns the wait before the next cycle for the given 1-based
// consecutive failure count.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt > b.Threshold {
		return b.Long
	}
	return b.Short
}

// Exceeded reports whether attempt is past the short-delay threshold.
func (b Backoff) Exceeded(attempt int) bool {
	return attempt > b.Threshold
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Short <= 0 {
		b.Short = d.Short
	}
	if b.Long <= 0 {
		b.Long = d.Long
	}
	if b.Threshold <= 0 {
		b.Threshold = d.Threshold
	}
	return b
}
