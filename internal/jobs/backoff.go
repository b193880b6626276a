package jobs

import (
	"math"
	"time"
)

// RetryPolicy controls how many delivery attempts a job gets and how
// long to wait between them.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
}

// DefaultRetryPolicy gives each job three attempts with delays of
// 5s, 25s and 125s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Factor:      5,
	}
}

// Delay returns the wait before the next attempt, given how many
// attempts have already been made. The first retry (attempt=1) waits
// BaseDelay; each subsequent retry multiplies by Factor.
func (p RetryPolicy) Delay(attempt int32) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Exhausted reports whether a job that has made the given number of
// attempts is out of retries.
func (p RetryPolicy) Exhausted(attempt int32) bool {
	return int(attempt) >= p.MaxAttempts
}
