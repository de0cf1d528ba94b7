// Package backoff computes the reconnect delay sequence for tunnel sessions.
package backoff

import (
	"time"

	"github.com/jpillora/backoff"
)

const (
	// BaseDelay is the wait before the first retry.
	BaseDelay = 5 * time.Second
	// MaxDelay caps the wait between retries.
	MaxDelay = 300 * time.Second
)

// schedule is read-only; ForAttempt does not touch the attempt counter.
var schedule = backoff.Backoff{
	Min:    BaseDelay,
	Max:    MaxDelay,
	Factor: 2,
	Jitter: false,
}

// NextDelay returns the wait for the given retry attempt:
// 5s, 10s, 20s, 40s, 80s, 160s, then 300s forever.
// Negative attempts are treated as 0.
func NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return schedule.ForAttempt(float64(attempt))
}
