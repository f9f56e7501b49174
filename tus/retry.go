package tus

import "time"

// DefaultRetryDelays ...
var DefaultRetryDelays = []time.Duration{0, time.Second, 3 * time.Second, 5 * time.Second}

// RetryScheduler decides whether a failed request is retried, based on the
// number of consecutive failures so far and a table of delays.
type RetryScheduler struct {
	Delays []time.Duration
}

// Next returns the delay before retry number attempt+1. It returns false for
// permanent failures and once the table is exhausted.
func (s RetryScheduler) Next(attempt int, err error) (time.Duration, bool) {
	if !IsRetryable(err) {
		return 0, false
	}
	if attempt < 0 || attempt >= len(s.Delays) {
		return 0, false
	}
	return s.Delays[attempt], true
}
