package metricsync

import "time"

// DefaultRetryLadder is the delay before each retry of a failed refresh.
// The last step repeats.
var DefaultRetryLadder = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// retryBackoff returns the delay for a given attempt number (1-indexed).
func retryBackoff(ladder []time.Duration, attempt int) time.Duration {
	if len(ladder) == 0 {
		ladder = DefaultRetryLadder
	}
	switch {
	case attempt < 1:
		return ladder[0]
	case attempt > len(ladder):
		return ladder[len(ladder)-1]
	default:
		return ladder[attempt-1]
	}
}
