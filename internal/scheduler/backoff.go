package scheduler

import "time"

// MaxFailures is the consecutive failure count at which a row is disabled.
const MaxFailures = 5

// Backoff returns the delay before the next attempt after the given number
// of consecutive failures, or disable=true once MaxFailures is reached.
//
//	1 -> normal interval, 2 -> 24h, 3 -> 48h, 4 -> 72h, 5+ -> disabled
func Backoff(failures int, interval time.Duration) (delay time.Duration, disable bool) {
	switch {
	case failures <= 1:
		return interval, false
	case failures >= MaxFailures:
		return interval, true
	default:
		return time.Duration(failures-1) * 24 * time.Hour, false
	}
}
