package errors

import (
	"strconv"
	"time"
)

// wait is how long GitHub asked callers to hold off before the next request.
// Retry-After covers secondary limits; once the primary quota is spent the
// reset epoch says when it refills. Zero means the response named no wait.
func (e *RemoteError) wait(now time.Time) time.Duration {
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	if e.RateLimitRemaining != 0 || e.RateLimitReset.IsZero() {
		return 0
	}
	if d := e.RateLimitReset.Sub(now); d > 0 {
		return d
	}
	return 0
}

// rateLimitWait finds the requested wait anywhere in err's chain.
func rateLimitWait(err error, now time.Time) time.Duration {
	var se *SyncError
	if As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter
	}
	var re *RemoteError
	if As(err, &re) {
		return re.wait(now)
	}
	return 0
}

func parseReset(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
