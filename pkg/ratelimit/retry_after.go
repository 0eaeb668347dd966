package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfter caps server-requested pauses.
const MaxRetryAfter = 2 * time.Minute

// RetryAfter parses the Retry-After header, which is either a number of
// seconds or an HTTP date. The result is capped at MaxRetryAfter.
func RetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}

	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		d = time.Duration(secs) * time.Second
	} else {
		at, err := http.ParseTime(v)
		if err != nil {
			return 0, false
		}
		d = at.Sub(now)
		if d < 0 {
			d = 0
		}
	}

	if d > MaxRetryAfter {
		d = MaxRetryAfter
	}
	return d, true
}
