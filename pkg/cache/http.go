package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the fallback TTL when the response carries no freshness headers.
const DefaultTTL = 5 * time.Minute

// NewEntry builds an entry from a response and its already-read body.
// fallback is used when neither Cache-Control nor Expires is present.
func NewEntry(resp *http.Response, body []byte, fallback time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Data:       body,
		ETag:       resp.Header.Get("ETag"),
		StatusCode: resp.StatusCode,
		CachedAt:   now,
		Expires:    expiresAt(resp.Header, now, fallback),
	}
}

// Cacheable reports whether the response may be stored at all.
func Cacheable(resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	for _, directive := range cacheControl(resp.Header) {
		if directive == "no-store" || directive == "no-cache" {
			return false
		}
	}
	return true
}

// expiresAt prefers Cache-Control max-age, then Expires, then fallback.
func expiresAt(h http.Header, now time.Time, fallback time.Duration) time.Time {
	for _, directive := range cacheControl(h) {
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return now.Add(time.Duration(secs) * time.Second)
			}
		}
	}

	if s := h.Get("Expires"); s != "" {
		expires, err := http.ParseTime(s)
		if err != nil {
			// an invalid Expires means already expired
			return now
		}
		if expires.Before(now) {
			return now
		}
		return expires
	}

	return now.Add(fallback)
}

func cacheControl(h http.Header) []string {
	raw := h.Get("Cache-Control")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return parts
}
