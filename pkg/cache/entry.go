package cache

import (
	"time"
)

// Entry is a cached response body.
type Entry struct {
	// Data is the raw response body
	Data []byte `json:"data"`

	// ETag as sent by the API, kept for inspection
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// StatusCode of the cached response
	StatusCode int `json:"status_code"`

	// CachedAt is when the entry was stored
	CachedAt time.Time `json:"cached_at"`
}

// IsExpired reports whether the entry is stale.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration, or 0 when already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
