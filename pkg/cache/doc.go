// Package cache stores API response bodies in Redis, keyed by request URL.
//
// Entries live for as long as the response's Cache-Control max-age or
// Expires header allows, falling back to a configured TTL when the API sends
// neither. Redis expires the keys itself, so a stale entry is never served.
// Bodies are stored zstd-compressed. Purge drops every cached response, for
// runs that must see fresh data.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.KeyFor(requestURL)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API, then
//		entry = cache.NewEntry(resp, body, cache.DefaultTTL)
//		_ = manager.Set(ctx, key, entry)
//	}
//
// # Metrics
//
//   - ingest_cache_hits_total
//   - ingest_cache_misses_total
//   - ingest_cache_stored_bytes_total
//   - ingest_cache_errors_total{operation}
package cache
