package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// EncodeAll and DecodeAll are safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// stored is the Redis value of an Entry. Page bodies of the open-data API
// repeat the same keys for every record and compress well.
type stored struct {
	Body       []byte    `json:"body"`
	Size       int       `json:"size"`
	ETag       string    `json:"etag,omitempty"`
	StatusCode int       `json:"status_code"`
	Expires    time.Time `json:"expires"`
	CachedAt   time.Time `json:"cached_at"`
}

// Manager stores response bodies in Redis.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{redis: redisClient}
}

// Get returns the entry stored under key. A missing or expired entry is
// ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	data, err := m.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	entry, err := unpack(data)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return entry, nil
}

// Set stores entry until its Expires time. Stale entries are not stored.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := pack(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	if err := m.redis.Set(ctx, key.String(), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheStoredBytes.Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.redis.Del(ctx, key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Extend pushes the expiry of an existing entry to newExpires.
func (m *Manager) Extend(ctx context.Context, key Key, newExpires time.Time) error {
	entry, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	entry.Expires = newExpires
	return m.Set(ctx, key, entry)
}

// Purge deletes every cached response and returns how many were removed.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	var removed int
	iter := m.redis.Scan(ctx, 0, keyPrefix+":*", 500).Iterator()
	batch := make([]string, 0, 500)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.redis.Del(ctx, batch...).Result()
		if err != nil {
			CacheErrors.WithLabelValues("delete").Inc()
			return fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("scan").Inc()
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, flush()
}

func pack(e *Entry) ([]byte, error) {
	data, err := json.Marshal(stored{
		Body:       encoder.EncodeAll(e.Data, nil),
		Size:       len(e.Data),
		ETag:       e.ETag,
		StatusCode: e.StatusCode,
		Expires:    e.Expires,
		CachedAt:   e.CachedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func unpack(data []byte) (*Entry, error) {
	var s stored
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	body, err := decoder.DecodeAll(s.Body, make([]byte, 0, s.Size))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &Entry{
		Data:       body,
		ETag:       s.ETag,
		StatusCode: s.StatusCode,
		Expires:    s.Expires,
		CachedAt:   s.CachedAt,
	}, nil
}
