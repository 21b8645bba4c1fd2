package cache

import "time"

// Config configures a Store.
type Config struct {
	Capacity   int           // Max entries. Default: 100
	DefaultTTL time.Duration // TTL used when Set gets ttl <= 0. Default: 5m
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:   100,
		DefaultTTL: 5 * time.Minute,
	}
}

// Stats contains cache statistics.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Len         int   `json:"len"`
	Capacity    int   `json:"capacity"`
}

type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry[V]) valid(now time.Time) bool {
	return now.Before(e.storedAt.Add(e.ttl))
}
