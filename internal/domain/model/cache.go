package model

import "time"

// CacheTier names a storage layer of the quote cache, fastest first.
type CacheTier string

const (
	TierMemory CacheTier = "memory"
	TierRedis  CacheTier = "redis"
	TierMongo  CacheTier = "mongo"
)

// CacheEntry is what every tier stores.
type CacheEntry struct {
	Key      string        `json:"key"`
	Value    []byte        `json:"value"`
	TTL      time.Duration `json:"ttl"`
	StoredAt time.Time     `json:"stored_at"`
	Tier     CacheTier     `json:"-"`
}

func (e CacheEntry) ExpiresAt() time.Time { return e.StoredAt.Add(e.TTL) }

func (e CacheEntry) Expired(now time.Time) bool { return !now.Before(e.ExpiresAt()) }

// Remaining is the TTL left at now, never negative.
func (e CacheEntry) Remaining(now time.Time) time.Duration {
	d := e.ExpiresAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
