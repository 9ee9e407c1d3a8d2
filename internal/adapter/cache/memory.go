package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"

	"quotehub/internal/domain/model"
)

// MemoryAdapter is the in-process tier. bigcache only has a global life window,
// so per-entry expiry is checked against the stored envelope.
type MemoryAdapter struct {
	cache *bigcache.BigCache
	now   func() time.Time
}

// NewMemoryAdapter evicts everything after maxTTL regardless of the entry TTL.
func NewMemoryAdapter(ctx context.Context, maxTTL time.Duration, maxSizeMB int) (*MemoryAdapter, error) {
	cfg := bigcache.DefaultConfig(maxTTL)
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 10000
	cfg.MaxEntrySize = 512
	cfg.CleanWindow = time.Minute
	cfg.HardMaxCacheSize = maxSizeMB
	cfg.Verbose = false

	c, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	return &MemoryAdapter{cache: c, now: time.Now}, nil
}

func (a *MemoryAdapter) Tier() model.CacheTier { return model.TierMemory }

func (a *MemoryAdapter) Get(ctx context.Context, key string) (*model.CacheEntry, error) {
	data, err := a.cache.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read memory cache: %w", err)
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	if entry.Expired(a.now()) {
		_ = a.cache.Delete(key)
		return nil, nil
	}
	entry.Tier = model.TierMemory
	return &entry, nil
}

func (a *MemoryAdapter) Set(ctx context.Context, entry model.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := a.cache.Set(entry.Key, data); err != nil {
		return fmt.Errorf("failed to write memory cache: %w", err)
	}
	return nil
}

func (a *MemoryAdapter) Delete(ctx context.Context, key string) error {
	if err := a.cache.Delete(key); err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return fmt.Errorf("failed to delete from memory cache: %w", err)
	}
	return nil
}

func (a *MemoryAdapter) Ping(ctx context.Context) error { return nil }

func (a *MemoryAdapter) Close() error { return a.cache.Close() }
