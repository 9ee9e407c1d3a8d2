package port

import (
	"context"
	"time"

	"quotehub/internal/domain/model"
)

// CacheTier is one layer of the quote cache. Get returns nil, nil on a miss.
type CacheTier interface {
	Tier() model.CacheTier
	Get(ctx context.Context, key string) (*model.CacheEntry, error)
	Set(ctx context.Context, entry model.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// QuoteCache is the read-through view over all tiers.
type QuoteCache interface {
	Get(ctx context.Context, key string) ([]byte, model.CacheTier, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Tiers() []CacheTier
}
