package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quotehub/internal/domain/model"
	"quotehub/internal/domain/port"
)

// Recorder receives per-tier hit/miss events.
type Recorder interface {
	CacheHit(tier string)
	CacheMiss(tier string)
}

type nopRecorder struct{}

func (nopRecorder) CacheHit(string)  {}
func (nopRecorder) CacheMiss(string) {}

// Tiered reads fastest tier first and backfills faster tiers on a slower hit.
type Tiered struct {
	tiers    []port.CacheTier
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewTiered expects tiers ordered fastest first. A nil recorder is allowed.
func NewTiered(tiers []port.CacheTier, recorder Recorder, logger *slog.Logger) *Tiered {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Tiered{
		tiers:    tiers,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

func (t *Tiered) Tiers() []port.CacheTier { return t.tiers }

// Get returns model.ErrCacheMiss when no tier holds a live entry.
// A failing tier is treated as a miss so a broken Redis never blocks reads.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, model.CacheTier, error) {
	now := t.now()
	for i, tier := range t.tiers {
		entry, err := tier.Get(ctx, key)
		if err != nil {
			t.logger.Warn("cache tier read failed", "tier", tier.Tier(), "key", key, "error", err)
			t.recorder.CacheMiss(string(tier.Tier()))
			continue
		}
		if entry == nil || entry.Expired(now) {
			t.recorder.CacheMiss(string(tier.Tier()))
			continue
		}

		t.recorder.CacheHit(string(tier.Tier()))
		t.backfill(ctx, t.tiers[:i], *entry, now)
		return entry.Value, tier.Tier(), nil
	}
	return nil, "", model.ErrCacheMiss
}

func (t *Tiered) backfill(ctx context.Context, upper []port.CacheTier, entry model.CacheEntry, now time.Time) {
	remaining := entry.Remaining(now)
	if remaining <= 0 {
		return
	}
	fill := model.CacheEntry{Key: entry.Key, Value: entry.Value, TTL: remaining, StoredAt: now}
	for _, tier := range upper {
		if err := tier.Set(ctx, fill); err != nil {
			t.logger.Warn("cache backfill failed", "tier", tier.Tier(), "key", entry.Key, "error", err)
		}
	}
}

// Set writes every tier and fails only when all of them failed.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if len(t.tiers) == 0 || ttl <= 0 {
		return nil
	}
	entry := model.CacheEntry{Key: key, Value: value, TTL: ttl, StoredAt: t.now()}

	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Set(ctx, entry); err != nil {
			t.logger.Warn("cache tier write failed", "tier", tier.Tier(), "key", key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", tier.Tier(), err))
		}
	}
	if len(errs) == len(t.tiers) {
		return errors.Join(errs...)
	}
	return nil
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tier.Tier(), err))
		}
	}
	return errors.Join(errs...)
}

func (t *Tiered) Close() error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
