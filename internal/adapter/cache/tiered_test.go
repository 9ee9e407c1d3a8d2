package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotehub/internal/domain/model"
	"quotehub/internal/domain/port"
	"quotehub/internal/infrastructure/logger"
)

type fakeTier struct {
	name    model.CacheTier
	entries map[string]model.CacheEntry
	failGet bool
	failSet bool
	sets    int
}

func newFakeTier(name model.CacheTier) *fakeTier {
	return &fakeTier{name: name, entries: map[string]model.CacheEntry{}}
}

func (f *fakeTier) Tier() model.CacheTier { return f.name }

func (f *fakeTier) Get(_ context.Context, key string) (*model.CacheEntry, error) {
	if f.failGet {
		return nil, errors.New("down")
	}
	e, ok := f.entries[key]
	if !ok {
		return nil, nil
	}
	e.Tier = f.name
	return &e, nil
}

func (f *fakeTier) Set(_ context.Context, e model.CacheEntry) error {
	f.sets++
	if f.failSet {
		return errors.New("down")
	}
	f.entries[e.Key] = e
	return nil
}

func (f *fakeTier) Delete(_ context.Context, key string) error {
	delete(f.entries, key)
	return nil
}

func (f *fakeTier) Ping(context.Context) error { return nil }
func (f *fakeTier) Close() error               { return nil }

type countingRecorder struct{ hits, misses map[string]int }

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *countingRecorder) CacheHit(t string)  { r.hits[t]++ }
func (r *countingRecorder) CacheMiss(t string) { r.misses[t]++ }

func newTestTiered(tiers ...*fakeTier) (*Tiered, *countingRecorder, *time.Time) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	pt := make([]port.CacheTier, len(tiers))
	for i, tr := range tiers {
		pt[i] = tr
	}
	rec := newCountingRecorder()
	c := NewTiered(pt, rec, logger.Discard())
	c.now = func() time.Time { return now }
	return c, rec, &now
}

func TestTieredSetWritesAllTiers(t *testing.T) {
	mem, rds := newFakeTier(model.TierMemory), newFakeTier(model.TierRedis)
	c, _, _ := newTestTiered(mem, rds)

	require.NoError(t, c.Set(context.Background(), "quote:600519.SH", []byte("v"), 10*time.Second))
	assert.Contains(t, mem.entries, "quote:600519.SH")
	assert.Contains(t, rds.entries, "quote:600519.SH")
}

func TestTieredSetFailsOnlyWhenAllTiersFail(t *testing.T) {
	mem, rds := newFakeTier(model.TierMemory), newFakeTier(model.TierRedis)
	rds.failSet = true
	c, _, _ := newTestTiered(mem, rds)
	assert.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Second))

	mem.failSet = true
	assert.Error(t, c.Set(context.Background(), "k", []byte("v"), time.Second))
}

func TestTieredGetBackfillsUpperTiers(t *testing.T) {
	mem, rds, mgo := newFakeTier(model.TierMemory), newFakeTier(model.TierRedis), newFakeTier(model.TierMongo)
	c, rec, now := newTestTiered(mem, rds, mgo)

	mgo.entries["k"] = model.CacheEntry{Key: "k", Value: []byte("v"), TTL: time.Hour, StoredAt: now.Add(-20 * time.Minute)}

	val, tier, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)
	assert.Equal(t, model.TierMongo, tier)

	require.Contains(t, mem.entries, "k")
	assert.Equal(t, 40*time.Minute, mem.entries["k"].TTL)
	require.Contains(t, rds.entries, "k")
	assert.Equal(t, 1, rec.misses["memory"])
	assert.Equal(t, 1, rec.misses["redis"])
	assert.Equal(t, 1, rec.hits["mongo"])

	_, tier, err = c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, model.TierMemory, tier)
}

func TestTieredGetSkipsExpiredAndFailingTiers(t *testing.T) {
	mem, rds := newFakeTier(model.TierMemory), newFakeTier(model.TierRedis)
	c, _, now := newTestTiered(mem, rds)

	mem.entries["k"] = model.CacheEntry{Key: "k", Value: []byte("old"), TTL: 10 * time.Second, StoredAt: now.Add(-time.Minute)}
	rds.failGet = true

	_, _, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, model.ErrCacheMiss)
}

func TestTieredDelete(t *testing.T) {
	mem, rds := newFakeTier(model.TierMemory), newFakeTier(model.TierRedis)
	c, _, _ := newTestTiered(mem, rds)
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))

	require.NoError(t, c.Delete(context.Background(), "k"))
	_, _, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, model.ErrCacheMiss)
}

func TestTieredWithoutTiers(t *testing.T) {
	c, _, _ := newTestTiered()
	assert.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	_, _, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, model.ErrCacheMiss)
}
