package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotehub/internal/domain/model"
	"quotehub/internal/domain/port"
	"quotehub/internal/infrastructure/logger"
)

type fakeProvider struct {
	name    string
	markets []model.Market
	caps    model.Capability
	quoteFn func(sym model.Symbol) (*model.Quote, error)
	barsFn  func(sym model.Symbol, start, end time.Time) ([]model.Bar, error)

	quoteCalls atomic.Int32
	barCalls   atomic.Int32
}

func (p *fakeProvider) Name() string                             { return p.name }
func (p *fakeProvider) Markets() []model.Market                  { return p.markets }
func (p *fakeProvider) Capabilities() model.Capability           { return p.caps }
func (p *fakeProvider) VolumeUnit(model.Market) model.VolumeUnit { return model.Shares }
func (p *fakeProvider) Connect(context.Context) error            { return nil }
func (p *fakeProvider) Ping(context.Context) error               { return nil }
func (p *fakeProvider) Close() error                             { return nil }

func (p *fakeProvider) Supports(m model.Market) bool {
	for _, s := range p.markets {
		if s == m {
			return true
		}
	}
	return false
}

func (p *fakeProvider) FetchQuote(_ context.Context, sym model.Symbol) (*model.Quote, error) {
	p.quoteCalls.Add(1)
	if p.quoteFn == nil {
		return nil, &model.ProviderError{Provider: p.name, Op: "quote", Err: model.ErrNotSupported, Permanent: true}
	}
	return p.quoteFn(sym)
}

func (p *fakeProvider) FetchDailyBars(_ context.Context, sym model.Symbol, start, end time.Time) ([]model.Bar, error) {
	p.barCalls.Add(1)
	if p.barsFn == nil {
		return nil, &model.ProviderError{Provider: p.name, Op: "bars", Err: model.ErrNotSupported, Permanent: true}
	}
	return p.barsFn(sym, start, end)
}

func quoting(source string, at time.Time) func(model.Symbol) (*model.Quote, error) {
	return func(sym model.Symbol) (*model.Quote, error) {
		q := goodQuote(at)
		q.Symbol = sym.String()
		q.Source = source
		return &q, nil
	}
}

func barring(source string) func(model.Symbol, time.Time, time.Time) ([]model.Bar, error) {
	return func(sym model.Symbol, start, end time.Time) ([]model.Bar, error) {
		return []model.Bar{
			{Symbol: sym.String(), TradeDate: shanghai(2024, 2, 29, 0, 0), Open: d("1690"), High: d("1705"), Low: d("1685"), Close: d("1700"), PreClose: d("1688"), Volume: 1000, Amount: d("1700000"), Source: source},
			{Symbol: sym.String(), TradeDate: shanghai(2024, 3, 1, 0, 0), Open: d("1702"), High: d("1720"), Low: d("1699"), Close: d("1710"), PreClose: d("1700"), Volume: 1200, Amount: d("2052000"), Source: source},
		}, nil
	}
}

func failing(name string) error {
	return &model.ProviderError{Provider: name, Op: "call", Err: errors.New("connection reset")}
}

func noData(name string) error {
	return &model.ProviderError{Provider: name, Op: "call", Err: model.ErrNoData, Permanent: true}
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, model.CacheTier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, "", model.ErrCacheMiss
	}
	return v, model.TierMemory, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Tiers() []port.CacheTier { return nil }

func (c *memCache) ttl(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.ttls[key]
	return d, ok
}

type memStorage struct {
	mu      sync.Mutex
	quotes  []model.Quote
	bars    []model.Bar
	latest  map[string]model.Quote
	pruned  time.Time
	barsErr error
}

func (s *memStorage) SaveQuotes(_ context.Context, quotes []model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, quotes...)
	return nil
}

func (s *memStorage) SaveBars(_ context.Context, bars []model.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars = append(s.bars, bars...)
	return nil
}

func (s *memStorage) GetBars(_ context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.barsErr != nil {
		return nil, s.barsErr
	}
	var out []model.Bar
	for _, b := range s.bars {
		if b.Symbol == symbol && !b.TradeDate.Before(start) && !b.TradeDate.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStorage) GetLatestQuote(_ context.Context, symbol string) (*model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.latest[symbol]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (s *memStorage) DeleteQuotesBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = before
	return 0, nil
}

func (s *memStorage) Ping(context.Context) error { return nil }
func (s *memStorage) Close() error               { return nil }

func (s *memStorage) savedQuotes() []model.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Quote(nil), s.quotes...)
}

type countingPublisher struct{ n atomic.Int32 }

func (p *countingPublisher) Publish(_ context.Context, quotes ...model.Quote) error {
	p.n.Add(int32(len(quotes)))
	return nil
}

func (p *countingPublisher) Close() error { return nil }

type managerFixture struct {
	m     *Manager
	cache *memCache
	store *memStorage
	pub   *countingPublisher
	mode  *ModeService
}

var (
	tradingNow = shanghai(2024, 3, 1, 10, 0) // Friday
	closedNow  = shanghai(2024, 3, 2, 12, 0) // Saturday
)

func newFixture(t *testing.T, now time.Time, providers ...port.QuoteProvider) *managerFixture {
	t.Helper()
	log := logger.Discard()
	clock := NewMarketClock(holidays{}, testTTLs)
	health := NewHealthTracker(nil)
	f := &managerFixture{
		cache: newMemCache(),
		store: &memStorage{latest: map[string]model.Quote{}},
		pub:   &countingPublisher{},
		mode:  NewModeService(log),
	}
	f.m = NewManager(ManagerDeps{
		Cache:     f.cache,
		Storage:   f.store,
		Publisher: f.pub,
		Clock:     clock,
		Scorer:    NewQualityScorer(clock, health),
		Health:    health,
		Mode:      f.mode,
		Logger:    log,
	})
	t.Cleanup(f.m.Close)
	f.m.now = func() time.Time { return now }
	f.m.UseProviders(ChainSpec{Chains: map[model.Market][]port.QuoteProvider{model.AShare: providers}})
	return f
}

func TestGetQuote_TradingUsesRealtime(t *testing.T) {
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime | model.CapHistory,
		quoteFn: quoting("tushare", tradingNow), barsFn: barring("tushare")}
	f := newFixture(t, tradingNow, p)

	q, err := f.m.GetQuote(context.Background(), "sh600519", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "600519.SH", q.Symbol)
	assert.Equal(t, "tushare", q.Source)
	assert.True(t, q.Realtime)
	require.NotNil(t, q.Quality)
	assert.Equal(t, 1.0, q.Quality.Timeliness)
	assert.Equal(t, int32(0), p.barCalls.Load())

	ttl, ok := f.cache.ttl("quote:600519.SH")
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, ttl)
	f.m.Close()
	assert.Len(t, f.store.savedQuotes(), 1)
	assert.Equal(t, int32(1), f.pub.n.Load())
}

func TestGetQuote_RealtimeFallsThroughChain(t *testing.T) {
	first := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: func(model.Symbol) (*model.Quote, error) { return nil, failing("tushare") }}
	second := &fakeProvider{name: "akshare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: quoting("akshare", tradingNow)}
	f := newFixture(t, tradingNow, first, second)

	q, err := f.m.GetQuote(context.Background(), "600519", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "akshare", q.Source)
	assert.Equal(t, int32(1), first.quoteCalls.Load())
}

func TestGetQuote_TradingFallsBackToHistory(t *testing.T) {
	rt := &fakeProvider{name: "akshare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: func(model.Symbol) (*model.Quote, error) { return nil, noData("akshare") }}
	hist := &fakeProvider{name: "baostock", markets: []model.Market{model.AShare}, caps: model.CapHistory,
		barsFn: barring("baostock")}
	f := newFixture(t, tradingNow, rt, hist)

	q, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "baostock", q.Source)
	assert.False(t, q.Realtime)
	assert.True(t, q.Price.Equal(d("1710")))
	assert.Equal(t, int32(0), hist.quoteCalls.Load())
	// history answers are written through
	f.m.Close()
	assert.Len(t, f.store.bars, 2)
}

func TestGetQuote_ClosedPrefersHistory(t *testing.T) {
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime | model.CapHistory,
		quoteFn: quoting("tushare", closedNow), barsFn: barring("tushare")}
	f := newFixture(t, closedNow, p)

	q, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	require.NoError(t, err)
	assert.False(t, q.Realtime)
	assert.Equal(t, int32(0), p.quoteCalls.Load())
	assert.Equal(t, shanghai(2024, 3, 1, 15, 0), q.Timestamp.In(model.AShare.Location()))

	ttl, _ := f.cache.ttl("quote:600519.SH")
	assert.Equal(t, time.Hour, ttl)
}

func TestGetQuote_StorageIsLastResort(t *testing.T) {
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime | model.CapHistory,
		quoteFn: func(model.Symbol) (*model.Quote, error) { return nil, failing("tushare") },
		barsFn:  func(model.Symbol, time.Time, time.Time) ([]model.Bar, error) { return nil, failing("tushare") }}
	f := newFixture(t, tradingNow, p)
	stored := goodQuote(tradingNow.Add(-time.Hour))
	stored.Realtime = true
	f.store.latest["600519.SH"] = stored

	q, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	require.NoError(t, err)
	assert.False(t, q.Realtime)
	assert.Equal(t, "tushare", q.Source)
	// not stored or published again
	f.m.Close()
	assert.Empty(t, f.store.savedQuotes())
	assert.Equal(t, int32(0), f.pub.n.Load())
}

func TestGetQuote_AllFailed(t *testing.T) {
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime | model.CapHistory,
		quoteFn: func(model.Symbol) (*model.Quote, error) { return nil, failing("tushare") },
		barsFn:  func(model.Symbol, time.Time, time.Time) ([]model.Bar, error) { return nil, noData("tushare") }}
	f := newFixture(t, tradingNow, p)

	_, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrAllProvidersFailed)
	assert.NotErrorIs(t, err, model.ErrNoData)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGetQuote_AllNoData(t *testing.T) {
	p := &fakeProvider{name: "akshare", markets: []model.Market{model.AShare}, caps: model.CapRealtime | model.CapHistory,
		quoteFn: func(model.Symbol) (*model.Quote, error) { return nil, noData("akshare") },
		barsFn:  func(model.Symbol, time.Time, time.Time) ([]model.Bar, error) { return nil, nil }}
	f := newFixture(t, tradingNow, p)

	_, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	assert.ErrorIs(t, err, model.ErrNoData)
	assert.NotErrorIs(t, err, model.ErrAllProvidersFailed)
}

func TestGetQuote_NoProvidersForMarket(t *testing.T) {
	f := newFixture(t, tradingNow)
	_, err := f.m.GetQuote(context.Background(), "AAPL", QuoteOptions{})
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.NotErrorIs(t, err, model.ErrNoData)
	assert.Contains(t, err.Error(), "no provider serves us")

	_, err = f.m.GetHistory(context.Background(), "AAPL", shanghai(2024, 2, 1, 0, 0), shanghai(2024, 3, 1, 0, 0))
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestGetQuote_NoProvidersStillServesStorage(t *testing.T) {
	f := newFixture(t, tradingNow)
	stored := goodQuote(tradingNow.Add(-time.Hour))
	stored.Symbol, stored.Market = "AAPL", model.US
	f.store.latest["AAPL"] = stored

	q, err := f.m.GetQuote(context.Background(), "AAPL", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
}

func TestGetQuote_InvalidSymbol(t *testing.T) {
	f := newFixture(t, tradingNow)
	_, err := f.m.GetQuote(context.Background(), "1234567", QuoteOptions{})
	assert.ErrorIs(t, err, model.ErrInvalidSymbol)
}

func TestGetQuote_CacheAndRefresh(t *testing.T) {
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: quoting("tushare", tradingNow)}
	f := newFixture(t, tradingNow, p)
	ctx := context.Background()

	_, err := f.m.GetQuote(ctx, "600519.SH", QuoteOptions{})
	require.NoError(t, err)
	q, err := f.m.GetQuote(ctx, "sh.600519", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.quoteCalls.Load())
	assert.NotNil(t, q.Quality)

	_, err = f.m.GetQuote(ctx, "600519.SH", QuoteOptions{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.quoteCalls.Load())

	require.NoError(t, f.m.Invalidate(ctx, "600519.SH"))
	_, err = f.m.GetQuote(ctx, "600519.SH", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), p.quoteCalls.Load())
}

func TestGetQuote_ConcurrentLookupsCallProviderOnce(t *testing.T) {
	release := make(chan struct{})
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime}
	p.quoteFn = func(sym model.Symbol) (*model.Quote, error) {
		<-release
		return quoting("tushare", tradingNow)(sym)
	}
	f := newFixture(t, tradingNow, p)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), p.quoteCalls.Load())
}

func TestGetQuote_SkipPersist(t *testing.T) {
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: quoting("tushare", tradingNow)}
	f := newFixture(t, tradingNow, p)

	_, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{SkipPersist: true})
	require.NoError(t, err)
	f.m.Close()
	assert.Empty(t, f.store.savedQuotes())
	assert.Equal(t, int32(0), f.pub.n.Load())
}

func TestGetQuote_TestModeUsesSeparateKeys(t *testing.T) {
	p := &fakeProvider{name: "generator", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: quoting("generator", tradingNow)}
	f := newFixture(t, tradingNow, p)
	require.NoError(t, f.mode.SwitchMode(context.Background(), model.TestMode))

	_, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	require.NoError(t, err)
	_, ok := f.cache.ttl("test:quote:600519.SH")
	assert.True(t, ok)
	_, ok = f.cache.ttl("quote:600519.SH")
	assert.False(t, ok)
	f.m.Close()
	assert.Empty(t, f.store.savedQuotes())
	assert.Equal(t, int32(0), f.pub.n.Load())
}

func TestGetQuote_TestModeSkipsStoredQuotes(t *testing.T) {
	p := &fakeProvider{name: "generator", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: func(model.Symbol) (*model.Quote, error) { return nil, failing("generator") }}
	f := newFixture(t, tradingNow, p)
	f.store.latest["600519.SH"] = goodQuote(tradingNow.Add(-time.Hour))
	require.NoError(t, f.mode.SwitchMode(context.Background(), model.TestMode))

	_, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	require.ErrorIs(t, err, model.ErrAllProvidersFailed)
}

func TestGetHistory(t *testing.T) {
	p := &fakeProvider{name: "baostock", markets: []model.Market{model.AShare}, caps: model.CapHistory,
		barsFn: barring("baostock")}
	f := newFixture(t, tradingNow, p)
	ctx := context.Background()
	start, end := shanghai(2024, 2, 26, 0, 0), shanghai(2024, 3, 1, 0, 0)

	bars, err := f.m.GetHistory(ctx, "600519.SH", start, end)
	require.NoError(t, err)
	assert.Len(t, bars, 2)

	again, err := f.m.GetHistory(ctx, "600519.SH", start, end)
	require.NoError(t, err)
	assert.Equal(t, bars, again)
	assert.Equal(t, int32(1), p.barCalls.Load())
	f.m.Close()
	assert.Len(t, f.store.bars, 2)

	ttl, ok := f.cache.ttl("bars:600519.SH:20240226:20240301")
	require.True(t, ok)
	// range ends today, so it is still moving
	assert.Equal(t, 10*time.Second, ttl)
}

func TestGetHistory_FallsBackToStorage(t *testing.T) {
	p := &fakeProvider{name: "baostock", markets: []model.Market{model.AShare}, caps: model.CapHistory,
		barsFn: func(model.Symbol, time.Time, time.Time) ([]model.Bar, error) { return nil, failing("baostock") }}
	f := newFixture(t, tradingNow, p)
	stored, _ := barring("tushare")(model.MustParseSymbol("600519.SH"), time.Time{}, time.Time{})
	f.store.bars = stored

	bars, err := f.m.GetHistory(context.Background(), "600519.SH", shanghai(2024, 2, 1, 0, 0), shanghai(2024, 3, 1, 0, 0))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
	assert.Equal(t, "tushare", bars[0].Source)
}

func TestGetHistory_Errors(t *testing.T) {
	p := &fakeProvider{name: "baostock", markets: []model.Market{model.AShare}, caps: model.CapHistory,
		barsFn: func(model.Symbol, time.Time, time.Time) ([]model.Bar, error) { return nil, failing("baostock") }}
	f := newFixture(t, tradingNow, p)
	ctx := context.Background()

	_, err := f.m.GetHistory(ctx, "600519.SH", shanghai(2024, 3, 1, 0, 0), shanghai(2024, 2, 1, 0, 0))
	assert.ErrorIs(t, err, model.ErrInvalidRange)

	_, err = f.m.GetHistory(ctx, "600519.SH", shanghai(2024, 2, 1, 0, 0), shanghai(2024, 3, 1, 0, 0))
	assert.ErrorIs(t, err, model.ErrAllProvidersFailed)

	f.store.barsErr = errors.New("db down")
	_, err = f.m.GetHistory(ctx, "600519.SH", shanghai(2024, 2, 1, 0, 0), shanghai(2024, 2, 20, 0, 0))
	assert.ErrorIs(t, err, model.ErrAllProvidersFailed)
	assert.Contains(t, err.Error(), "db down")
}

func TestGetQuotes_KeepsOrderAndPerSymbolErrors(t *testing.T) {
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: quoting("tushare", tradingNow)}
	f := newFixture(t, tradingNow, p)

	results := f.m.GetQuotes(context.Background(), []string{"600519.SH", "bogus!", "000001.SZ"}, QuoteOptions{})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "600519.SH", results[0].Quote.Symbol)
	assert.ErrorIs(t, results[1].Err, model.ErrInvalidSymbol)
	assert.Nil(t, results[1].Quote)
	assert.Equal(t, "000001.SZ", results[2].Quote.Symbol)
}

func TestUseProviders_SwapsChains(t *testing.T) {
	live := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: quoting("tushare", tradingNow)}
	usOnly := &fakeProvider{name: "yahoo", markets: []model.Market{model.US}, caps: model.CapRealtime}
	f := newFixture(t, tradingNow, live, usOnly)
	assert.Equal(t, []string{"tushare"}, f.m.ProviderNames(model.AShare))

	gen := &fakeProvider{name: "generator", markets: model.Markets, caps: model.CapRealtime | model.CapHistory,
		quoteFn: quoting("generator", tradingNow)}
	f.m.UseProviders(ChainSpec{Chains: map[model.Market][]port.QuoteProvider{
		model.AShare: {gen}, model.HK: {gen}, model.US: {gen},
	}})

	q, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{Refresh: true})
	require.NoError(t, err)
	assert.Equal(t, "generator", q.Source)
	assert.Equal(t, []string{"generator"}, f.m.ProviderNames(model.US))

	// one shared guard per provider
	statuses := f.m.Providers()
	require.Len(t, statuses, 1)
	assert.Equal(t, "generator", statuses[0].Name)
	assert.Equal(t, "closed", statuses[0].BreakerState)
	assert.Equal(t, int64(1), statuses[0].Successes)
}

func TestGetQuote_AfterCloseSkipsHistoryOlderThanSession(t *testing.T) {
	afterClose := shanghai(2024, 3, 1, 15, 30)
	yesterday := func(sym model.Symbol, _, _ time.Time) ([]model.Bar, error) {
		bars, _ := barring("tushare")(sym, time.Time{}, time.Time{})
		return bars[:1], nil
	}
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime | model.CapHistory,
		quoteFn: quoting("tushare", shanghai(2024, 3, 1, 15, 0)), barsFn: yesterday}
	f := newFixture(t, afterClose, p)

	q, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.barCalls.Load())
	assert.Equal(t, int32(1), p.quoteCalls.Load())
	assert.True(t, q.Realtime)
	assert.True(t, q.Price.Equal(d("1710")))
	require.NotNil(t, q.Quality)
	assert.Equal(t, 1.0, q.Quality.Timeliness)
}

func TestGetQuote_OlderHistoryIsLateFallback(t *testing.T) {
	afterClose := shanghai(2024, 3, 1, 15, 30)
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime | model.CapHistory,
		quoteFn: func(model.Symbol) (*model.Quote, error) { return nil, failing("tushare") },
		barsFn: func(sym model.Symbol, _, _ time.Time) ([]model.Bar, error) {
			bars, _ := barring("tushare")(sym, time.Time{}, time.Time{})
			return bars[:1], nil
		}}
	f := newFixture(t, afterClose, p)

	q, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	require.NoError(t, err)
	assert.False(t, q.Realtime)
	assert.Equal(t, shanghai(2024, 2, 29, 15, 0), q.Timestamp.In(model.AShare.Location()))
	require.NotNil(t, q.Quality)
	assert.Equal(t, 0.5, q.Quality.Timeliness)
}

type blockingPublisher struct {
	release chan struct{}
	n       atomic.Int32
}

func (p *blockingPublisher) Publish(ctx context.Context, quotes ...model.Quote) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.n.Add(int32(len(quotes)))
	return nil
}

func (p *blockingPublisher) Close() error { return nil }

func TestGetQuote_SlowPublisherDoesNotDelayAnswer(t *testing.T) {
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: quoting("tushare", tradingNow)}
	f := newFixture(t, tradingNow, p)
	pub := &blockingPublisher{release: make(chan struct{})}
	f.m.publisher = pub

	done := make(chan error, 1)
	go func() {
		_, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		close(pub.release)
		t.Fatal("GetQuote waited on the publisher")
	}

	close(pub.release)
	f.m.Close()
	assert.Equal(t, int32(1), pub.n.Load())
	assert.Len(t, f.store.savedQuotes(), 1)

	// lookups after Close still answer, they just are not queued
	_, err := f.m.GetQuote(context.Background(), "000001.SZ", QuoteOptions{})
	assert.NoError(t, err)
}

func TestGetQuote_SharedLookupSurvivesLeaderCancel(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	var once sync.Once
	p := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: func(sym model.Symbol) (*model.Quote, error) {
			once.Do(func() { close(started) })
			<-release
			return quoting("tushare", tradingNow)(sym)
		}}
	f := newFixture(t, tradingNow, p)

	ctx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() {
		_, err := f.m.GetQuote(ctx, "600519.SH", QuoteOptions{})
		leader <- err
	}()
	<-started
	cancel()
	assert.ErrorIs(t, <-leader, context.Canceled)

	close(release)
	assert.Eventually(t, func() bool {
		_, ok := f.cache.ttl("quote:600519.SH")
		return ok
	}, time.Second, 5*time.Millisecond)

	q, err := f.m.GetQuote(context.Background(), "600519.SH", QuoteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "tushare", q.Source)
	assert.Equal(t, int32(1), p.quoteCalls.Load())
}

func TestUseProviders_KeepsGuardStateAcrossSwaps(t *testing.T) {
	flaky := &fakeProvider{name: "tushare", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: func(model.Symbol) (*model.Quote, error) { return nil, failing("tushare") }}
	gen := &fakeProvider{name: "generator", markets: []model.Market{model.AShare}, caps: model.CapRealtime,
		quoteFn: quoting("generator", tradingNow)}
	f := newFixture(t, tradingNow)
	live := ChainSpec{
		Chains: map[model.Market][]port.QuoteProvider{model.AShare: {flaky}},
		Guards: map[string]GuardConfig{"tushare": {BreakerFailures: 1}},
	}
	test := ChainSpec{Chains: map[model.Market][]port.QuoteProvider{model.AShare: {gen}}}
	ctx := context.Background()

	f.m.UseProviders(live)
	_, err := f.m.GetQuote(ctx, "600519.SH", QuoteOptions{Refresh: true})
	require.Error(t, err)
	require.Equal(t, "open", f.m.Providers()[0].BreakerState)

	f.m.UseProviders(test)
	f.m.UseProviders(live)
	assert.Equal(t, "open", f.m.Providers()[0].BreakerState)

	_, err = f.m.GetQuote(ctx, "600519.SH", QuoteOptions{Refresh: true})
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.Equal(t, int32(1), flaky.quoteCalls.Load())
}
