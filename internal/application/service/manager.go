package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"quotehub/internal/domain/model"
	"quotehub/internal/domain/port"
)

// Fallback stages, in the order they are tried while a market trades.
const (
	StageRealtime = "realtime"
	StageHistory  = "history"
	StageStorage  = "storage"
)

// historyLookback is how far back the history stage looks for the last bar.
const historyLookback = 14 * 24 * time.Hour

const (
	defaultLookupTimeout = 30 * time.Second
	defaultPersistQueue  = 1024
	persistBatch         = 128
	persistTimeout       = 10 * time.Second
)

// errStaleHistory marks a last bar older than the market's latest session.
var errStaleHistory = errors.New("latest bar predates the last session")

// Recorder receives manager events. *metrics.Metrics implements it.
type Recorder interface {
	ObserveProvider(provider, op string, err error, took time.Duration)
	Fallback(market, stage string)
	ObserveQuality(source string, overall float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveProvider(string, string, error, time.Duration) {}
func (nopRecorder) Fallback(string, string)                             {}
func (nopRecorder) ObserveQuality(string, float64)                      {}

// QuoteOptions tunes a single lookup.
type QuoteOptions struct {
	// Refresh skips the cache read.
	Refresh bool
	// SkipPersist leaves storage and publishing to the caller.
	SkipPersist bool
}

// QuoteResult is one entry of a batch lookup.
type QuoteResult struct {
	Symbol string       `json:"symbol"`
	Quote  *model.Quote `json:"quote,omitempty"`
	Err    error        `json:"-"`
}

// chainSet is swapped as a whole when the mode changes.
type chainSet struct {
	byMarket map[model.Market][]*guarded
	all      []*guarded
}

type ManagerDeps struct {
	Cache     port.QuoteCache
	Storage   port.StoragePort
	Publisher port.QuotePublisher
	Clock     *MarketClock
	Scorer    *QualityScorer
	Health    *HealthTracker
	Mode      *ModeService
	Recorder  Recorder
	Logger    *slog.Logger
	// BatchLimit bounds concurrent lookups in GetQuotes.
	BatchLimit int
	// LookupTimeout bounds one shared provider lookup, which outlives the caller that started it.
	LookupTimeout time.Duration
	// PersistQueue is how many pending snapshots the background writer holds before dropping.
	PersistQueue int
}

// persistJob is one write-behind unit for storage and the publisher.
type persistJob struct {
	quotes []model.Quote
	bars   []model.Bar
}

// Manager is the data-source manager: one interface over the provider chains, the cache tiers and storage.
type Manager struct {
	chains    atomic.Pointer[chainSet]
	cache     port.QuoteCache
	storage   port.StoragePort
	publisher port.QuotePublisher
	clock     *MarketClock
	scorer    *QualityScorer
	health    *HealthTracker
	mode      *ModeService
	rec       Recorder
	log       *slog.Logger
	group     singleflight.Group
	limit     int
	timeout   time.Duration
	now       func() time.Time

	// guards outlive chain swaps so breakers and limiters keep their state across mode switches.
	guardsMu sync.Mutex
	guards   map[port.QuoteProvider]*guarded

	jobs      chan persistJob
	jobsMu    sync.RWMutex
	jobsShut  bool
	drained   chan struct{}
	closeOnce sync.Once
}

func NewManager(deps ManagerDeps) *Manager {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.BatchLimit <= 0 {
		deps.BatchLimit = 8
	}
	if deps.LookupTimeout <= 0 {
		deps.LookupTimeout = defaultLookupTimeout
	}
	if deps.PersistQueue <= 0 {
		deps.PersistQueue = defaultPersistQueue
	}
	m := &Manager{
		cache:     deps.Cache,
		storage:   deps.Storage,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		scorer:    deps.Scorer,
		health:    deps.Health,
		mode:      deps.Mode,
		rec:       deps.Recorder,
		log:       deps.Logger,
		limit:     deps.BatchLimit,
		timeout:   deps.LookupTimeout,
		now:       time.Now,
		guards:    make(map[port.QuoteProvider]*guarded),
		jobs:      make(chan persistJob, deps.PersistQueue),
		drained:   make(chan struct{}),
	}
	m.chains.Store(&chainSet{byMarket: map[model.Market][]*guarded{}})
	go m.drain()
	return m
}

// Close stops accepting snapshots and waits for the queued ones to be written.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.jobsMu.Lock()
		m.jobsShut = true
		close(m.jobs)
		m.jobsMu.Unlock()
	})
	<-m.drained
}

// enqueue hands a job to the background writer without blocking the lookup.
func (m *Manager) enqueue(job persistJob) {
	m.jobsMu.RLock()
	defer m.jobsMu.RUnlock()
	if m.jobsShut {
		return
	}
	select {
	case m.jobs <- job:
	default:
		m.log.Warn("persist queue full, dropping snapshot", "quotes", len(job.quotes), "bars", len(job.bars))
	}
}

func (m *Manager) drain() {
	defer close(m.drained)
	for job := range m.jobs {
		quotes, bars := job.quotes, job.bars
	collect:
		for len(quotes) < persistBatch {
			select {
			case next, ok := <-m.jobs:
				if !ok {
					break collect
				}
				quotes = append(quotes, next.quotes...)
				bars = append(bars, next.bars...)
			default:
				break collect
			}
		}
		m.write(quotes, bars)
	}
}

func (m *Manager) write(quotes []model.Quote, bars []model.Bar) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if len(bars) > 0 {
		if err := m.storage.SaveBars(ctx, bars); err != nil {
			m.log.Error("failed to store bars", "count", len(bars), "error", err)
		}
	}
	m.persist(ctx, quotes)
}

// ChainSpec is one provider chain setup: providers in fallback order per market, plus guard settings by name.
type ChainSpec struct {
	Chains map[model.Market][]port.QuoteProvider
	Guards map[string]GuardConfig
}

// UseProviders atomically replaces the active chains. In-flight calls finish on the old set.
func (m *Manager) UseProviders(spec ChainSpec) {
	set := &chainSet{byMarket: make(map[model.Market][]*guarded)}
	seen := make(map[*guarded]bool)
	for market, providers := range spec.Chains {
		for _, p := range providers {
			if !p.Supports(market) {
				m.log.Warn("provider does not serve market, skipping", "provider", p.Name(), "market", market)
				continue
			}
			g := m.guardFor(p, spec.Guards[p.Name()])
			if !seen[g] {
				seen[g] = true
				set.all = append(set.all, g)
			}
			set.byMarket[market] = append(set.byMarket[market], g)
		}
	}
	slices.SortFunc(set.all, func(a, b *guarded) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})

	m.chains.Store(set)
	m.log.Info("provider chains updated", "providers", len(set.all), "markets", len(set.byMarket))
}

// guardFor returns the provider's guard, creating it on first use.
func (m *Manager) guardFor(p port.QuoteProvider, cfg GuardConfig) *guarded {
	m.guardsMu.Lock()
	defer m.guardsMu.Unlock()
	if g, ok := m.guards[p]; ok {
		return g
	}
	g := newGuarded(p, cfg, m.health, m.rec, m.log)
	m.guards[p] = g
	return g
}

func (m *Manager) keyPrefix() string {
	if m.mode == nil {
		return ""
	}
	return m.mode.GetCurrentMode().KeyPrefix()
}

// testMode keeps generated data out of storage and the publisher, so live reads never see it.
func (m *Manager) testMode() bool {
	return m.mode != nil && m.mode.GetCurrentMode() == model.TestMode
}

func (m *Manager) quoteKey(sym model.Symbol) string {
	return m.keyPrefix() + "quote:" + sym.String()
}

func (m *Manager) barsKey(sym model.Symbol, start, end time.Time) string {
	return fmt.Sprintf("%sbars:%s:%s:%s", m.keyPrefix(), sym, start.Format("20060102"), end.Format("20060102"))
}

// GetQuote resolves a quote through the cache, the provider chains and storage, in that order.
func (m *Manager) GetQuote(ctx context.Context, raw string, opts QuoteOptions) (*model.Quote, error) {
	sym, err := model.ParseSymbol(raw)
	if err != nil {
		return nil, err
	}
	key := m.quoteKey(sym)

	if !opts.Refresh {
		var q model.Quote
		if m.readCache(ctx, key, &q) {
			return &q, nil
		}
	}

	v, err := m.shared(ctx, key, func(ctx context.Context) (any, error) {
		return m.resolveQuote(ctx, sym, key, opts)
	})
	if err != nil {
		return nil, err
	}
	q := *v.(*model.Quote)
	return &q, nil
}

// shared runs fn once per key for all concurrent callers. fn runs detached from the caller that
// started it, bounded by the lookup timeout, so one client going away does not fail the others.
func (m *Manager) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := m.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()
		return fn(lookupCtx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			m.log.Debug("lookup shared", "key", key)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) resolveQuote(ctx context.Context, sym model.Symbol, key string, opts QuoteOptions) (*model.Quote, error) {
	now := m.now()
	chain := m.chains.Load().byMarket[sym.Market]

	stages := []string{StageHistory, StageRealtime, StageStorage}
	if m.clock.IsTrading(sym.Market, now) {
		stages = []string{StageRealtime, StageHistory, StageStorage}
	}
	if len(chain) == 0 {
		stages = []string{StageStorage}
	}

	var (
		q      *model.Quote
		stale  *model.Quote
		served string
		errs   []error
	)
	for i, stage := range stages {
		var err error
		switch stage {
		case StageRealtime:
			q, err = m.realtimeQuote(ctx, sym, chain)
		case StageHistory:
			q, err = m.historyQuote(ctx, sym, chain, now)
			if errors.Is(err, errStaleHistory) {
				stale, q = q, nil
			}
		case StageStorage:
			q, err = m.storedQuote(ctx, sym)
		}
		if err == nil {
			served = stage
			if i > 0 {
				m.rec.Fallback(string(sym.Market), stage)
				m.log.Info("quote served by fallback", "symbol", sym.String(), "stage", stage, "source", q.Source)
			}
			break
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if q == nil && stale != nil {
		q, served = stale, StageHistory
		m.rec.Fallback(string(sym.Market), StageHistory)
		m.log.Info("serving history older than the last session", "symbol", sym.String(), "source", q.Source)
	}
	if q == nil {
		if len(chain) == 0 {
			return nil, noProvider(sym, errs)
		}
		return nil, failure(sym, errs)
	}

	score := m.scorer.Score(*q, now)
	q.Quality = &score
	m.rec.ObserveQuality(q.Source, score.Overall)

	m.writeCache(ctx, key, q, m.clock.QuoteTTL(sym.Market, now))

	if !opts.SkipPersist && served != StageStorage && !m.testMode() {
		m.enqueue(persistJob{quotes: []model.Quote{*q}})
	}
	return q, nil
}

// noProvider reports a market with an empty chain. Storage may still have answered nothing for it.
func noProvider(sym model.Symbol, errs []error) error {
	return fmt.Errorf("%s: %w", sym, errors.Join(append(
		[]error{fmt.Errorf("%w: no provider serves %s", model.ErrProviderUnavailable, sym.Market)},
		withoutNoData(errs)...)...))
}

// failure is ErrNoData when every source answered that it had nothing, and ErrAllProvidersFailed otherwise.
func failure(sym model.Symbol, errs []error) error {
	if allNoData(errs) {
		return fmt.Errorf("%w for %s", model.ErrNoData, sym)
	}
	return fmt.Errorf("%s: %w", sym, errors.Join(append([]error{model.ErrAllProvidersFailed}, withoutNoData(errs)...)...))
}

func allNoData(errs []error) bool {
	for _, err := range errs {
		if !errors.Is(err, model.ErrNoData) {
			return false
		}
	}
	return true
}

func (m *Manager) realtimeQuote(ctx context.Context, sym model.Symbol, chain []*guarded) (*model.Quote, error) {
	var errs []error
	for _, g := range chain {
		if !g.Capabilities().Has(model.CapRealtime) {
			continue
		}
		q, err := g.quote(ctx, sym)
		if err != nil {
			m.logProviderErr(g, sym, err)
			errs = append(errs, err)
			continue
		}
		return q, nil
	}
	return nil, stageErr(StageRealtime, errs)
}

// historyQuote turns the most recent daily bar into a non-realtime quote. A bar older than the
// market's last session comes back alongside errStaleHistory so later stages get a chance first.
func (m *Manager) historyQuote(ctx context.Context, sym model.Symbol, chain []*guarded, now time.Time) (*model.Quote, error) {
	bars, err := m.fetchBars(ctx, sym, chain, now.Add(-historyLookback), now)
	if err != nil {
		return nil, err
	}
	last := bars[len(bars)-1]
	q := last.ToQuote(sym.Market)

	loc := sym.Market.Location()
	session := m.clock.LastSessionDay(sym.Market, now).Format(time.DateOnly)
	if day := last.TradeDate.In(loc).Format(time.DateOnly); day < session {
		return &q, fmt.Errorf("%s: %w: %s before %s", StageHistory, errStaleHistory, day, session)
	}
	return &q, nil
}

func (m *Manager) storedQuote(ctx context.Context, sym model.Symbol) (*model.Quote, error) {
	if m.testMode() {
		return nil, fmt.Errorf("%s: %w", StageStorage, model.ErrNoData)
	}
	q, err := m.storage.GetLatestQuote(ctx, sym.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageStorage, err)
	}
	if q == nil {
		return nil, fmt.Errorf("%s: %w", StageStorage, model.ErrNoData)
	}
	q.Realtime = false
	return q, nil
}

// fetchBars walks the history chain and queues a successful answer for storage.
func (m *Manager) fetchBars(ctx context.Context, sym model.Symbol, chain []*guarded, start, end time.Time) ([]model.Bar, error) {
	var errs []error
	for _, g := range chain {
		if !g.Capabilities().Has(model.CapHistory) {
			continue
		}
		bars, err := g.bars(ctx, sym, start, end)
		if err == nil && len(bars) == 0 {
			err = model.ErrNoData
		}
		if err != nil {
			m.logProviderErr(g, sym, err)
			errs = append(errs, err)
			continue
		}
		if !m.testMode() {
			m.enqueue(persistJob{bars: slices.Clone(bars)})
		}
		return bars, nil
	}
	return nil, stageErr(StageHistory, errs)
}

// stageErr keeps ErrNoData only when no provider failed outright, so errors.Is stays meaningful.
func stageErr(stage string, errs []error) error {
	if allNoData(errs) {
		return fmt.Errorf("%s: %w", stage, model.ErrNoData)
	}
	return fmt.Errorf("%s: %w", stage, errors.Join(withoutNoData(errs)...))
}

func withoutNoData(errs []error) []error {
	return slices.DeleteFunc(errs, func(err error) bool { return errors.Is(err, model.ErrNoData) })
}

func (m *Manager) logProviderErr(g *guarded, sym model.Symbol, err error) {
	if errors.Is(err, model.ErrNoData) {
		m.log.Debug("provider has no data", "provider", g.Name(), "symbol", sym.String())
		return
	}
	m.log.Warn("provider failed, trying next", "provider", g.Name(), "symbol", sym.String(), "error", err)
}

// GetHistory returns daily bars in [start, end] from the cache, the history chain or storage.
func (m *Manager) GetHistory(ctx context.Context, raw string, start, end time.Time) ([]model.Bar, error) {
	sym, err := model.ParseSymbol(raw)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: %s after %s", model.ErrInvalidRange, start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	key := m.barsKey(sym, start, end)

	var cached []model.Bar
	if m.readCache(ctx, key, &cached) {
		return cached, nil
	}

	v, err := m.shared(ctx, key, func(ctx context.Context) (any, error) {
		now := m.now()
		chain := m.chains.Load().byMarket[sym.Market]

		bars, err := m.fetchBars(ctx, sym, chain, start, end)
		if err == nil {
			m.writeCache(ctx, key, bars, m.clock.HistoryTTL(sym.Market, end, now))
			return bars, nil
		}

		var stored []model.Bar
		var serr error
		if !m.testMode() {
			stored, serr = m.storage.GetBars(ctx, sym.String(), start, end)
		}
		if serr == nil && len(stored) > 0 {
			m.rec.Fallback(string(sym.Market), StageStorage)
			m.log.Info("history served from storage", "symbol", sym.String(), "bars", len(stored))
			m.writeCache(ctx, key, stored, m.clock.QuoteTTL(sym.Market, now))
			return stored, nil
		}
		if serr == nil {
			serr = fmt.Errorf("%s: %w", StageStorage, model.ErrNoData)
		}
		if len(chain) == 0 {
			return nil, noProvider(sym, []error{serr})
		}
		return nil, failure(sym, []error{err, serr})
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]model.Bar)), nil
}

// GetQuotes looks symbols up concurrently. Per-symbol errors are reported in the results.
func (m *Manager) GetQuotes(ctx context.Context, raws []string, opts QuoteOptions) []QuoteResult {
	results := make([]QuoteResult, len(raws))
	var g errgroup.Group
	g.SetLimit(m.limit)
	for i, raw := range raws {
		g.Go(func() error {
			q, err := m.GetQuote(ctx, raw, opts)
			results[i] = QuoteResult{Symbol: raw, Quote: q, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Invalidate drops the cached quote for a symbol.
func (m *Manager) Invalidate(ctx context.Context, raw string) error {
	sym, err := model.ParseSymbol(raw)
	if err != nil {
		return err
	}
	return m.cache.Delete(ctx, m.quoteKey(sym))
}

// Persist stores quotes and publishes them synchronously. Failures are logged, never returned.
func (m *Manager) Persist(ctx context.Context, quotes ...model.Quote) {
	if m.testMode() {
		return
	}
	m.persist(ctx, quotes)
}

func (m *Manager) persist(ctx context.Context, quotes []model.Quote) {
	if len(quotes) == 0 {
		return
	}
	if err := m.storage.SaveQuotes(ctx, quotes); err != nil {
		m.log.Error("failed to store quotes", "count", len(quotes), "error", err)
	}
	if err := m.publisher.Publish(ctx, quotes...); err != nil {
		m.log.Error("failed to publish quotes", "count", len(quotes), "error", err)
	}
}

// Providers reports every provider in the active chains.
func (m *Manager) Providers() []model.ProviderStatus {
	set := m.chains.Load()
	out := make([]model.ProviderStatus, 0, len(set.all))
	for _, g := range set.all {
		st := model.ProviderStatus{
			Name:         g.Name(),
			Enabled:      true,
			Markets:      g.Markets(),
			Capabilities: g.Capabilities().Strings(),
			BreakerState: g.breakerState(),
		}
		m.health.Fill(g.Name(), &st)
		out = append(out, st)
	}
	return out
}

// ProviderNames lists the chain for market in fallback order.
func (m *Manager) ProviderNames(market model.Market) []string {
	var names []string
	for _, g := range m.chains.Load().byMarket[market] {
		names = append(names, g.Name())
	}
	return names
}

func (m *Manager) readCache(ctx context.Context, key string, dst any) bool {
	data, tier, err := m.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, model.ErrCacheMiss) {
			m.log.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		m.log.Warn("dropping undecodable cache entry", "key", key, "tier", tier, "error", err)
		_ = m.cache.Delete(ctx, key)
		return false
	}
	return true
}

func (m *Manager) writeCache(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		m.log.Error("failed to encode cache entry", "key", key, "error", err)
		return
	}
	if err := m.cache.Set(ctx, key, data, ttl); err != nil {
		m.log.Warn("cache write failed", "key", key, "error", err)
	}
}
