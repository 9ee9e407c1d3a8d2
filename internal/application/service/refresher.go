package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quotehub/internal/concurrency/worker"
	"quotehub/internal/domain/model"
	"quotehub/internal/domain/port"
)

// QuoteRefresher is the part of the manager the refresher drives.
type QuoteRefresher interface {
	GetQuote(ctx context.Context, raw string, opts QuoteOptions) (*model.Quote, error)
	Persist(ctx context.Context, quotes ...model.Quote)
}

type RefresherConfig struct {
	Interval  time.Duration
	Workers   int
	Retention time.Duration
}

// Refresher keeps watched symbols warm while their market trades and stores the snapshots in batches.
type Refresher struct {
	quotes  QuoteRefresher
	storage port.StoragePort
	clock   *MarketClock
	pool    *worker.Pool
	cfg     RefresherConfig
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	watchlist []model.Symbol
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewRefresher(quotes QuoteRefresher, storage port.StoragePort, clock *MarketClock, cfg RefresherConfig, logger *slog.Logger) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	r := &Refresher{
		quotes:  quotes,
		storage: storage,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	r.pool = worker.NewPool(cfg.Workers, func(ctx context.Context, symbol string) (*model.Quote, error) {
		return quotes.GetQuote(ctx, symbol, QuoteOptions{Refresh: true, SkipPersist: true})
	}, logger)
	return r
}

// SetWatchlist replaces the watched symbols. Unparseable entries are logged and skipped.
func (r *Refresher) SetWatchlist(raws []string) {
	symbols := make([]model.Symbol, 0, len(raws))
	for _, raw := range raws {
		sym, err := model.ParseSymbol(raw)
		if err != nil {
			r.logger.Warn("refresher: skipping watchlist entry", "symbol", raw, "error", err)
			continue
		}
		symbols = append(symbols, sym)
	}

	r.mu.Lock()
	r.watchlist = symbols
	r.mu.Unlock()
	r.logger.Info("refresher: watchlist set", "count", len(symbols))
}

func (r *Refresher) Start(ctx context.Context) {
	r.logger.Info("refresher starting", "interval", r.cfg.Interval.String(), "workers", r.cfg.Workers)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop ends the loop and waits for the cycle in progress to flush.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
	r.logger.Info("refresher stopped")
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			n := r.RunOnce(ctx)
			if n > 0 {
				r.logger.Info("refresh cycle completed", "quotes", n, "duration", time.Since(start))
			}
		case <-ctx.Done():
			r.logger.Info("refresher loop stopping")
			return
		}
	}
}

// active is the watched symbols whose market is in session at now.
func (r *Refresher) active(now time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, sym := range r.watchlist {
		if r.clock.IsTrading(sym.Market, now) {
			out = append(out, sym.String())
		}
	}
	return out
}

// RunOnce refreshes every active symbol, persists the batch and prunes old snapshots.
// It returns the number of quotes stored.
func (r *Refresher) RunOnce(ctx context.Context) int {
	now := r.now()
	symbols := r.active(now)
	if len(symbols) == 0 {
		r.logger.Debug("refresher: no watched market is trading")
		return 0
	}

	in := make(chan string)
	go func() {
		defer close(in)
		for _, s := range symbols {
			select {
			case in <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	batch := make([]model.Quote, 0, len(symbols))
	for q := range r.pool.Start(ctx, in) {
		batch = append(batch, q)
	}

	// what was collected is stored even when shutdown interrupted the cycle
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	r.quotes.Persist(flushCtx, batch...)

	if r.cfg.Retention > 0 {
		n, err := r.storage.DeleteQuotesBefore(flushCtx, now.Add(-r.cfg.Retention))
		if err != nil {
			r.logger.Error("refresher: failed to prune snapshots", "error", err)
		} else if n > 0 {
			r.logger.Debug("refresher: pruned snapshots", "count", n)
		}
	}
	return len(batch)
}
