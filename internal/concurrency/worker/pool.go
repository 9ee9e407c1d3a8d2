package worker

import (
	"context"
	"log/slog"

	"quotehub/internal/concurrency/fanin"
	"quotehub/internal/concurrency/fanout"
	"quotehub/internal/domain/model"
)

// FetchFunc produces a fresh quote for a symbol.
type FetchFunc func(ctx context.Context, symbol string) (*model.Quote, error)

// Pool refreshes symbols concurrently. Failed symbols are logged and dropped.
type Pool struct {
	workers int
	fetch   FetchFunc
	logger  *slog.Logger
}

func NewPool(workers int, fetch FetchFunc, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		fetch:   fetch,
		logger:  logger,
	}
}

// Start consumes symbols from in and emits quotes.
// The returned channel closes when in is drained or ctx is cancelled.
func (p *Pool) Start(ctx context.Context, in <-chan string) <-chan model.Quote {
	lanes := fanout.FanOut(in, p.workers)
	outs := make([]<-chan model.Quote, len(lanes))
	for i, lane := range lanes {
		outs[i] = p.run(ctx, i, lane)
	}
	return fanin.FanIn(outs...)
}

func (p *Pool) run(ctx context.Context, id int, in <-chan string) <-chan model.Quote {
	out := make(chan model.Quote)
	go func() {
		defer close(out)
		for symbol := range in {
			if ctx.Err() != nil {
				// keep draining so the fan-out goroutine can finish
				continue
			}
			q, err := p.fetch(ctx, symbol)
			if err != nil {
				p.logger.Warn("worker: refresh failed", "worker", id, "symbol", symbol, "error", err)
				continue
			}
			p.logger.Debug("worker: refreshed", "worker", id, "symbol", q.Symbol, "price", q.Price.String(), "source", q.Source)
			select {
			case out <- *q:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
