package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"quotehub/internal/domain/model"
	"quotehub/internal/domain/port"
)

// GuardConfig bounds how a single provider is called.
type GuardConfig struct {
	Timeout time.Duration
	// RateLimit is calls per second; zero means unlimited.
	RateLimit       float64
	Burst           int
	Retries         int
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// guarded wraps a provider with a rate limiter, a circuit breaker, retries and a per-call timeout.
type guarded struct {
	port.QuoteProvider
	cfg     GuardConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	health  *HealthTracker
	rec     Recorder
	log     *slog.Logger
	backOff func() backoff.BackOff
}

func newGuarded(p port.QuoteProvider, cfg GuardConfig, health *HealthTracker, rec Recorder, log *slog.Logger) *guarded {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.Burst, 1)

	g := &guarded{
		QuoteProvider: p,
		cfg:           cfg,
		limiter:       rate.NewLimiter(limit, burst),
		health:        health,
		rec:           rec,
		log:           log,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		IsSuccessful: breakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("provider circuit breaker changed state", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// breakerSuccess keeps answers that are the caller's problem from tripping the breaker.
func breakerSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, model.ErrNoData) ||
		errors.Is(err, model.ErrInvalidSymbol) ||
		errors.Is(err, model.ErrUnsupportedMarket) ||
		errors.Is(err, model.ErrNotSupported) ||
		errors.Is(err, context.Canceled)
}

func (g *guarded) breakerState() string { return g.breaker.State().String() }

func (g *guarded) quote(ctx context.Context, sym model.Symbol) (*model.Quote, error) {
	return guardedCall(ctx, g, "quote", func(ctx context.Context) (*model.Quote, error) {
		return g.FetchQuote(ctx, sym)
	})
}

func (g *guarded) bars(ctx context.Context, sym model.Symbol, start, end time.Time) ([]model.Bar, error) {
	return guardedCall(ctx, g, "bars", func(ctx context.Context) ([]model.Bar, error) {
		return g.FetchDailyBars(ctx, sym, start, end)
	})
}

func guardedCall[T any](ctx context.Context, g *guarded, op string, fn func(context.Context) (T, error)) (T, error) {
	name := g.Name()
	attempt := func() (T, error) {
		var zero T
		if err := g.limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(err)
		}

		start := time.Now()
		v, err := g.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
			defer cancel()
			return fn(callCtx)
		})
		took := time.Since(start)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, backoff.Permanent(&model.ProviderError{
				Provider: name, Op: op, Err: fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err), Permanent: true,
			})
		}

		g.rec.ObserveProvider(name, op, err, took)
		if err == nil || errors.Is(err, model.ErrNoData) {
			g.health.RecordSuccess(name, took)
		} else if !errors.Is(err, context.Canceled) {
			g.health.RecordFailure(name, err, took)
		}

		if err != nil {
			if model.IsPermanent(err) || ctx.Err() != nil {
				return zero, backoff.Permanent(err)
			}
			g.log.Debug("provider call failed, may retry", "provider", name, "op", op, "error", err)
			return zero, err
		}
		return v.(T), nil
	}

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(g.backOff()),
		backoff.WithMaxTries(uint(g.cfg.Retries+1)),
	)
}
