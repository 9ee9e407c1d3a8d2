// Package generator produces synthetic quotes for test mode.
package generator

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quotehub/internal/adapter/provider"
	"quotehub/internal/domain/model"
)

const Name = "generator"

// Generator random-walks around a per-symbol base price, so repeated calls stay plausible.
type Generator struct {
	provider.Descriptor
	log *slog.Logger
	now func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(log *slog.Logger) *Generator {
	return &Generator{
		Descriptor: provider.Descriptor{
			ProviderName: Name,
			Served:       model.Markets,
			Caps:         model.CapRealtime | model.CapHistory,
		},
		log: log,
		now: time.Now,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Generator) VolumeUnit(model.Market) model.VolumeUnit { return model.Shares }

func (g *Generator) Connect(ctx context.Context) error { return nil }
func (g *Generator) Ping(ctx context.Context) error    { return nil }
func (g *Generator) Close() error                      { return nil }

func (g *Generator) FetchQuote(ctx context.Context, sym model.Symbol) (*model.Quote, error) {
	base := basePrice(sym)

	g.mu.Lock()
	preClose := base * (1 + (g.rnd.Float64()-0.5)*0.04)
	price := preClose * (1 + (g.rnd.Float64()-0.5)*0.06)
	open := preClose * (1 + (g.rnd.Float64()-0.5)*0.02)
	spread := g.rnd.Float64() * 0.01
	volume := int64(g.rnd.Intn(5_000_000) + 100_000)
	g.mu.Unlock()

	high := max(price, open) * (1 + spread)
	low := min(price, open) * (1 - spread)

	q := &model.Quote{
		Symbol:    sym.String(),
		Name:      "SIM " + sym.Code,
		Market:    sym.Market,
		Price:     round(price),
		PreClose:  round(preClose),
		Open:      round(open),
		High:      round(high),
		Low:       round(low),
		Volume:    volume,
		Amount:    round(price * float64(volume)),
		Timestamp: g.now(),
		Source:    Name,
		Realtime:  true,
	}
	q.FillDerived()
	return q, nil
}

// FetchDailyBars emits one bar per weekday in [start, end].
func (g *Generator) FetchDailyBars(ctx context.Context, sym model.Symbol, start, end time.Time) ([]model.Bar, error) {
	loc := sym.Market.Location()
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)

	g.mu.Lock()
	defer g.mu.Unlock()

	var bars []model.Bar
	prev := basePrice(sym)
	for ; !day.After(last); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		open := prev * (1 + (g.rnd.Float64()-0.5)*0.02)
		closeP := open * (1 + (g.rnd.Float64()-0.5)*0.05)
		high := max(open, closeP) * (1 + g.rnd.Float64()*0.01)
		low := min(open, closeP) * (1 - g.rnd.Float64()*0.01)
		volume := int64(g.rnd.Intn(5_000_000) + 100_000)

		bars = append(bars, model.Bar{
			Symbol:    sym.String(),
			TradeDate: day,
			Open:      round(open),
			High:      round(high),
			Low:       round(low),
			Close:     round(closeP),
			PreClose:  round(prev),
			Volume:    volume,
			Amount:    round(closeP * float64(volume)),
			Source:    Name,
		})
		prev = closeP
	}
	if len(bars) == 0 {
		return nil, g.Err("bars", model.ErrNoData)
	}
	g.log.Debug("generated bars", "provider", Name, "symbol", sym.String(), "count", len(bars))
	return bars, nil
}

// basePrice is stable per symbol, between 5 and 505.
func basePrice(sym model.Symbol) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sym.String()))
	return 5 + float64(h.Sum32()%50000)/100
}

func round(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
