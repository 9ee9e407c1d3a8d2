package worker

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"quotehub/internal/domain/model"
	"quotehub/internal/infrastructure/logger"
)

func TestPoolRefreshesAndDropsFailures(t *testing.T) {
	fetch := func(ctx context.Context, symbol string) (*model.Quote, error) {
		if symbol == "bad" {
			return nil, errors.New("provider down")
		}
		return &model.Quote{Symbol: symbol, Price: decimal.NewFromInt(1)}, nil
	}
	pool := NewPool(3, fetch, logger.Discard())

	in := make(chan string)
	go func() {
		for _, s := range []string{"600519.SH", "bad", "000001.SZ", "00700.HK"} {
			in <- s
		}
		close(in)
	}()

	var got []string
	for q := range pool.Start(context.Background(), in) {
		got = append(got, q.Symbol)
	}
	sort.Strings(got)
	assert.Equal(t, []string{"000001.SZ", "00700.HK", "600519.SH"}, got)
}

func TestPoolStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	pool := NewPool(1, func(ctx context.Context, symbol string) (*model.Quote, error) {
		calls++
		return &model.Quote{Symbol: symbol}, nil
	}, logger.Discard())

	in := make(chan string, 2)
	in <- "a"
	in <- "b"
	close(in)

	for range pool.Start(ctx, in) {
	}
	assert.Zero(t, calls)
}
