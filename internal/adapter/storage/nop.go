package storage

import (
	"context"
	"time"

	"quotehub/internal/domain/model"
)

// Nop is used when no database is configured. Reads find nothing, writes are dropped.
type Nop struct{}

func (Nop) SaveQuotes(context.Context, []model.Quote) error { return nil }
func (Nop) SaveBars(context.Context, []model.Bar) error     { return nil }

func (Nop) GetBars(context.Context, string, time.Time, time.Time) ([]model.Bar, error) {
	return nil, nil
}

func (Nop) GetLatestQuote(context.Context, string) (*model.Quote, error) { return nil, nil }

func (Nop) DeleteQuotesBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (Nop) Ping(context.Context) error { return nil }
func (Nop) Close() error               { return nil }
