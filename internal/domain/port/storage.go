package port

import (
	"context"
	"time"

	"quotehub/internal/domain/model"
)

type StoragePort interface {
	SaveQuotes(ctx context.Context, quotes []model.Quote) error
	SaveBars(ctx context.Context, bars []model.Bar) error
	GetBars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error)
	// GetLatestQuote returns nil, nil when nothing is stored for symbol.
	GetLatestQuote(ctx context.Context, symbol string) (*model.Quote, error)
	DeleteQuotesBefore(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
