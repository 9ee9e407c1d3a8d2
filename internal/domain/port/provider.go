package port

import (
	"context"
	"time"

	"quotehub/internal/domain/model"
)

// QuoteProvider is one third-party market-data source.
type QuoteProvider interface {
	Name() string
	Markets() []model.Market
	Supports(market model.Market) bool
	Capabilities() model.Capability
	// VolumeUnit is the unit the provider reports volume in for market.
	VolumeUnit(market model.Market) model.VolumeUnit
	// Connect establishes sessions for providers that need one; stateless providers return nil.
	Connect(ctx context.Context) error
	FetchQuote(ctx context.Context, symbol model.Symbol) (*model.Quote, error)
	// FetchDailyBars returns bars in [start, end] ordered by trade date.
	FetchDailyBars(ctx context.Context, symbol model.Symbol, start, end time.Time) ([]model.Bar, error)
	Ping(ctx context.Context) error
	Close() error
}
