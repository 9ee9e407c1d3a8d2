package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"quotehub/internal/application/service"
	"quotehub/internal/domain/model"
)

// MaxBatch is the largest batch a single request may ask for.
const MaxBatch = 50

const defaultHistoryDays = 30

var ErrBatchTooLarge = errors.New("too many symbols")

type QuoteUseCase struct {
	manager *service.Manager
	clock   *service.MarketClock
	mode    *service.ModeService
	now     func() time.Time
}

func NewQuoteUseCase(manager *service.Manager, clock *service.MarketClock, mode *service.ModeService) *QuoteUseCase {
	return &QuoteUseCase{
		manager: manager,
		clock:   clock,
		mode:    mode,
		now:     time.Now,
	}
}

func (uc *QuoteUseCase) GetQuote(ctx context.Context, symbol string, refresh bool) (*model.Quote, error) {
	return uc.manager.GetQuote(ctx, symbol, service.QuoteOptions{Refresh: refresh})
}

// GetQuotes trims and de-duplicates symbols, keeping the first occurrence order.
func (uc *QuoteUseCase) GetQuotes(ctx context.Context, symbols []string, refresh bool) ([]service.QuoteResult, error) {
	seen := make(map[string]bool, len(symbols))
	var unique []string
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToUpper(s)] {
			continue
		}
		seen[strings.ToUpper(s)] = true
		unique = append(unique, s)
	}
	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: no symbols given", model.ErrInvalidSymbol)
	}
	if len(unique) > MaxBatch {
		return nil, fmt.Errorf("%w: %d requested, at most %d", ErrBatchTooLarge, len(unique), MaxBatch)
	}
	return uc.manager.GetQuotes(ctx, unique, service.QuoteOptions{Refresh: refresh}), nil
}

// GetHistory defaults a zero end to today and a zero start to thirty days before end.
func (uc *QuoteUseCase) GetHistory(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error) {
	if end.IsZero() {
		end = uc.now()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -defaultHistoryDays)
	}
	return uc.manager.GetHistory(ctx, symbol, start, end)
}

func (uc *QuoteUseCase) MarketStatus(market string) (model.MarketStatus, error) {
	m, err := model.ParseMarket(market)
	if err != nil {
		return model.MarketStatus{}, err
	}
	return uc.clock.Status(m, uc.now()), nil
}

func (uc *QuoteUseCase) Providers() []model.ProviderStatus {
	return uc.manager.Providers()
}

func (uc *QuoteUseCase) Invalidate(ctx context.Context, symbol string) error {
	return uc.manager.Invalidate(ctx, symbol)
}

func (uc *QuoteUseCase) CurrentMode() model.DataMode {
	return uc.mode.GetCurrentMode()
}

func (uc *QuoteUseCase) SwitchMode(ctx context.Context, mode model.DataMode) error {
	return uc.mode.SwitchMode(ctx, mode)
}
