package port

import (
	"context"

	"quotehub/internal/domain/model"
)

type QuotePublisher interface {
	Publish(ctx context.Context, quotes ...model.Quote) error
	Close() error
}
