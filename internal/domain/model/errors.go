package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrUnsupportedMarket   = errors.New("unsupported market")
	ErrNoData              = errors.New("no data")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrAllProvidersFailed  = errors.New("all providers failed")
	ErrCacheMiss           = errors.New("cache miss")
	ErrNotSupported        = errors.New("operation not supported")
	ErrInvalidRange        = errors.New("invalid date range")
)

// ProviderError tags a failure with the provider and operation that produced it.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
	// Permanent errors are not retried (bad credentials, malformed request).
	Permanent bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNoData) || errors.Is(err, ErrInvalidSymbol) || errors.Is(err, ErrUnsupportedMarket) ||
		errors.Is(err, ErrNotSupported) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Permanent
}
