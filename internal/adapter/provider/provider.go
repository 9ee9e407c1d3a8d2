// Package provider holds what the market-data adapters share.
package provider

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"quotehub/internal/domain/model"
)

// Descriptor implements the static half of port.QuoteProvider.
type Descriptor struct {
	ProviderName string
	Served       []model.Market
	Caps         model.Capability
}

func (d Descriptor) Name() string                   { return d.ProviderName }
func (d Descriptor) Markets() []model.Market        { return d.Served }
func (d Descriptor) Capabilities() model.Capability { return d.Caps }

func (d Descriptor) Supports(market model.Market) bool {
	return slices.Contains(d.Served, market)
}

// Err tags err with the provider and operation.
func (d Descriptor) Err(op string, err error) error {
	return &model.ProviderError{Provider: d.ProviderName, Op: op, Err: err, Permanent: model.IsPermanent(err)}
}

// PermanentErr is Err for failures that retrying cannot fix.
func (d Descriptor) PermanentErr(op string, err error) error {
	return &model.ProviderError{Provider: d.ProviderName, Op: op, Err: err, Permanent: true}
}

// StatusErr classifies an HTTP status. 429 and 5xx are retryable, other 4xx are not.
func (d Descriptor) StatusErr(op string, status int, body []byte) error {
	err := fmt.Errorf("%w: http %d: %s", model.ErrProviderUnavailable, status, truncate(string(body), 120))
	if status == http.StatusTooManyRequests || status >= 500 {
		return d.Err(op, err)
	}
	return d.PermanentErr(op, err)
}

// Decimal reads a JSON number or numeric string. Missing, null and unparsable values are zero.
func Decimal(r gjson.Result) decimal.Decimal {
	var raw string
	switch r.Type {
	case gjson.Number:
		raw = r.Raw
	case gjson.String:
		raw = strings.TrimSpace(r.Str)
	default:
		return decimal.Zero
	}
	if raw == "" || raw == "-" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Float is Decimal for values that are only converted, such as volumes.
func Float(r gjson.Result) float64 {
	f, _ := Decimal(r).Float64()
	return f
}

// ParseDate accepts 20240102, 2024-01-02 and 2024-01-02T00:00:00 in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	layout := "20060102"
	if len(s) >= 10 && s[4] == '-' {
		s, layout = s[:10], time.DateOnly
	}
	return time.ParseInLocation(layout, s, loc)
}

// InRange reports whether day falls in [start, end] by calendar date.
func InRange(day, start, end time.Time) bool {
	d := day.Format(time.DateOnly)
	return d >= start.Format(time.DateOnly) && d <= end.Format(time.DateOnly)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
