package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VolumeUnit is the unit a provider reports traded volume in.
type VolumeUnit int

const (
	Shares VolumeUnit = iota
	Lots
)

// SharesPerLot is the A-share board lot.
const SharesPerLot = 100

func (u VolumeUnit) String() string {
	if u == Lots {
		return "lots"
	}
	return "shares"
}

// ToShares converts a provider volume into shares. Fractional lots are rounded.
func (u VolumeUnit) ToShares(v float64) int64 {
	if u == Lots {
		v *= SharesPerLot
	}
	if v < 0 {
		return int64(v - 0.5)
	}
	return int64(v + 0.5)
}

// Quote is a normalized snapshot. Volume is always in shares, Amount in currency units.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name,omitempty"`
	Market    Market          `json:"market"`
	Price     decimal.Decimal `json:"price"`
	PreClose  decimal.Decimal `json:"pre_close"`
	Change    decimal.Decimal `json:"change"`
	ChangePct decimal.Decimal `json:"change_pct"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Volume    int64           `json:"volume"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Realtime  bool            `json:"realtime"`
	Quality   *QualityScore   `json:"quality,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// FillDerived computes change and change_pct from price and pre_close when the provider left them empty.
func (q *Quote) FillDerived() {
	if q.PreClose.IsZero() || q.Price.IsZero() {
		return
	}
	if q.Change.IsZero() {
		q.Change = q.Price.Sub(q.PreClose)
	}
	if q.ChangePct.IsZero() && !q.Change.IsZero() {
		q.ChangePct = q.Change.Div(q.PreClose).Mul(hundred).Round(4)
	}
}

// Bar is one daily k-line.
type Bar struct {
	Symbol    string          `json:"symbol"`
	TradeDate time.Time       `json:"trade_date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	PreClose  decimal.Decimal `json:"pre_close"`
	Volume    int64           `json:"volume"`
	Amount    decimal.Decimal `json:"amount"`
	Source    string          `json:"source"`
}

// ToQuote turns the last bar of a session into a non-realtime quote.
func (b Bar) ToQuote(market Market) Quote {
	q := Quote{
		Symbol:    b.Symbol,
		Market:    market,
		Price:     b.Close,
		PreClose:  b.PreClose,
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Volume:    b.Volume,
		Amount:    b.Amount,
		Timestamp: market.SessionClose(b.TradeDate),
		Source:    b.Source,
		Realtime:  false,
	}
	q.FillDerived()
	return q
}
