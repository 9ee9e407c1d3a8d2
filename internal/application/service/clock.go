package service

import (
	"time"

	"quotehub/internal/domain/model"
)

// HolidayCalendar reports exchange holidays.
type HolidayCalendar interface {
	IsHoliday(market model.Market, t time.Time) bool
}

type TTLConfig struct {
	Intraday   time.Duration
	OffHours   time.Duration
	Historical time.Duration
}

// MarketClock derives session state from exchange hours and the holiday calendar.
type MarketClock struct {
	cal  HolidayCalendar
	ttls TTLConfig
}

func NewMarketClock(cal HolidayCalendar, ttls TTLConfig) *MarketClock {
	return &MarketClock{cal: cal, ttls: ttls}
}

func (c *MarketClock) IsTradingDay(market model.Market, t time.Time) bool {
	local := t.In(market.Location())
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.cal.IsHoliday(market, local)
}

func (c *MarketClock) Status(market model.Market, now time.Time) model.MarketStatus {
	loc := market.Location()
	local := now.In(loc)
	sessions := market.Sessions()

	st := model.MarketStatus{
		Market:    market,
		Timezone:  loc.String(),
		Sessions:  sessions,
		CheckedAt: now,
		NextOpen:  c.nextOpen(market, now),
	}

	switch wd := local.Weekday(); {
	case wd == time.Saturday || wd == time.Sunday:
		st.Phase = model.PhaseWeekend
		return st
	case c.cal.IsHoliday(market, local):
		st.Phase = model.PhaseHoliday
		return st
	}

	m := model.At(local.Hour(), local.Minute())
	switch {
	case m < sessions[0].Open:
		st.Phase = model.PhasePreOpen
	case m >= sessions[len(sessions)-1].Close:
		st.Phase = model.PhaseClosed
	default:
		st.Phase = model.PhaseLunchBreak
		for _, s := range sessions {
			if m >= s.Open && m < s.Close {
				st.Phase = model.PhaseTrading
				st.IsTrading = true
				break
			}
		}
	}
	return st
}

func (c *MarketClock) IsTrading(market model.Market, now time.Time) bool {
	return c.Status(market, now).IsTrading
}

// QuoteTTL is the intraday TTL while the market trades and the off-hours TTL otherwise.
func (c *MarketClock) QuoteTTL(market model.Market, now time.Time) time.Duration {
	if c.IsTrading(market, now) {
		return c.ttls.Intraday
	}
	return c.ttls.OffHours
}

// HistoryTTL uses the historical TTL once the range no longer includes today.
func (c *MarketClock) HistoryTTL(market model.Market, end, now time.Time) time.Duration {
	loc := market.Location()
	if end.In(loc).Format(time.DateOnly) < now.In(loc).Format(time.DateOnly) {
		return c.ttls.Historical
	}
	return c.QuoteTTL(market, now)
}

// LastSessionDay is the most recent trading day whose first session has opened by now.
func (c *MarketClock) LastSessionDay(market model.Market, now time.Time) time.Time {
	loc := market.Location()
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	open := market.Sessions()[0].Open
	if model.At(local.Hour(), local.Minute()) < open {
		day = day.AddDate(0, 0, -1)
	}
	for i := 0; i < 30 && !c.IsTradingDay(market, day); i++ {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// nextOpen is the first session open strictly after now, looking ahead up to 30 days.
func (c *MarketClock) nextOpen(market model.Market, now time.Time) time.Time {
	loc := market.Location()
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	for i := 0; i < 30; i++ {
		if c.IsTradingDay(market, day) {
			for _, s := range market.Sessions() {
				open := time.Date(day.Year(), day.Month(), day.Day(), int(s.Open)/60, int(s.Open)%60, 0, 0, loc)
				if open.After(now) {
					return open
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}
