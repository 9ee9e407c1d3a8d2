package model

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// Market identifies a trading venue group with shared hours.
type Market string

const (
	AShare Market = "a_share"
	HK     Market = "hk"
	US     Market = "us"
)

// Markets lists every supported market.
var Markets = []Market{AShare, HK, US}

// ParseMarket accepts the canonical names plus a few common aliases.
func ParseMarket(s string) (Market, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a_share", "ashare", "a", "cn", "china":
		return AShare, nil
	case "hk", "hongkong", "hong_kong":
		return HK, nil
	case "us", "usa":
		return US, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMarket, s)
}

// Clock is a wall-clock time of day in minutes since midnight.
type Clock int

func At(hour, minute int) Clock { return Clock(hour*60 + minute) }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

// Session is one continuous trading window.
type Session struct {
	Open  Clock `json:"open"`
	Close Clock `json:"close"`
}

func (s Session) MarshalText() ([]byte, error) {
	return []byte(s.Open.String() + "-" + s.Close.String()), nil
}

var (
	shanghai = mustLoad("Asia/Shanghai")
	hongKong = mustLoad("Asia/Hong_Kong")
	newYork  = mustLoad("America/New_York")
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// Location returns the exchange timezone.
func (m Market) Location() *time.Location {
	switch m {
	case HK:
		return hongKong
	case US:
		return newYork
	default:
		return shanghai
	}
}

// Sessions returns continuous trading windows in exchange local time.
func (m Market) Sessions() []Session {
	switch m {
	case HK:
		return []Session{{At(9, 30), At(12, 0)}, {At(13, 0), At(16, 0)}}
	case US:
		return []Session{{At(9, 30), At(16, 0)}}
	default:
		return []Session{{At(9, 30), At(11, 30)}, {At(13, 0), At(15, 0)}}
	}
}

// SessionClose returns the closing instant of the given trading day.
func (m Market) SessionClose(day time.Time) time.Time {
	loc := m.Location()
	d := day.In(loc)
	sessions := m.Sessions()
	c := sessions[len(sessions)-1].Close
	return time.Date(d.Year(), d.Month(), d.Day(), int(c)/60, int(c)%60, 0, 0, loc)
}

// Phase describes where a market is within its day.
type Phase string

const (
	PhasePreOpen    Phase = "pre_open"
	PhaseTrading    Phase = "trading"
	PhaseLunchBreak Phase = "lunch_break"
	PhaseClosed     Phase = "closed"
	PhaseHoliday    Phase = "holiday"
	PhaseWeekend    Phase = "weekend"
)

// MarketStatus is the derived session state of a market at CheckedAt.
type MarketStatus struct {
	Market    Market    `json:"market"`
	Timezone  string    `json:"timezone"`
	Sessions  []Session `json:"sessions"`
	Phase     Phase     `json:"phase"`
	IsTrading bool      `json:"is_trading"`
	NextOpen  time.Time `json:"next_open"`
	CheckedAt time.Time `json:"checked_at"`
}
