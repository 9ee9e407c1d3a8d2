// Package calendar loads exchange holidays from YAML.
//
//	a_share:
//	  - 2024-02-09
//	  - 2024-02-12
//	us:
//	  - 2024-07-04
package calendar

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"quotehub/internal/domain/model"
)

type Calendar struct {
	holidays map[model.Market]map[string]struct{}
}

// Empty treats every weekday as a trading day.
func Empty() *Calendar {
	return &Calendar{holidays: map[model.Market]map[string]struct{}{}}
}

func Load(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Calendar, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	c := Empty()
	for name, days := range raw {
		market, err := model.ParseMarket(name)
		if err != nil {
			return nil, fmt.Errorf("calendar: %w", err)
		}
		set := c.holidays[market]
		if set == nil {
			set = make(map[string]struct{}, len(days))
			c.holidays[market] = set
		}
		for _, d := range days {
			if _, err := time.Parse(time.DateOnly, d); err != nil {
				return nil, fmt.Errorf("calendar %s: bad date %q: %w", name, d, err)
			}
			set[d] = struct{}{}
		}
	}
	return c, nil
}

// IsHoliday checks the exchange-local date of t.
func (c *Calendar) IsHoliday(market model.Market, t time.Time) bool {
	_, ok := c.holidays[market][t.In(market.Location()).Format(time.DateOnly)]
	return ok
}

// Count is the number of holidays configured for market.
func (c *Calendar) Count(market model.Market) int {
	return len(c.holidays[market])
}
