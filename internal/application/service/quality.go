package service

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"quotehub/internal/domain/model"
)

// Weights of the overall score.
const (
	weightCompleteness = 0.3
	weightConsistency  = 0.3
	weightTimeliness   = 0.2
	weightReliability  = 0.2
)

var (
	changeTolerance    = decimal.NewFromFloat(0.01)
	changePctTolerance = decimal.NewFromFloat(0.05)
)

const (
	freshFor  = time.Minute
	staleFrom = 15 * time.Minute
)

type ReliabilitySource interface {
	Reliability(provider string) float64
}

// QualityScorer grades quotes. Scores are advisory and never block a response.
type QualityScorer struct {
	clock       *MarketClock
	reliability ReliabilitySource
}

func NewQualityScorer(clock *MarketClock, reliability ReliabilitySource) *QualityScorer {
	return &QualityScorer{clock: clock, reliability: reliability}
}

func (s *QualityScorer) Score(q model.Quote, now time.Time) model.QualityScore {
	var issues []string
	score := model.QualityScore{
		Completeness:      s.completeness(q, &issues),
		Consistency:       consistency(q, &issues),
		Timeliness:        s.timeliness(q, now, &issues),
		SourceReliability: s.reliability.Reliability(q.Source),
	}
	score.Overall = round4(weightCompleteness*score.Completeness +
		weightConsistency*score.Consistency +
		weightTimeliness*score.Timeliness +
		weightReliability*score.SourceReliability)
	score.Grade = model.GradeFor(score.Overall)
	score.Issues = issues
	return score
}

func (s *QualityScorer) completeness(q model.Quote, issues *[]string) float64 {
	fields := []struct {
		name    string
		present bool
	}{
		{"price", !q.Price.IsZero()},
		{"open", !q.Open.IsZero()},
		{"high", !q.High.IsZero()},
		{"low", !q.Low.IsZero()},
		{"pre_close", !q.PreClose.IsZero()},
		{"volume", q.Volume != 0},
		{"amount", !q.Amount.IsZero()},
		{"name", q.Name != ""},
		{"timestamp", !q.Timestamp.IsZero()},
	}
	var present int
	for _, f := range fields {
		if f.present {
			present++
		} else {
			*issues = append(*issues, "missing "+f.name)
		}
	}
	return round4(float64(present) / float64(len(fields)))
}

// consistency is the share of applicable checks that pass. Checks need their inputs present.
func consistency(q model.Quote, issues *[]string) float64 {
	var checks, passed int
	check := func(ok bool, issue string) {
		checks++
		if ok {
			passed++
		} else {
			*issues = append(*issues, issue)
		}
	}

	if !q.High.IsZero() && !q.Low.IsZero() {
		check(q.High.GreaterThanOrEqual(q.Low), "high below low")
		if !q.Price.IsZero() {
			check(!q.Price.LessThan(q.Low) && !q.Price.GreaterThan(q.High), "price outside low/high")
		}
		if !q.Open.IsZero() {
			check(!q.Open.LessThan(q.Low) && !q.Open.GreaterThan(q.High), "open outside low/high")
		}
	}
	if !q.PreClose.IsZero() && !q.Price.IsZero() {
		want := q.Price.Sub(q.PreClose)
		check(q.Change.Sub(want).Abs().LessThanOrEqual(changeTolerance),
			fmt.Sprintf("change %s does not match price - pre_close %s", q.Change, want))
		wantPct := q.Change.Div(q.PreClose).Mul(decimal.NewFromInt(100))
		check(q.ChangePct.Sub(wantPct).Abs().LessThanOrEqual(changePctTolerance),
			fmt.Sprintf("change_pct %s does not match %s", q.ChangePct, wantPct.Round(4)))
	}

	if checks == 0 {
		return 1
	}
	return round4(float64(passed) / float64(checks))
}

// timeliness decays from 1 at one minute old to 0 at fifteen while trading. Off hours, anything
// from the latest session is fresh.
func (s *QualityScorer) timeliness(q model.Quote, now time.Time, issues *[]string) float64 {
	if q.Timestamp.IsZero() {
		return 0
	}
	if s.clock.IsTrading(q.Market, now) {
		age := now.Sub(q.Timestamp)
		switch {
		case age <= freshFor:
			return 1
		case age >= staleFrom:
			*issues = append(*issues, fmt.Sprintf("quote is %s old during trading", age.Round(time.Second)))
			return 0
		default:
			return round4(1 - float64(age-freshFor)/float64(staleFrom-freshFor))
		}
	}

	loc := q.Market.Location()
	last := s.clock.LastSessionDay(q.Market, now).Format(time.DateOnly)
	if q.Timestamp.In(loc).Format(time.DateOnly) >= last {
		return 1
	}
	*issues = append(*issues, "quote predates the last session "+last)
	return 0.5
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
