// Package tushare talks to the Tushare Pro HTTP API.
package tushare

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"quotehub/internal/adapter/provider"
	"quotehub/internal/domain/model"
)

const Name = "tushare"

// Tushare result codes.
const (
	codeOK        = 0
	codeBadToken  = 2002
	codeRateLimit = 40203
)

const (
	quoteFields = "ts_code,name,pre_close,open,high,low,close,vol,amount"
	barFields   = "ts_code,trade_date,open,high,low,close,pre_close,vol,amount"
)

// amount is reported in thousands of yuan.
var thousand = decimal.NewFromInt(1000)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type Client struct {
	provider.Descriptor
	baseURL string
	token   string
	http    *resty.Client
	log     *slog.Logger
	now     func() time.Time
}

func New(cfg Config, log *slog.Logger) *Client {
	return &Client{
		Descriptor: provider.Descriptor{
			ProviderName: Name,
			Served:       []model.Market{model.AShare},
			Caps:         model.CapRealtime | model.CapHistory,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http: resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json"),
		log: log,
		now: time.Now,
	}
}

func (c *Client) VolumeUnit(model.Market) model.VolumeUnit { return model.Lots }

func (c *Client) Connect(ctx context.Context) error { return nil }

// Ping asks for a single trading-calendar row, which costs no points.
func (c *Client) Ping(ctx context.Context) error {
	today := c.now().In(model.AShare.Location()).Format("20060102")
	_, err := c.call(ctx, "ping", "trade_cal", map[string]string{
		"exchange": "SSE", "start_date": today, "end_date": today,
	}, "cal_date")
	return err
}

func (c *Client) Close() error { return nil }

func (c *Client) FetchQuote(ctx context.Context, sym model.Symbol) (*model.Quote, error) {
	if !c.Supports(sym.Market) {
		return nil, c.Err("quote", model.ErrUnsupportedMarket)
	}
	t, err := c.call(ctx, "quote", "rt_k", map[string]string{"ts_code": sym.String()}, quoteFields)
	if err != nil {
		return nil, err
	}
	if len(t.items) == 0 {
		return nil, c.Err("quote", model.ErrNoData)
	}

	row := t.items[0]
	q := &model.Quote{
		Symbol:    sym.String(),
		Name:      t.get(row, "name").String(),
		Market:    sym.Market,
		Price:     provider.Decimal(t.get(row, "close")),
		PreClose:  provider.Decimal(t.get(row, "pre_close")),
		Open:      provider.Decimal(t.get(row, "open")),
		High:      provider.Decimal(t.get(row, "high")),
		Low:       provider.Decimal(t.get(row, "low")),
		Volume:    model.Lots.ToShares(provider.Float(t.get(row, "vol"))),
		Amount:    provider.Decimal(t.get(row, "amount")).Mul(thousand),
		Timestamp: c.now(),
		Source:    Name,
		Realtime:  true,
	}
	if q.Price.IsZero() {
		return nil, c.Err("quote", model.ErrNoData)
	}
	q.FillDerived()
	return q, nil
}

func (c *Client) FetchDailyBars(ctx context.Context, sym model.Symbol, start, end time.Time) ([]model.Bar, error) {
	if !c.Supports(sym.Market) {
		return nil, c.Err("bars", model.ErrUnsupportedMarket)
	}
	t, err := c.call(ctx, "bars", "daily", map[string]string{
		"ts_code":    sym.String(),
		"start_date": start.Format("20060102"),
		"end_date":   end.Format("20060102"),
	}, barFields)
	if err != nil {
		return nil, err
	}

	loc := sym.Market.Location()
	bars := make([]model.Bar, 0, len(t.items))
	for _, row := range t.items {
		day, err := provider.ParseDate(t.get(row, "trade_date").String(), loc)
		if err != nil {
			c.log.Warn("skipping bar with bad trade_date", "provider", Name, "symbol", sym.String(), "error", err)
			continue
		}
		bars = append(bars, model.Bar{
			Symbol:    sym.String(),
			TradeDate: day,
			Open:      provider.Decimal(t.get(row, "open")),
			High:      provider.Decimal(t.get(row, "high")),
			Low:       provider.Decimal(t.get(row, "low")),
			Close:     provider.Decimal(t.get(row, "close")),
			PreClose:  provider.Decimal(t.get(row, "pre_close")),
			Volume:    model.Lots.ToShares(provider.Float(t.get(row, "vol"))),
			Amount:    provider.Decimal(t.get(row, "amount")).Mul(thousand),
			Source:    Name,
		})
	}
	if len(bars) == 0 {
		return nil, c.Err("bars", model.ErrNoData)
	}

	// newest first on the wire
	slices.SortFunc(bars, func(a, b model.Bar) int { return a.TradeDate.Compare(b.TradeDate) })
	return bars, nil
}

type request struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

// table is the columnar data block of a response.
type table struct {
	columns map[string]int
	items   []gjson.Result
}

func (t table) get(row gjson.Result, field string) gjson.Result {
	i, ok := t.columns[field]
	if !ok {
		return gjson.Result{}
	}
	return row.Get(fmt.Sprint(i))
}

func (c *Client) call(ctx context.Context, op, api string, params map[string]string, fields string) (table, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{APIName: api, Token: c.token, Params: params, Fields: fields}).
		Post(c.baseURL)
	if err != nil {
		return table{}, c.Err(op, fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err))
	}
	if resp.IsError() {
		return table{}, c.StatusErr(op, resp.StatusCode(), resp.Body())
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return table{}, c.Err(op, fmt.Errorf("%w: malformed response", model.ErrProviderUnavailable))
	}
	res := gjson.ParseBytes(body)

	switch code := res.Get("code").Int(); code {
	case codeOK:
	case codeRateLimit:
		return table{}, c.Err(op, fmt.Errorf("%w: rate limited: %s", model.ErrProviderUnavailable, res.Get("msg").String()))
	case codeBadToken:
		return table{}, c.PermanentErr(op, fmt.Errorf("invalid token: %s", res.Get("msg").String()))
	default:
		return table{}, c.Err(op, fmt.Errorf("code %d: %s", code, res.Get("msg").String()))
	}

	t := table{columns: make(map[string]int), items: res.Get("data.items").Array()}
	for i, f := range res.Get("data.fields").Array() {
		t.columns[f.String()] = i
	}
	return t, nil
}
