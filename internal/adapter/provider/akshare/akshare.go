// Package akshare reads AKShare data through an AKTools HTTP bridge.
package akshare

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/singleflight"

	"quotehub/internal/adapter/provider"
	"quotehub/internal/domain/model"
)

const Name = "akshare"

// Column names of the eastmoney-backed functions.
const (
	colCode      = "代码"
	colName      = "名称"
	colPrice     = "最新价"
	colChangePct = "涨跌幅"
	colChange    = "涨跌额"
	colVolume    = "成交量"
	colAmount    = "成交额"
	colHigh      = "最高"
	colLow       = "最低"
	colOpen      = "今开"
	colPreClose  = "昨收"
	colDate      = "日期"
	colBarOpen   = "开盘"
	colBarClose  = "收盘"
)

var spotFunctions = map[model.Market]string{
	model.AShare: "stock_zh_a_spot_em",
	model.HK:     "stock_hk_spot_em",
	model.US:     "stock_us_spot_em",
}

var histFunctions = map[model.Market]string{
	model.AShare: "stock_zh_a_hist",
	model.HK:     "stock_hk_hist",
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	// SpotTTL is how long a whole-market snapshot is reused.
	SpotTTL time.Duration
}

type snapshot struct {
	fetchedAt time.Time
	rows      map[string]gjson.Result
}

type Client struct {
	provider.Descriptor
	baseURL string
	timeout time.Duration
	spotTTL time.Duration
	http    *fasthttp.Client
	log     *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	spots map[model.Market]snapshot
	group singleflight.Group
}

func New(cfg Config, log *slog.Logger) *Client {
	return &Client{
		Descriptor: provider.Descriptor{
			ProviderName: Name,
			Served:       []model.Market{model.AShare, model.HK, model.US},
			Caps:         model.CapRealtime | model.CapHistory,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		spotTTL: cfg.SpotTTL,
		http: &fasthttp.Client{
			Name:                "quotehub",
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxConnsPerHost:     16,
			MaxIdleConnDuration: time.Minute,
		},
		log:   log,
		now:   time.Now,
		spots: make(map[model.Market]snapshot),
	}
}

// VolumeUnit: A-share volume is reported in lots, HK and US in shares.
func (c *Client) VolumeUnit(market model.Market) model.VolumeUnit {
	if market == model.AShare {
		return model.Lots
	}
	return model.Shares
}

func (c *Client) Connect(ctx context.Context) error { return nil }

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "ping", "tool_trade_date_hist_sina", nil)
	return err
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) FetchQuote(ctx context.Context, sym model.Symbol) (*model.Quote, error) {
	if !c.Supports(sym.Market) {
		return nil, c.Err("quote", model.ErrUnsupportedMarket)
	}
	snap, err := c.spot(ctx, sym.Market)
	if err != nil {
		return nil, err
	}
	row, ok := snap.rows[sym.Code]
	if !ok {
		return nil, c.Err("quote", model.ErrNoData)
	}

	price := provider.Decimal(row.Get(colPrice))
	if price.IsZero() {
		// suspended
		return nil, c.Err("quote", model.ErrNoData)
	}
	q := &model.Quote{
		Symbol:    sym.String(),
		Name:      row.Get(colName).String(),
		Market:    sym.Market,
		Price:     price,
		PreClose:  provider.Decimal(row.Get(colPreClose)),
		Change:    provider.Decimal(row.Get(colChange)),
		ChangePct: provider.Decimal(row.Get(colChangePct)),
		Open:      provider.Decimal(row.Get(colOpen)),
		High:      provider.Decimal(row.Get(colHigh)),
		Low:       provider.Decimal(row.Get(colLow)),
		Volume:    c.VolumeUnit(sym.Market).ToShares(provider.Float(row.Get(colVolume))),
		Amount:    provider.Decimal(row.Get(colAmount)),
		Timestamp: snap.fetchedAt,
		Source:    Name,
		Realtime:  true,
	}
	q.FillDerived()
	return q, nil
}

func (c *Client) FetchDailyBars(ctx context.Context, sym model.Symbol, start, end time.Time) ([]model.Bar, error) {
	fn, ok := histFunctions[sym.Market]
	if !ok {
		return nil, c.Err("bars", model.ErrUnsupportedMarket)
	}
	body, err := c.get(ctx, "bars", fn, url.Values{
		"symbol":     {sym.Code},
		"period":     {"daily"},
		"start_date": {start.Format("20060102")},
		"end_date":   {end.Format("20060102")},
		"adjust":     {""},
	})
	if err != nil {
		return nil, err
	}

	unit := c.VolumeUnit(sym.Market)
	loc := sym.Market.Location()
	var bars []model.Bar
	var prevClose decimal.Decimal
	for _, row := range gjson.ParseBytes(body).Array() {
		day, err := provider.ParseDate(row.Get(colDate).String(), loc)
		if err != nil {
			c.log.Warn("skipping bar with bad date", "provider", Name, "symbol", sym.String(), "error", err)
			continue
		}
		b := model.Bar{
			Symbol:    sym.String(),
			TradeDate: day,
			Open:      provider.Decimal(row.Get(colBarOpen)),
			High:      provider.Decimal(row.Get(colHigh)),
			Low:       provider.Decimal(row.Get(colLow)),
			Close:     provider.Decimal(row.Get(colBarClose)),
			Volume:    unit.ToShares(provider.Float(row.Get(colVolume))),
			Amount:    provider.Decimal(row.Get(colAmount)),
			Source:    Name,
		}
		if ch := row.Get(colChange); ch.Exists() {
			b.PreClose = b.Close.Sub(provider.Decimal(ch))
		} else {
			b.PreClose = prevClose
		}
		prevClose = b.Close
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, c.Err("bars", model.ErrNoData)
	}
	return bars, nil
}

// spot returns the whole-market snapshot, refetching it at most once per SpotTTL.
func (c *Client) spot(ctx context.Context, market model.Market) (snapshot, error) {
	c.mu.RLock()
	snap, ok := c.spots[market]
	c.mu.RUnlock()
	if ok && c.now().Sub(snap.fetchedAt) < c.spotTTL {
		return snap, nil
	}

	v, err, _ := c.group.Do(string(market), func() (any, error) {
		body, err := c.get(ctx, "quote", spotFunctions[market], nil)
		if err != nil {
			return snapshot{}, err
		}
		snap := snapshot{fetchedAt: c.now(), rows: make(map[string]gjson.Result)}
		for _, row := range gjson.ParseBytes(body).Array() {
			snap.rows[spotKey(market, row.Get(colCode).String())] = row
		}
		if len(snap.rows) == 0 {
			return snapshot{}, c.Err("quote", model.ErrNoData)
		}

		c.mu.Lock()
		c.spots[market] = snap
		c.mu.Unlock()
		c.log.Debug("spot snapshot refreshed", "provider", Name, "market", market, "rows", len(snap.rows))
		return snap, nil
	})
	if err != nil {
		return snapshot{}, err
	}
	return v.(snapshot), nil
}

// spotKey maps the code column onto model.Symbol.Code. US codes carry an exchange id ("105.AAPL").
func spotKey(market model.Market, code string) string {
	if market == model.US {
		if _, ticker, ok := strings.Cut(code, "."); ok {
			return strings.ToUpper(ticker)
		}
		return strings.ToUpper(code)
	}
	return code
}

func (c *Client) get(ctx context.Context, op, fn string, params url.Values) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uri := c.baseURL + "/api/public/" + fn
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.http.DoDeadline(req, resp, deadline)
	} else {
		err = c.http.DoTimeout(req, resp, c.timeout)
	}
	if err != nil {
		return nil, c.Err(op, fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err))
	}

	body := append([]byte(nil), resp.Body()...)
	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		return nil, c.StatusErr(op, status, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, c.Err(op, fmt.Errorf("%w: malformed response from %s", model.ErrProviderUnavailable, fn))
	}
	return body, nil
}
