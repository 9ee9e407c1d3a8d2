// Package baostock is a client for the BaoStock session protocol. It serves A-share daily history only.
package baostock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"quotehub/internal/adapter/provider"
	"quotehub/internal/domain/model"
)

const Name = "baostock"

const (
	barFields    = "date,code,open,high,low,close,preclose,volume,amount"
	maxPages     = 50
	reconnTries  = 3
	logoutBudget = 2 * time.Second
)

type Config struct {
	Addr     string
	User     string
	Password string
	Timeout  time.Duration
	PageSize int
}

type Client struct {
	provider.Descriptor
	cfg     Config
	log     *slog.Logger
	backOff func() backoff.BackOff

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

func New(cfg Config, log *slog.Logger) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		Descriptor: provider.Descriptor{
			ProviderName: Name,
			Served:       []model.Market{model.AShare},
			Caps:         model.CapHistory,
		},
		cfg: cfg,
		log: log,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (c *Client) VolumeUnit(model.Market) model.VolumeUnit { return model.Shares }

// Connect dials and logs in, replacing any previous session.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	c.dropLocked()
	c.log.Info("connecting to baostock", "provider", Name, "addr", c.cfg.Addr)

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return c.Err("connect", fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err))
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	resp, err := c.roundTripLocked(ctx, frame{
		Type:   msgLogin,
		Fields: []string{"login", c.cfg.User, c.cfg.Password, "0"},
	}, msgLoginResp)
	if err != nil {
		c.dropLocked()
		return c.Err("login", fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err))
	}
	if resp.Code() != codeOK {
		c.dropLocked()
		return c.PermanentErr("login", fmt.Errorf("login rejected: %s %s", resp.Code(), resp.Message()))
	}

	c.log.Info("logged in to baostock", "provider", Name, "user", c.cfg.User)
	return nil
}

// reconnectLocked retries the login with exponential backoff.
func (c *Client) reconnectLocked(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.connectLocked(ctx)
		if err != nil && model.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(c.backOff()), backoff.WithMaxTries(reconnTries))
	return err
}

func (c *Client) roundTripLocked(ctx context.Context, req frame, want string) (frame, error) {
	if c.conn == nil {
		return frame{}, net.ErrClosed
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.Timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return frame{}, err
	}

	msg, err := encodeFrame(req)
	if err != nil {
		return frame{}, err
	}
	if _, err := c.conn.Write(msg); err != nil {
		return frame{}, err
	}
	resp, err := readFrame(c.reader)
	if err != nil {
		return frame{}, err
	}
	if resp.Type != want {
		return frame{}, fmt.Errorf("%w: got type %s, want %s", errBadFrame, resp.Type, want)
	}
	return resp, nil
}

// exec sends req, re-establishing the session once if it dropped or expired.
func (c *Client) exec(ctx context.Context, op string, req frame, want string) (frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.reconnectLocked(ctx); err != nil {
			return frame{}, err
		}
	}

	resp, err := c.roundTripLocked(ctx, req, want)
	if err == nil && resp.Code() != codeNotLoggedIn {
		return resp, nil
	}
	if err != nil {
		c.log.Warn("baostock session dropped, reconnecting", "provider", Name, "op", op, "error", err)
	} else {
		c.log.Warn("baostock session expired, logging in again", "provider", Name, "op", op)
	}

	if err := c.reconnectLocked(ctx); err != nil {
		return frame{}, err
	}
	resp, err = c.roundTripLocked(ctx, req, want)
	if err != nil {
		c.dropLocked()
		return frame{}, c.Err(op, fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err))
	}
	return resp, nil
}

func (c *Client) FetchQuote(ctx context.Context, sym model.Symbol) (*model.Quote, error) {
	return nil, c.PermanentErr("quote", model.ErrNotSupported)
}

func (c *Client) FetchDailyBars(ctx context.Context, sym model.Symbol, start, end time.Time) ([]model.Bar, error) {
	if !c.Supports(sym.Market) {
		return nil, c.Err("bars", model.ErrUnsupportedMarket)
	}
	code := toCode(sym)
	loc := sym.Market.Location()

	var bars []model.Bar
	for page := 1; page <= maxPages; page++ {
		resp, err := c.exec(ctx, "bars", frame{
			Type: msgQueryKData,
			Fields: []string{
				"query_history_k_data_plus", c.cfg.User,
				strconv.Itoa(page), strconv.Itoa(c.cfg.PageSize),
				code, barFields,
				start.Format(time.DateOnly), end.Format(time.DateOnly),
				"d", "3",
			},
		}, msgQueryKDataResp)
		if err != nil {
			return nil, err
		}
		if resp.Code() != codeOK {
			return nil, c.Err("bars", fmt.Errorf("code %s: %s", resp.Code(), resp.Message()))
		}

		records := gjson.Get(resp.field(6), "record").Array()
		for _, rec := range records {
			b, ok := parseRecord(rec.Array(), sym, loc)
			if !ok {
				continue
			}
			bars = append(bars, b)
		}
		if len(records) < c.cfg.PageSize {
			break
		}
	}

	if len(bars) == 0 {
		return nil, c.Err("bars", model.ErrNoData)
	}
	return bars, nil
}

// parseRecord reads one row in barFields order. Suspended days have an empty close and are skipped.
func parseRecord(rec []gjson.Result, sym model.Symbol, loc *time.Location) (model.Bar, bool) {
	if len(rec) < 9 || rec[5].String() == "" {
		return model.Bar{}, false
	}
	day, err := provider.ParseDate(rec[0].String(), loc)
	if err != nil {
		return model.Bar{}, false
	}
	vol, _ := decimal.NewFromString(rec[7].String())
	return model.Bar{
		Symbol:    sym.String(),
		TradeDate: day,
		Open:      provider.Decimal(rec[2]),
		High:      provider.Decimal(rec[3]),
		Low:       provider.Decimal(rec[4]),
		Close:     provider.Decimal(rec[5]),
		PreClose:  provider.Decimal(rec[6]),
		Volume:    vol.IntPart(),
		Amount:    provider.Decimal(rec[8]),
		Source:    Name,
	}, true
}

// toCode renders sh.600519 / sz.000001 / bj.430047.
func toCode(sym model.Symbol) string {
	switch sym.Exchange {
	case model.ExchangeSZ:
		return "sz." + sym.Code
	case model.ExchangeBJ:
		return "bj." + sym.Code
	default:
		return "sh." + sym.Code
	}
}

func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return c.Err("ping", fmt.Errorf("%w: not logged in", model.ErrProviderUnavailable))
	}
	return nil
}

// Close logs out and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}

	c.log.Info("closing baostock session", "provider", Name)
	ctx, cancel := context.WithTimeout(context.Background(), logoutBudget)
	defer cancel()
	_, err := c.roundTripLocked(ctx, frame{
		Type:   msgLogout,
		Fields: []string{"logout", c.cfg.User, time.Now().Format("20060102150405")},
	}, msgLogoutResp)
	if err != nil {
		c.log.Warn("baostock logout failed", "provider", Name, "error", err)
	}

	closeErr := c.conn.Close()
	c.conn, c.reader = nil, nil
	if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
		return closeErr
	}
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.reader = nil, nil
}
