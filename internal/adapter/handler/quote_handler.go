package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quotehub/internal/application/usecase"
	"quotehub/internal/domain/model"
)

type QuoteHandler struct {
	useCase *usecase.QuoteUseCase
	logger  *slog.Logger
}

func NewQuoteHandler(useCase *usecase.QuoteUseCase, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{
		useCase: useCase,
		logger:  logger,
	}
}

type batchEntry struct {
	Symbol string       `json:"symbol"`
	Quote  *model.Quote `json:"quote,omitempty"`
	Error  string       `json:"error,omitempty"`
	Status int          `json:"status"`
}

type historyResponse struct {
	Symbol string      `json:"symbol"`
	Start  string      `json:"start"`
	End    string      `json:"end"`
	Count  int         `json:"count"`
	Bars   []model.Bar `json:"bars"`
}

func refreshParam(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return v
}

// GetQuote serves GET /quotes/{symbol}.
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	q, err := h.useCase.GetQuote(r.Context(), symbol, refreshParam(r))
	if err != nil {
		fail(w, r, h.logger, "failed to get quote", err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GetQuotes serves GET /quotes?symbols=a,b,c. Per-symbol failures are reported inline.
func (h *QuoteHandler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	results, err := h.useCase.GetQuotes(r.Context(), strings.Split(raw, ","), refreshParam(r))
	if err != nil {
		fail(w, r, h.logger, "failed to get quotes", err)
		return
	}

	out := make([]batchEntry, len(results))
	for i, res := range results {
		out[i] = batchEntry{Symbol: res.Symbol, Quote: res.Quote, Status: http.StatusOK}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			out[i].Status = statusFor(res.Err)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetHistory serves GET /history/{symbol}?start=YYYYMMDD&end=YYYYMMDD.
func (h *QuoteHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	loc := time.UTC
	if sym, err := model.ParseSymbol(symbol); err == nil {
		loc = sym.Market.Location()
	}

	start, err := parseDay(r.URL.Query().Get("start"), loc)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDay(r.URL.Query().Get("end"), loc)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	bars, err := h.useCase.GetHistory(r.Context(), symbol, start, end)
	if err != nil {
		fail(w, r, h.logger, "failed to get history", err)
		return
	}

	resp := historyResponse{Symbol: symbol, Count: len(bars), Bars: bars}
	if len(bars) > 0 {
		resp.Symbol = bars[0].Symbol
		resp.Start = bars[0].TradeDate.Format(time.DateOnly)
		resp.End = bars[len(bars)-1].TradeDate.Format(time.DateOnly)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseDay accepts 20240301 and 2024-03-01. Empty means unset.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"20060102", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad date %q, want YYYYMMDD", model.ErrInvalidRange, s)
}

// MarketStatus serves GET /market/{market}/status.
func (h *QuoteHandler) MarketStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.useCase.MarketStatus(r.PathValue("market"))
	if err != nil {
		fail(w, r, h.logger, "failed to get market status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Providers serves GET /providers.
func (h *QuoteHandler) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":      h.useCase.CurrentMode().String(),
		"providers": h.useCase.Providers(),
	})
}

// InvalidateCache serves DELETE /cache/{symbol}.
func (h *QuoteHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if err := h.useCase.Invalidate(r.Context(), symbol); err != nil {
		fail(w, r, h.logger, "failed to invalidate cache", err)
		return
	}
	h.logger.Info("cache invalidated", "symbol", symbol)
	w.WriteHeader(http.StatusNoContent)
}
