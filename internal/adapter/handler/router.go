package handler

import "net/http"

type Routes struct {
	Quotes  *QuoteHandler
	Mode    *ModeHandler
	Health  *HealthHandler
	Metrics http.Handler
}

func NewRouter(rt Routes) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /quotes", rt.Quotes.GetQuotes)
	mux.HandleFunc("GET /quotes/{symbol}", rt.Quotes.GetQuote)
	mux.HandleFunc("GET /history/{symbol}", rt.Quotes.GetHistory)
	mux.HandleFunc("GET /market/{market}/status", rt.Quotes.MarketStatus)
	mux.HandleFunc("GET /providers", rt.Quotes.Providers)
	mux.HandleFunc("DELETE /cache/{symbol}", rt.Quotes.InvalidateCache)
	mux.HandleFunc("GET /mode", rt.Mode.Current)
	mux.HandleFunc("POST /mode/test", rt.Mode.SwitchToTest)
	mux.HandleFunc("POST /mode/live", rt.Mode.SwitchToLive)
	mux.HandleFunc("GET /health", rt.Health.Check)
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}
	return mux
}
