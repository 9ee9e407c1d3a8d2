package main

import (
	"context"
	"log/slog"
	"time"

	"quotehub/internal/adapter/provider/akshare"
	"quotehub/internal/adapter/provider/baostock"
	"quotehub/internal/adapter/provider/generator"
	"quotehub/internal/adapter/provider/tushare"
	"quotehub/internal/application/service"
	"quotehub/internal/domain/model"
	"quotehub/internal/domain/port"
	"quotehub/internal/infrastructure/config"
)

// defaultChains is used for markets the config does not list.
var defaultChains = map[model.Market][]string{
	model.AShare: {tushare.Name, akshare.Name, baostock.Name},
	model.HK:     {akshare.Name},
	model.US:     {akshare.Name},
}

func guardConfig(c config.ProviderConfig) service.GuardConfig {
	return service.GuardConfig{
		Timeout:         c.Timeout,
		RateLimit:       c.RateLimit,
		Burst:           c.Burst,
		Retries:         c.Retries,
		BreakerFailures: c.BreakerFailures,
		BreakerTimeout:  c.BreakerTimeout,
	}
}

func reliabilityWeights(cfg *config.Config) map[string]float64 {
	return map[string]float64{
		tushare.Name:   cfg.Providers.Tushare.Reliability,
		akshare.Name:   cfg.Providers.AKShare.Reliability,
		baostock.Name:  cfg.Providers.BaoStock.Reliability,
		generator.Name: 1,
	}
}

// buildLiveChains creates the enabled providers and orders them per market.
// It also returns the providers so they can be closed on shutdown.
func buildLiveChains(ctx context.Context, cfg *config.Config, log *slog.Logger) (service.ChainSpec, []port.QuoteProvider) {
	pc := cfg.Providers
	byName := make(map[string]port.QuoteProvider)
	spec := service.ChainSpec{
		Chains: make(map[model.Market][]port.QuoteProvider),
		Guards: make(map[string]service.GuardConfig),
	}

	if pc.Tushare.Enabled {
		byName[tushare.Name] = tushare.New(tushare.Config{
			BaseURL: pc.Tushare.BaseURL,
			Token:   pc.Tushare.Token,
			Timeout: pc.Tushare.Timeout,
		}, log)
		spec.Guards[tushare.Name] = guardConfig(pc.Tushare.ProviderConfig)
	}
	if pc.AKShare.Enabled {
		byName[akshare.Name] = akshare.New(akshare.Config{
			BaseURL: pc.AKShare.BaseURL,
			Timeout: pc.AKShare.Timeout,
			SpotTTL: pc.AKShare.SpotTTL,
		}, log)
		spec.Guards[akshare.Name] = guardConfig(pc.AKShare.ProviderConfig)
	}
	if pc.BaoStock.Enabled {
		byName[baostock.Name] = baostock.New(baostock.Config{
			Addr:     cfg.BaoStockAddr(),
			User:     pc.BaoStock.User,
			Password: pc.BaoStock.Password,
			Timeout:  pc.BaoStock.Timeout,
		}, log)
		spec.Guards[baostock.Name] = guardConfig(pc.BaoStock.ProviderConfig)
	}

	providers := make([]port.QuoteProvider, 0, len(byName))
	for name, p := range byName {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := p.Connect(cctx); err != nil {
			// sessions are re-established on first use
			log.Warn("provider connect failed", "provider", name, "error", err)
		}
		cancel()
		providers = append(providers, p)
	}

	for _, market := range model.Markets {
		names := defaultChains[market]
		for key, configured := range pc.Chains {
			if m, err := model.ParseMarket(key); err == nil && m == market {
				names = configured
			}
		}
		for _, name := range names {
			p, ok := byName[name]
			if !ok {
				log.Debug("provider in chain is disabled", "market", market, "provider", name)
				continue
			}
			spec.Chains[market] = append(spec.Chains[market], p)
		}
		if len(spec.Chains[market]) == 0 {
			log.Warn("no enabled provider for market", "market", market)
		}
	}
	return spec, providers
}

func buildTestChains(log *slog.Logger) service.ChainSpec {
	gen := generator.New(log)
	spec := service.ChainSpec{Chains: make(map[model.Market][]port.QuoteProvider)}
	for _, m := range model.Markets {
		spec.Chains[m] = []port.QuoteProvider{gen}
	}
	return spec
}
