package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis_rate/v10"

	"quotehub/internal/adapter/cache"
	"quotehub/internal/adapter/calendar"
	"quotehub/internal/adapter/handler"
	"quotehub/internal/adapter/publisher"
	"quotehub/internal/adapter/storage"
	"quotehub/internal/application/service"
	"quotehub/internal/application/usecase"
	"quotehub/internal/domain/model"
	"quotehub/internal/domain/port"
	"quotehub/internal/infrastructure/config"
	"quotehub/internal/infrastructure/logger"
	"quotehub/internal/infrastructure/metrics"
	"quotehub/internal/infrastructure/server"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to the config file")
	portFlag   = flag.Int("port", 0, "Port number (overrides the config)")
	helpFlag   = flag.Bool("help", false, "Show help")
)

type App struct {
	config    *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	server    *server.Server
	storage   port.StoragePort
	cache     *cache.Tiered
	redis     *cache.RedisAdapter
	publisher port.QuotePublisher
	manager   *service.Manager
	refresher *service.Refresher
	providers []port.QuoteProvider
}

func main() {
	flag.Parse()

	if *helpFlag {
		printUsage()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *portFlag != 0 {
		cfg.Server.Port = *portFlag
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	log.Info("starting quotehub", "version", "1.0.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &App{config: cfg, logger: log, metrics: metrics.New()}
	if err := app.init(ctx); err != nil {
		log.Error("failed to start", "error", err)
		app.close()
		os.Exit(1)
	}

	go func() {
		if err := app.server.Start(); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	if app.refresher != nil {
		app.refresher.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down gracefully")
	cancel()
	app.shutdown()
}

func (a *App) init(ctx context.Context) error {
	cfg := a.config

	if err := a.initStorage(ctx); err != nil {
		return err
	}
	if err := a.initCache(ctx); err != nil {
		return err
	}
	a.initPublisher()

	cal := calendar.Empty()
	if cfg.Calendar.File != "" {
		loaded, err := calendar.Load(cfg.Calendar.File)
		if err != nil {
			a.logger.Warn("failed to load holiday calendar, weekends only", "file", cfg.Calendar.File, "error", err)
		} else {
			cal = loaded
			a.logger.Info("holiday calendar loaded", "file", cfg.Calendar.File,
				"a_share", cal.Count(model.AShare), "hk", cal.Count(model.HK), "us", cal.Count(model.US))
		}
	}

	clock := service.NewMarketClock(cal, service.TTLConfig{
		Intraday:   cfg.Cache.IntradayTTL,
		OffHours:   cfg.Cache.OffHoursTTL,
		Historical: cfg.Cache.HistoricalTTL,
	})
	health := service.NewHealthTracker(reliabilityWeights(cfg))
	modeService := service.NewModeService(a.logger)

	manager := service.NewManager(service.ManagerDeps{
		Cache:     a.cache,
		Storage:   a.storage,
		Publisher: a.publisher,
		Clock:     clock,
		Scorer:    service.NewQualityScorer(clock, health),
		Health:    health,
		Mode:      modeService,
		Recorder:  a.metrics,
		Logger:    a.logger,
	})
	a.manager = manager

	live, providers := buildLiveChains(ctx, cfg, a.logger)
	a.providers = providers
	test := buildTestChains(a.logger)
	manager.UseProviders(live)
	modeService.OnChange(func(_ context.Context, _, to model.DataMode) error {
		if to == model.TestMode {
			manager.UseProviders(test)
		} else {
			manager.UseProviders(live)
		}
		return nil
	})

	uc := usecase.NewQuoteUseCase(manager, clock, modeService)
	mux := handler.NewRouter(handler.Routes{
		Quotes:  handler.NewQuoteHandler(uc, a.logger),
		Mode:    handler.NewModeHandler(uc, a.logger),
		Health:  handler.NewHealthHandler(a.storage, a.cache.Tiers(), a.logger),
		Metrics: a.metrics.Handler(),
	})

	mws := []handler.Middleware{handler.RequestID, handler.Logging(a.logger, a.metrics), handler.Recovery(a.logger)}
	if a.redis != nil && cfg.Server.RateLimit > 0 {
		mws = append(mws, handler.RateLimit(redis_rate.NewLimiter(a.redis.Client()), cfg.Server.RateLimit, a.logger))
		a.logger.Info("rate limiting enabled", "per_minute", cfg.Server.RateLimit)
	}
	a.server = server.NewServer(server.Options{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, handler.Chain(mux, mws...), a.logger)
	if err := a.server.Listen(); err != nil {
		return err
	}

	if cfg.Refresher.Enabled && len(cfg.Refresher.Watchlist) > 0 {
		a.refresher = service.NewRefresher(manager, a.storage, clock, service.RefresherConfig{
			Interval:  cfg.Refresher.Interval,
			Workers:   cfg.Refresher.Workers,
			Retention: cfg.Refresher.Retention,
		}, a.logger)
		a.refresher.SetWatchlist(cfg.Refresher.Watchlist)
	}
	return nil
}

func (a *App) initStorage(ctx context.Context) error {
	cfg := a.config.PostgreSQL
	if !cfg.Enabled {
		a.logger.Warn("postgresql disabled, snapshots are not stored")
		a.storage = storage.Nop{}
		return nil
	}

	pg, err := storage.NewPostgresAdapter(a.config.PostgresDSN(), storage.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}
	a.storage = pg

	if err := pg.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// initCache builds the tiers in order. Redis and Mongo are optional: a tier that cannot connect is skipped.
func (a *App) initCache(ctx context.Context) error {
	cfg := a.config.Cache
	var tiers []port.CacheTier

	if cfg.Memory.Enabled {
		mem, err := cache.NewMemoryAdapter(ctx, cfg.Memory.MaxTTL, cfg.Memory.MaxSizeMB)
		if err != nil {
			return err
		}
		tiers = append(tiers, mem)
	}

	if cfg.Redis.Enabled {
		r, err := cache.NewRedisAdapter(a.config.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Redis.Prefix)
		if err != nil {
			a.logger.Error("redis tier unavailable, continuing without it", "error", err)
		} else {
			a.redis = r
			tiers = append(tiers, r)
		}
	}

	if cfg.Mongo.Enabled {
		mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		m, err := cache.NewMongoAdapter(mctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		cancel()
		if err != nil {
			a.logger.Error("mongo tier unavailable, continuing without it", "error", err)
		} else {
			tiers = append(tiers, m)
		}
	}

	names := make([]string, len(tiers))
	for i, t := range tiers {
		names[i] = string(t.Tier())
	}
	a.logger.Info("cache tiers ready", "tiers", names)
	a.cache = cache.NewTiered(tiers, a.metrics, a.logger)
	return nil
}

func (a *App) initPublisher() {
	cfg := a.config.Kafka
	if !cfg.Enabled {
		a.publisher = publisher.Nop{}
		return
	}
	a.publisher = publisher.NewKafkaPublisher(cfg.Brokers, cfg.Topic, a.logger)
	a.logger.Info("publishing quotes to kafka", "brokers", cfg.Brokers, "topic", cfg.Topic)
}

func (a *App) shutdown() {
	if a.refresher != nil {
		a.refresher.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown error", "error", err)
	}

	a.close()
	a.logger.Info("shutdown complete")
}

func (a *App) close() {
	// queued snapshots go out before the publisher and storage close
	if a.manager != nil {
		a.manager.Close()
	}
	for _, p := range a.providers {
		if err := p.Close(); err != nil {
			a.logger.Error("failed to close provider", "provider", p.Name(), "error", err)
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("failed to close publisher", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close cache", "error", err)
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Error("failed to close storage", "error", err)
		}
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  quotehub [--config <path>] [--port <N>]")
	fmt.Println("  quotehub --help")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config PATH  Config file (default configs/config.yaml)")
	fmt.Println("  --port N       Port number")
}
