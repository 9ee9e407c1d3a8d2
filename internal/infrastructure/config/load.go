package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"quotehub/internal/domain/model"
)

const envPrefix = "QUOTEHUB"

// Load reads a YAML config file. Environment variables such as QUOTEHUB_SERVER_PORT override it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 600)

	v.SetDefault("postgresql.enabled", false)
	v.SetDefault("postgresql.host", "localhost")
	v.SetDefault("postgresql.port", 5432)
	v.SetDefault("postgresql.sslmode", "disable")
	v.SetDefault("postgresql.max_open_conns", 10)
	v.SetDefault("postgresql.max_idle_conns", 5)
	v.SetDefault("postgresql.conn_max_lifetime", "30m")

	v.SetDefault("cache.intraday_ttl", "10s")
	v.SetDefault("cache.off_hours_ttl", "1h")
	v.SetDefault("cache.historical_ttl", "24h")
	v.SetDefault("cache.memory.enabled", true)
	v.SetDefault("cache.memory.max_size_mb", 64)
	v.SetDefault("cache.memory.max_ttl", "24h")
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.prefix", "quotehub:")
	v.SetDefault("cache.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("cache.mongo.database", "quotehub")
	v.SetDefault("cache.mongo.collection", "quote_cache")

	v.SetDefault("providers.tushare.base_url", "http://api.tushare.pro")
	v.SetDefault("providers.tushare.timeout", "10s")
	v.SetDefault("providers.tushare.rate_limit", 3)
	v.SetDefault("providers.tushare.retries", 2)
	v.SetDefault("providers.tushare.reliability", 0.95)
	v.SetDefault("providers.akshare.base_url", "http://127.0.0.1:8080")
	v.SetDefault("providers.akshare.timeout", "15s")
	v.SetDefault("providers.akshare.rate_limit", 2)
	v.SetDefault("providers.akshare.retries", 2)
	v.SetDefault("providers.akshare.reliability", 0.85)
	v.SetDefault("providers.akshare.spot_ttl", "5s")
	v.SetDefault("providers.baostock.host", "public-api.baostock.com")
	v.SetDefault("providers.baostock.port", 10030)
	v.SetDefault("providers.baostock.user", "anonymous")
	v.SetDefault("providers.baostock.password", "123456")
	v.SetDefault("providers.baostock.timeout", "10s")
	v.SetDefault("providers.baostock.rate_limit", 5)
	v.SetDefault("providers.baostock.retries", 1)
	v.SetDefault("providers.baostock.reliability", 0.9)

	v.SetDefault("kafka.topic", "market.quote")

	v.SetDefault("refresher.interval", "30s")
	v.SetDefault("refresher.workers", 4)
	v.SetDefault("refresher.retention", "168h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "logs/quotehub.log")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", true)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Cache.IntradayTTL <= 0 || c.Cache.OffHoursTTL <= 0 {
		errs = append(errs, errors.New("cache TTLs must be positive"))
	}
	if c.Providers.Tushare.Enabled && c.Providers.Tushare.Token == "" {
		errs = append(errs, errors.New("tushare is enabled but no token is set"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka is enabled but no brokers are set"))
	}
	known := map[string]bool{"tushare": true, "akshare": true, "baostock": true}
	for market, chain := range c.Providers.Chains {
		if _, err := model.ParseMarket(market); err != nil {
			errs = append(errs, fmt.Errorf("providers.chains: %w", err))
		}
		for _, name := range chain {
			if !known[name] {
				errs = append(errs, fmt.Errorf("providers.chains.%s: unknown provider %q", market, name))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgreSQL.Host, c.PostgreSQL.Port, c.PostgreSQL.User,
		c.PostgreSQL.Password, c.PostgreSQL.Database, c.PostgreSQL.SSLMode,
	)
}

func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.Cache.Redis.Host, strconv.Itoa(c.Cache.Redis.Port))
}

func (c *Config) BaoStockAddr() string {
	return net.JoinHostPort(c.Providers.BaoStock.Host, strconv.Itoa(c.Providers.BaoStock.Port))
}
