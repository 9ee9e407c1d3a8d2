package config

import "time"

type Config struct {
	Server struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		// RateLimit is requests per minute per client; 0 disables it.
		RateLimit int `mapstructure:"rate_limit"`
	} `mapstructure:"server"`

	PostgreSQL struct {
		Enabled         bool          `mapstructure:"enabled"`
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		User            string        `mapstructure:"user"`
		Password        string        `mapstructure:"password"`
		Database        string        `mapstructure:"database"`
		SSLMode         string        `mapstructure:"sslmode"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	} `mapstructure:"postgresql"`

	Cache struct {
		IntradayTTL   time.Duration `mapstructure:"intraday_ttl"`
		OffHoursTTL   time.Duration `mapstructure:"off_hours_ttl"`
		HistoricalTTL time.Duration `mapstructure:"historical_ttl"`

		Memory struct {
			Enabled   bool          `mapstructure:"enabled"`
			MaxSizeMB int           `mapstructure:"max_size_mb"`
			MaxTTL    time.Duration `mapstructure:"max_ttl"`
		} `mapstructure:"memory"`

		Redis struct {
			Enabled  bool   `mapstructure:"enabled"`
			Host     string `mapstructure:"host"`
			Port     int    `mapstructure:"port"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			PoolSize int    `mapstructure:"pool_size"`
			Prefix   string `mapstructure:"prefix"`
		} `mapstructure:"redis"`

		Mongo struct {
			Enabled    bool   `mapstructure:"enabled"`
			URI        string `mapstructure:"uri"`
			Database   string `mapstructure:"database"`
			Collection string `mapstructure:"collection"`
		} `mapstructure:"mongo"`
	} `mapstructure:"cache"`

	Providers struct {
		Tushare  TushareConfig  `mapstructure:"tushare"`
		AKShare  AKShareConfig  `mapstructure:"akshare"`
		BaoStock BaoStockConfig `mapstructure:"baostock"`
		// Chains maps a market name to provider names in fallback order.
		Chains map[string][]string `mapstructure:"chains"`
	} `mapstructure:"providers"`

	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	Calendar struct {
		File string `mapstructure:"file"`
	} `mapstructure:"calendar"`

	Refresher struct {
		Enabled   bool          `mapstructure:"enabled"`
		Interval  time.Duration `mapstructure:"interval"`
		Workers   int           `mapstructure:"workers"`
		Watchlist []string      `mapstructure:"watchlist"`
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"refresher"`

	Logging struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		Output     string `mapstructure:"output"`
		FilePath   string `mapstructure:"file_path"`
		MaxSize    int    `mapstructure:"max_size"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAge     int    `mapstructure:"max_age"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"logging"`
}

// ProviderConfig holds the knobs every provider shares.
type ProviderConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is calls per second; Burst defaults to 1.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
	Retries   int     `mapstructure:"retries"`
	// Reliability is the static weight used in quality scoring.
	Reliability float64 `mapstructure:"reliability"`
	// BreakerFailures consecutive failures open the circuit for BreakerTimeout.
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type TushareConfig struct {
	ProviderConfig `mapstructure:",squash"`
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
}

type AKShareConfig struct {
	ProviderConfig `mapstructure:",squash"`
	BaseURL        string        `mapstructure:"base_url"`
	SpotTTL        time.Duration `mapstructure:"spot_ttl"`
}

type BaoStockConfig struct {
	ProviderConfig `mapstructure:",squash"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
}
