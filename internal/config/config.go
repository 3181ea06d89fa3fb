package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"coinpipe/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs collection cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ProvidersConfig wires the market-data sources.
type ProvidersConfig struct {
	// Primary names the collector used for the scheduled pull.
	Primary       string              `mapstructure:"primary"`
	CoinGecko     CoinGeckoConfig     `mapstructure:"coingecko"`
	CoinMarketCap CoinMarketCapConfig `mapstructure:"coinmarketcap"`
	Chainlink     ChainlinkConfig     `mapstructure:"chainlink"`
}

// CoinGeckoConfig captures CoinGecko API connectivity.
type CoinGeckoConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// CoinMarketCapConfig captures the listing feed connectivity.
type CoinMarketCapConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Limit          int           `mapstructure:"limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// ChainlinkConfig covers on-chain price feed access.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// BoundsRange is an inclusive per-symbol price sanity override.
type BoundsRange struct {
	Low  float64 `mapstructure:"low"`
	High float64 `mapstructure:"high"`
}

// PipelineConfig tunes validation and fallback behaviour.
type PipelineConfig struct {
	Symbols             []string               `mapstructure:"symbols"`
	FallbackPrefer      string                 `mapstructure:"fallback_prefer"`
	FallbackTimeout     time.Duration          `mapstructure:"fallback_timeout"`
	FallbackConcurrency int                    `mapstructure:"fallback_concurrency"`
	Bounds              map[string]BoundsRange `mapstructure:"bounds"`
	RiskLevel           string                 `mapstructure:"risk_level"`
}

// AlertingConfig defines data-quality alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram alert channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "coinpipe")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x636f696e))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("providers.primary", "coingecko")
	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.coingecko.request_timeout", "10s")
	v.SetDefault("providers.coingecko.user_agent", "coinpipe/1.0")
	v.SetDefault("providers.coinmarketcap.base_url", "https://api.coinmarketcap.com")
	v.SetDefault("providers.coinmarketcap.limit", 100)
	v.SetDefault("providers.coinmarketcap.request_timeout", "15s")
	v.SetDefault("providers.coinmarketcap.user_agent", "coinpipe/1.0")
	v.SetDefault("providers.chainlink.request_timeout", "10s")

	v.SetDefault("pipeline.symbols", []string{"BTC", "ETH", "SOL", "XRP", "DOGE", "ADA"})
	v.SetDefault("pipeline.fallback_prefer", "coingecko")
	v.SetDefault("pipeline.fallback_timeout", "10s")
	v.SetDefault("pipeline.fallback_concurrency", 4)
	v.SetDefault("pipeline.risk_level", "medium")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.Pipeline.Symbols) == 0 {
		return fmt.Errorf("pipeline.symbols must not be empty")
	}
	switch c.Pipeline.RiskLevel {
	case "low", "medium", "high":
	default:
		return fmt.Errorf("pipeline.risk_level must be one of low, medium, high")
	}
	for symbol, r := range c.Pipeline.Bounds {
		if r.Low <= 0 || r.Low >= r.High {
			return fmt.Errorf("pipeline.bounds.%s: low must be positive and below high", symbol)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
