package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	App       AppConfig
	Log       LogConfig
	Download  DownloadConfig
	Discovery DiscoveryConfig
	Metrics   MetricsConfig
	Database  DatabaseConfig
	Exchanges map[string]ExchangeConfig
	Tickers   []TickerConfig
}

// AppConfig holds the application identity printed at start-up.
type AppConfig struct {
	Name    string
	Version string
}

// LogConfig defines the log level ("debug", "info", "warn", "error").
type LogConfig struct {
	Level string
}

// DownloadConfig defines the settings of the shared download service.
type DownloadConfig struct {
	Concurrency int64
	Timeout     time.Duration
	UserAgent   string `mapstructure:"user_agent"`
	MaxBodyMB   int64  `mapstructure:"max_body_mb"`
}

// DiscoveryConfig defines asset discovery settings.
type DiscoveryConfig struct {
	Timeout time.Duration
	OnStart bool `mapstructure:"on_start"`
}

// MetricsConfig defines where the Prometheus handler listens. Empty disables it.
type MetricsConfig struct {
	Addr string
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// ConnString returns the pgx connection string for the database.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// ExchangeConfig defines settings for a specific exchange.
type ExchangeConfig struct {
	Enabled bool
	BaseURL string `mapstructure:"base_url"`
	WSURL   string `mapstructure:"ws_url"`
}

// TickerConfig defines one price ticker.
type TickerConfig struct {
	Exchange     string
	AssetPair    string `mapstructure:"asset_pair"`
	Refresh      time.Duration
	DefaultLabel string `mapstructure:"default_label"`
	Stream       bool
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err = v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	if err != nil {
		return
	}

	err = config.Validate()
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "Coin Price Indicator")
	v.SetDefault("app.version", "dev")
	v.SetDefault("log.level", "info")
	v.SetDefault("download.concurrency", 8)
	v.SetDefault("download.timeout", "10s")
	v.SetDefault("download.user_agent", "coin-price-indicator")
	v.SetDefault("download.max_body_mb", 16)
	v.SetDefault("discovery.timeout", "60s")
	v.SetDefault("discovery.on_start", false)
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("exchanges.kraken.enabled", true)
	v.SetDefault("exchanges.binance.enabled", true)
}

// Validate checks the values viper could not check for us.
func (c *Config) Validate() error {
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be positive, got %d", c.Download.Concurrency)
	}
	if c.Download.Timeout <= 0 {
		return fmt.Errorf("download.timeout must be positive, got %s", c.Download.Timeout)
	}
	if c.Discovery.Timeout <= 0 {
		return fmt.Errorf("discovery.timeout must be positive, got %s", c.Discovery.Timeout)
	}
	for i, t := range c.Tickers {
		if t.Exchange == "" || t.AssetPair == "" {
			return fmt.Errorf("ticker %d: exchange and asset_pair are required", i)
		}
		if t.Refresh <= 0 {
			return fmt.Errorf("ticker %d: refresh must be positive, got %s", i, t.Refresh)
		}
	}
	return nil
}
