package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Binance  BinanceConfig  `mapstructure:"binance"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MonitorConfig holds the detection thresholds
type MonitorConfig struct {
	VolumeThreshold float64 `mapstructure:"volume_threshold"`
	MinPriceChange  float64 `mapstructure:"min_price_change"`
	MinQuoteVolume  float64 `mapstructure:"min_quote_volume"`
	SampleSize      int     `mapstructure:"sample_size"`
}

// BinanceConfig holds market data API configuration
type BinanceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	QuoteAsset     string        `mapstructure:"quote_asset"`
	HistoryWindows int           `mapstructure:"history_windows"`
	Concurrency    int           `mapstructure:"concurrency"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	Proxy          ProxyConfig   `mapstructure:"proxy"`
}

// ProxyConfig holds the optional outbound proxy for Telegram
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// ServerConfig holds the HTTP trigger configuration
type ServerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	AuthToken string `mapstructure:"auth_token"`
}

// StorageConfig holds alert journal configuration
type StorageConfig struct {
	DBPath    string        `mapstructure:"db_path"`
	MaxAlerts int           `mapstructure:"max_alerts"`
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override, e.g. SURGEWATCH_TELEGRAM_BOT_TOKEN
	v.SetEnvPrefix("SURGEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Monitor defaults
	v.SetDefault("monitor.volume_threshold", 2.0)
	v.SetDefault("monitor.min_price_change", 5.0)
	v.SetDefault("monitor.min_quote_volume", 100000.0)
	v.SetDefault("monitor.sample_size", 3)

	// Binance defaults
	v.SetDefault("binance.base_url", "https://fapi.binance.com")
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.api_secret", "")
	v.SetDefault("binance.quote_asset", "USDT")
	v.SetDefault("binance.history_windows", 6) // 6 x 5m = 30 minutes
	v.SetDefault("binance.concurrency", 10)
	v.SetDefault("binance.timeout", "30s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.proxy.enabled", false)
	v.SetDefault("telegram.proxy.host", "127.0.0.1")
	v.SetDefault("telegram.proxy.port", 7890)

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.auth_token", "")

	// Storage defaults
	v.SetDefault("storage.db_path", ":memory:")
	v.SetDefault("storage.max_alerts", 10000)
	v.SetDefault("storage.retention", "24h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Monitor config
	if c.Monitor.VolumeThreshold <= 0 {
		return errors.New("monitor.volume_threshold must be positive")
	}
	if c.Monitor.MinPriceChange <= 0 {
		return errors.New("monitor.min_price_change must be positive")
	}
	if c.Monitor.MinQuoteVolume < 0 {
		return errors.New("monitor.min_quote_volume must not be negative")
	}
	if c.Monitor.SampleSize < 0 {
		return errors.New("monitor.sample_size must not be negative")
	}

	// Validate Binance config
	if c.Binance.BaseURL == "" {
		return errors.New("binance.base_url is required")
	}
	if c.Binance.QuoteAsset == "" {
		return errors.New("binance.quote_asset is required")
	}
	if c.Binance.HistoryWindows < 1 {
		return errors.New("binance.history_windows must be at least 1")
	}
	if c.Binance.Concurrency < 1 {
		return errors.New("binance.concurrency must be at least 1")
	}
	if c.Binance.Timeout < time.Second {
		return errors.New("binance.timeout must be at least 1 second")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return errors.New("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return errors.New("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.Proxy.Enabled {
			if c.Telegram.Proxy.Host == "" {
				return errors.New("telegram.proxy.host is required when the proxy is enabled")
			}
			if c.Telegram.Proxy.Port < 1 || c.Telegram.Proxy.Port > 65535 {
				return errors.New("telegram.proxy.port must be between 1 and 65535")
			}
		}
	}

	// Validate Server config
	if c.Server.Enabled {
		if c.Server.Addr == "" {
			return errors.New("server.addr is required when the server is enabled")
		}
		if c.Server.AuthToken == "" {
			return errors.New("server.auth_token is required when the server is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.MaxAlerts < 0 {
		return errors.New("storage.max_alerts must not be negative")
	}
	if c.Storage.Retention < 0 {
		return errors.New("storage.retention must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return errors.New("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return errors.New("logging.format must be one of: json, text")
	}

	return nil
}

// ProxyHost returns the Telegram proxy host, or "" when the proxy is off.
func (c *Config) ProxyHost() string {
	if !c.Telegram.Proxy.Enabled {
		return ""
	}
	return c.Telegram.Proxy.Host
}
