package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
monitor:
  volume_threshold: 2.5
  min_price_change: 4.0
  min_quote_volume: 250000

binance:
  history_windows: 12

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true
  proxy:
    enabled: true
    host: "10.0.0.1"
    port: 3128

server:
  enabled: true
  auth_token: "shared-secret"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Monitor.VolumeThreshold != 2.5 {
		t.Errorf("Unexpected volume threshold: %v", cfg.Monitor.VolumeThreshold)
	}
	if cfg.Monitor.MinQuoteVolume != 250000 {
		t.Errorf("Unexpected min quote volume: %v", cfg.Monitor.MinQuoteVolume)
	}
	if cfg.Binance.HistoryWindows != 12 {
		t.Errorf("Unexpected history windows: %d", cfg.Binance.HistoryWindows)
	}
	if cfg.Binance.Timeout != 30*time.Second {
		t.Errorf("Unexpected default timeout: %v", cfg.Binance.Timeout)
	}
	if cfg.ProxyHost() != "10.0.0.1" || cfg.Telegram.Proxy.Port != 3128 {
		t.Errorf("Unexpected proxy: %s:%d", cfg.ProxyHost(), cfg.Telegram.Proxy.Port)
	}
	if cfg.Storage.DBPath != ":memory:" {
		t.Errorf("Unexpected default db path: %q", cfg.Storage.DBPath)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.VolumeThreshold != 2.0 || cfg.Monitor.MinPriceChange != 5.0 || cfg.Monitor.MinQuoteVolume != 100000 {
		t.Errorf("Unexpected threshold defaults: %+v", cfg.Monitor)
	}
	if cfg.ProxyHost() != "" {
		t.Errorf("Proxy should be disabled by default, got %q", cfg.ProxyHost())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed on defaults: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SURGEWATCH_TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("SURGEWATCH_MONITOR_MIN_PRICE_CHANGE", "7.5")

	cfg, err := Load(writeConfig(t, "telegram:\n  bot_token: from-file\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.BotToken != "from-env" {
		t.Errorf("bot token = %q, want from-env", cfg.Telegram.BotToken)
	}
	if cfg.Monitor.MinPriceChange != 7.5 {
		t.Errorf("min price change = %v, want 7.5", cfg.Monitor.MinPriceChange)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func validConfig() *Config {
	return &Config{
		Monitor: MonitorConfig{VolumeThreshold: 2, MinPriceChange: 5, MinQuoteVolume: 100000, SampleSize: 3},
		Binance: BinanceConfig{
			BaseURL:        "https://fapi.binance.com",
			QuoteAsset:     "USDT",
			HistoryWindows: 6,
			Concurrency:    10,
			Timeout:        30 * time.Second,
		},
		Storage: StorageConfig{DBPath: ":memory:", MaxAlerts: 100, Retention: 24 * time.Hour},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "zero volume threshold", mutate: func(c *Config) { c.Monitor.VolumeThreshold = 0 }, wantErr: true},
		{name: "negative price change", mutate: func(c *Config) { c.Monitor.MinPriceChange = -1 }, wantErr: true},
		{name: "negative quote volume", mutate: func(c *Config) { c.Monitor.MinQuoteVolume = -1 }, wantErr: true},
		{name: "no history windows", mutate: func(c *Config) { c.Binance.HistoryWindows = 0 }, wantErr: true},
		{name: "short timeout", mutate: func(c *Config) { c.Binance.Timeout = time.Millisecond }, wantErr: true},
		{
			name: "missing telegram token when enabled",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, ChatID: "1"}
			},
			wantErr: true,
		},
		{
			name: "proxy without port",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, BotToken: "t", ChatID: "1", Proxy: ProxyConfig{Enabled: true, Host: "h"}}
			},
			wantErr: true,
		},
		{
			name:    "server without auth token",
			mutate:  func(c *Config) { c.Server = ServerConfig{Enabled: true, Addr: ":8080"} },
			wantErr: true,
		},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
