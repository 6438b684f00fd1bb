package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/rewired-gh/surgewatch/internal/baseline"
	"github.com/rewired-gh/surgewatch/internal/binance"
	"github.com/rewired-gh/surgewatch/internal/config"
	"github.com/rewired-gh/surgewatch/internal/logger"
	"github.com/rewired-gh/surgewatch/internal/monitor"
	"github.com/rewired-gh/surgewatch/internal/scheduler"
	"github.com/rewired-gh/surgewatch/internal/server"
	"github.com/rewired-gh/surgewatch/internal/storage"
	"github.com/rewired-gh/surgewatch/internal/telegram"
)

var (
	configPath   = pflag.StringP("config", "c", "configs/config.yaml", "Path to configuration file")
	triggerOnly  = pflag.Bool("trigger-only", false, "Serve the HTTP trigger without the internal scheduler")
	testTelegram = pflag.Bool("test-telegram", false, "Send a Telegram test message and exit")
)

func main() {
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(telegram.Options{
			BotToken:       cfg.Telegram.BotToken,
			ChatID:         cfg.Telegram.ChatID,
			MaxRetries:     cfg.Telegram.MaxRetries,
			RetryDelayBase: cfg.Telegram.RetryDelayBase,
			ProxyHost:      cfg.ProxyHost(),
			ProxyPort:      cfg.Telegram.Proxy.Port,
		})
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if *testTelegram {
		if telegramClient == nil {
			logger.Fatal("Telegram is disabled; enable it to send a test message")
		}
		if err := telegramClient.SendTest(time.Now()); err != nil {
			logger.Fatal("Failed to send test message: %v", err)
		}
		logger.Info("Test message sent")
		return
	}

	store, err := storage.New(cfg.Storage.MaxAlerts, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize alert journal: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close alert journal: %v", err)
		}
	}()

	provider := binance.NewClient(binance.ClientConfig{
		BaseURL:        cfg.Binance.BaseURL,
		APIKey:         cfg.Binance.APIKey,
		APISecret:      cfg.Binance.APISecret,
		QuoteAsset:     cfg.Binance.QuoteAsset,
		HistoryWindows: cfg.Binance.HistoryWindows,
		Concurrency:    cfg.Binance.Concurrency,
		Timeout:        cfg.Binance.Timeout,
	})

	opts := []monitor.Option{monitor.WithJournal(store)}
	if telegramClient != nil {
		opts = append(opts, monitor.WithNotifier(telegramClient))
	}
	mon := monitor.New(provider, baseline.New(), monitor.Config{
		VolumeThreshold:  cfg.Monitor.VolumeThreshold,
		MinPriceChange:   cfg.Monitor.MinPriceChange,
		MinQuoteVolume:   cfg.Monitor.MinQuoteVolume,
		SampleSize:       cfg.Monitor.SampleSize,
		JournalRetention: cfg.Storage.Retention,
	}, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	logger.Info("Seeding baseline from %s", cfg.Binance.BaseURL)
	if err := mon.Seed(ctx); err != nil {
		logger.Fatal("Initialization failed: %v", err)
	}

	if telegramClient != nil {
		telegramClient.SetStatusFunc(func() string { return statusText(mon) })
		telegramClient.ListenForCommands(ctx)
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server.Addr, cfg.Server.AuthToken, mon, store)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("HTTP server failed: %v", err)
				cancel()
			}
		}()
	}

	if *triggerOnly {
		if srv == nil {
			logger.Fatal("--trigger-only requires server.enabled")
		}
		logger.Info("Running in trigger-only mode")
		<-ctx.Done()
	} else {
		logger.Info("Starting monitoring service (volume_ratio>=%.2f, price_change>=%.2f%%, quote_volume>=%.0f)",
			cfg.Monitor.VolumeThreshold, cfg.Monitor.MinPriceChange, cfg.Monitor.MinQuoteVolume)
		scheduler.New().Run(ctx, newCycle(mon, telegramClient))
	}

	if srv != nil {
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shut down HTTP server: %v", err)
		}
	}
	logger.Info("Service stopped")
}

// newCycle wraps one poll with the consecutive-failure notices.
func newCycle(mon *monitor.Monitor, telegramClient *telegram.Client) scheduler.PollFunc {
	consecutiveFailures := 0

	return func(ctx context.Context) error {
		_, err := mon.Poll(ctx)
		if err != nil {
			consecutiveFailures++
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return err
		}
		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
		return nil
	}
}

func statusText(mon *monitor.Monitor) string {
	var b strings.Builder
	last := mon.LastReport()
	fmt.Fprintf(&b, "Tracking %d symbols\n", mon.Tracked())
	if !last.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Last poll: %s (%d/%d valid, %d alerts)\n",
			last.StartedAt.Format("2006-01-02 15:04:05"), last.Valid, last.Total, len(last.Alerts))
	}
	for i, s := range mon.Sample() {
		fmt.Fprintf(&b, "%d. %s volume %.2f / avg %.2f (%.2fx), price %g, quote %.2f\n",
			i+1, s.Symbol, s.Volume, s.AvgHistoricalVolume, s.VolumeRatio(), s.Price, s.QuoteVolume)
	}
	return b.String()
}
