// Package binance fetches per-symbol volume snapshots from Binance USDⓈ-M futures.
package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rewired-gh/surgewatch/internal/logger"
	"github.com/rewired-gh/surgewatch/internal/models"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// KlineInterval is the width of one volume window.
const KlineInterval = "5m"

// ClientConfig holds optional tuning parameters for Client.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	APISecret      string
	QuoteAsset     string
	HistoryWindows int
	Concurrency    int
	Timeout        time.Duration
}

// Client provides snapshots of every futures symbol quoted in QuoteAsset.
type Client struct {
	cli            *futures.Client
	quoteAsset     string
	historyWindows int
	concurrency    int
	now            func() time.Time
}

// NewClient creates a new Binance client.
func NewClient(cfg ClientConfig) *Client {
	cli := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		cli.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		cli.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.HistoryWindows <= 0 {
		cfg.HistoryWindows = 6
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Client{
		cli:            cli,
		quoteAsset:     cfg.QuoteAsset,
		historyWindows: cfg.HistoryWindows,
		concurrency:    cfg.Concurrency,
		now:            time.Now,
	}
}

// Fetch returns one snapshot per symbol. Symbols the exchange rejects come
// back as invalid snapshots; any transport failure fails the whole fetch.
func (c *Client) Fetch(ctx context.Context) ([]models.Snapshot, error) {
	prices, err := c.cli.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}

	prices = lo.Filter(prices, func(p *futures.SymbolPrice, _ int) bool {
		return strings.HasSuffix(p.Symbol, c.quoteAsset)
	})

	snapshots := make([]models.Snapshot, len(prices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, p := range prices {
		g.Go(func() error {
			snap, err := c.fetchSymbol(gctx, p)
			if err != nil {
				return err
			}
			snapshots[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debug("Fetched %d %s symbols from Binance", len(snapshots), c.quoteAsset)
	return snapshots, nil
}

func (c *Client) fetchSymbol(ctx context.Context, p *futures.SymbolPrice) (models.Snapshot, error) {
	snap := models.Snapshot{
		Symbol: p.Symbol,
		Price:  parseFloat(p.Price),
		Time:   c.now(),
	}

	klines, err := c.cli.NewKlinesService().
		Symbol(p.Symbol).
		Interval(KlineInterval).
		Limit(c.historyWindows + 2).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			logger.Debug("Binance rejected klines for %s: %v", p.Symbol, apiErr)
			return snap, nil
		}
		return models.Snapshot{}, fmt.Errorf("failed to fetch klines for %s: %w", p.Symbol, err)
	}

	closed := closedKlines(klines, snap.Time)
	if len(closed) < c.historyWindows+1 {
		return snap, nil
	}
	closed = closed[len(closed)-c.historyWindows-1:]

	current := closed[len(closed)-1]
	snap.Volume = parseFloat(current.Volume)
	snap.QuoteVolume = parseFloat(current.QuoteAssetVolume)
	snap.AvgHistoricalVolume = averageVolume(closed[:len(closed)-1])
	snap.Time = time.UnixMilli(current.CloseTime)
	return snap, nil
}

// closedKlines drops candles that have not closed yet at now.
func closedKlines(klines []*futures.Kline, now time.Time) []*futures.Kline {
	cutoff := now.UnixMilli()
	return lo.Filter(klines, func(k *futures.Kline, _ int) bool {
		return k.CloseTime < cutoff
	})
}

func averageVolume(klines []*futures.Kline) float64 {
	if len(klines) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, k := range klines {
		v, err := decimal.NewFromString(k.Volume)
		if err != nil {
			return math.NaN()
		}
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(klines)))).InexactFloat64()
}

// parseFloat converts an exchange decimal string; unparsable input is NaN.
func parseFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return math.NaN()
	}
	return d.InexactFloat64()
}
