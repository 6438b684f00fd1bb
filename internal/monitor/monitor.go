// Package monitor implements the detection engine: one poll fetches
// snapshots, flags volume and price surges against each symbol's baseline,
// dispatches alerts and prunes stale baselines.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/surgewatch/internal/baseline"
	"github.com/rewired-gh/surgewatch/internal/logger"
	"github.com/rewired-gh/surgewatch/internal/models"
)

// Provider returns the current snapshot of every tracked symbol.
type Provider interface {
	Fetch(ctx context.Context) ([]models.Snapshot, error)
}

// Notifier delivers one alert.
type Notifier interface {
	SendAlert(ctx context.Context, alert models.Alert) error
}

// Journal records detected alerts.
type Journal interface {
	RecordAlert(alert *models.Alert) error
	MarkDelivered(id string) error
	PruneAlerts(before time.Time) (int64, error)
}

type Config struct {
	VolumeThreshold  float64 // current/average volume ratio, e.g. 2.0
	MinPriceChange   float64 // percentage points, e.g. 5.0
	MinQuoteVolume   float64 // quote-asset turnover floor
	SampleSize       int
	JournalRetention time.Duration
}

func DefaultConfig() Config {
	return Config{
		VolumeThreshold:  2.0,
		MinPriceChange:   5.0,
		MinQuoteVolume:   100000,
		SampleSize:       3,
		JournalRetention: 24 * time.Hour,
	}
}

// Report summarizes one poll.
type Report struct {
	Skipped   bool              `json:"skipped"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Total     int               `json:"total"`
	Valid     int               `json:"valid"`
	Alerts    []models.Alert    `json:"alerts"`
	Delivered int               `json:"delivered"`
	Pruned    int               `json:"pruned"`
	Tracked   int               `json:"tracked"`
	Sample    []models.Snapshot `json:"sample"`
}

type logNotifier struct{}

func (logNotifier) SendAlert(ctx context.Context, alert models.Alert) error {
	t := alert.Text()
	logger.Info("Surge alert (no notifier configured): %s price=%s change=%s%% volume=%sx quote=%s",
		t.Symbol, t.Price, t.PriceChange, t.VolumeRatio, t.QuoteVolume)
	return nil
}

type Option func(m *Monitor)

// WithNotifier sets the alert destination. The default only logs.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) {
		m.notifier = n
	}
}

// WithJournal records every detected alert.
func WithJournal(j Journal) Option {
	return func(m *Monitor) {
		m.journal = j
	}
}

// WithClock overrides the wall clock used for pruning and timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

type Monitor struct {
	provider Provider
	notifier Notifier
	journal  Journal
	store    *baseline.Store
	config   Config
	now      func() time.Time

	busy atomic.Bool

	mu         sync.Mutex
	sample     []models.Snapshot
	lastReport Report
}

// New creates a Monitor over store. The store must not be shared with any
// other writer.
func New(provider Provider, store *baseline.Store, config Config, opts ...Option) *Monitor {
	m := &Monitor{
		provider: provider,
		notifier: logNotifier{},
		store:    store,
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	logger.Info("Monitor thresholds: volume_ratio>=%.2f price_change>=%.2f%% quote_volume>=%.2f",
		config.VolumeThreshold, config.MinPriceChange, config.MinQuoteVolume)
	return m
}

// Seed records the first baseline for every valid snapshot.
func (m *Monitor) Seed(ctx context.Context) error {
	snapshots, err := m.provider.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch initial snapshots: %w", err)
	}
	valid := filterValid(snapshots)
	for _, s := range valid {
		m.store.Put(s.Symbol, baseline.Entry{Price: s.Price, Time: s.Time})
	}
	logger.Info("Baseline seeded: tracking %d of %d symbols", len(valid), len(snapshots))
	return nil
}

// Poll runs one detection cycle. A call made while another is running
// returns a skipped report without fetching.
func (m *Monitor) Poll(ctx context.Context) (Report, error) {
	if !m.busy.CompareAndSwap(false, true) {
		logger.Warn("Previous poll still running, skipping this one")
		return Report{Skipped: true}, nil
	}
	defer m.busy.Store(false)

	start := m.now()
	report := Report{StartedAt: start, Alerts: []models.Alert{}}
	logger.Info("Starting poll")

	snapshots, err := m.provider.Fetch(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to fetch snapshots: %w", err)
	}

	valid := filterValid(snapshots)
	report.Total = len(snapshots)
	report.Valid = len(valid)
	report.Sample = m.captureSample(valid)
	logger.Info("Fetched %d symbols, %d valid", report.Total, report.Valid)

	for _, s := range valid {
		alert, ok := m.classify(s)
		if ok {
			if m.dispatch(ctx, &alert) {
				report.Delivered++
			}
			report.Alerts = append(report.Alerts, alert)
		}
		m.store.Put(s.Symbol, baseline.Entry{Price: s.Price, Time: s.Time})
	}

	now := m.now()
	report.Pruned = m.store.Prune(now)
	report.Tracked = m.store.Len()
	m.pruneJournal(now)

	report.Duration = now.Sub(start)
	logger.Info("Poll completed in %v: %d alerts (%d delivered), %d tracked, %d pruned",
		report.Duration, len(report.Alerts), report.Delivered, report.Tracked, report.Pruned)
	m.logSample(report.Sample)

	m.mu.Lock()
	m.lastReport = report
	m.mu.Unlock()

	return report, nil
}

// classify decides whether s is a surge. A symbol seen for the first time
// gets its baseline here and never alerts.
func (m *Monitor) classify(s models.Snapshot) (models.Alert, bool) {
	ratio := s.VolumeRatio()
	if ratio < m.config.VolumeThreshold || s.QuoteVolume < m.config.MinQuoteVolume {
		return models.Alert{}, false
	}

	prev, ok := m.store.Get(s.Symbol)
	if !ok {
		m.store.Put(s.Symbol, baseline.Entry{Price: s.Price, Time: s.Time})
		logger.Debug("First sighting of %s with volume ratio %.2f, baseline recorded", s.Symbol, ratio)
		return models.Alert{}, false
	}

	change := (s.Price - prev.Price) / prev.Price * 100
	if change < m.config.MinPriceChange {
		return models.Alert{}, false
	}

	return models.Alert{
		Symbol:         s.Symbol,
		Price:          s.Price,
		PriceChangePct: change,
		VolumeRatio:    ratio,
		QuoteVolume:    s.QuoteVolume,
		DetectedAt:     m.now(),
	}, true
}

// dispatch journals and delivers alert, reporting whether delivery succeeded.
// Failures are logged only.
func (m *Monitor) dispatch(ctx context.Context, alert *models.Alert) bool {
	logger.Info("Surge detected: %s price=%.4f change=%.2f%% volume_ratio=%.2f quote_volume=%.2f",
		alert.Symbol, alert.Price, alert.PriceChangePct, alert.VolumeRatio, alert.QuoteVolume)

	if m.journal != nil {
		if err := m.journal.RecordAlert(alert); err != nil {
			logger.Warn("Failed to journal alert for %s: %v", alert.Symbol, err)
		}
	}

	if err := m.notifier.SendAlert(ctx, *alert); err != nil {
		logger.Error("Failed to deliver alert for %s: %v", alert.Symbol, err)
		return false
	}
	alert.Delivered = true

	if m.journal != nil && alert.ID != "" {
		if err := m.journal.MarkDelivered(alert.ID); err != nil {
			logger.Warn("Failed to mark alert %s delivered: %v", alert.ID, err)
		}
	}
	return true
}

func (m *Monitor) pruneJournal(now time.Time) {
	if m.journal == nil || m.config.JournalRetention <= 0 {
		return
	}
	n, err := m.journal.PruneAlerts(now.Add(-m.config.JournalRetention))
	if err != nil {
		logger.Warn("Failed to prune alert journal: %v", err)
		return
	}
	if n > 0 {
		logger.Debug("Pruned %d journaled alerts", n)
	}
}

func (m *Monitor) captureSample(valid []models.Snapshot) []models.Snapshot {
	n := min(m.config.SampleSize, len(valid))
	sample := make([]models.Snapshot, n)
	copy(sample, valid[:n])

	m.mu.Lock()
	m.sample = sample
	m.mu.Unlock()
	return sample
}

func (m *Monitor) logSample(sample []models.Snapshot) {
	for i, s := range sample {
		logger.Debug("Sample %d. %s volume=%.2f avg_volume=%.2f ratio=%.2f price=%g quote_volume=%.2f",
			i+1, s.Symbol, s.Volume, s.AvgHistoricalVolume, s.VolumeRatio(), s.Price, s.QuoteVolume)
	}
}

// Sample returns the diagnostic sample captured by the latest poll.
func (m *Monitor) Sample() []models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Snapshot, len(m.sample))
	copy(out, m.sample)
	return out
}

// LastReport returns the report of the latest completed poll.
func (m *Monitor) LastReport() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

// Tracked returns the number of symbols with a baseline.
func (m *Monitor) Tracked() int {
	return m.store.Len()
}

// Busy reports whether a poll is in flight.
func (m *Monitor) Busy() bool {
	return m.busy.Load()
}

func filterValid(snapshots []models.Snapshot) []models.Snapshot {
	valid := make([]models.Snapshot, 0, len(snapshots))
	for i := range snapshots {
		if snapshots[i].Validate() == nil {
			valid = append(valid, snapshots[i])
		}
	}
	return valid
}
