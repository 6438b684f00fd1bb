// Package storage provides a SQLite-backed journal of dispatched alerts.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/surgewatch/internal/models"
	_ "modernc.org/sqlite"
)

// MemoryDSN keeps the journal in process memory only.
const MemoryDSN = ":memory:"

// ErrNotFound is returned when an alert ID is not present in the journal.
var ErrNotFound = errors.New("alert not found")

// Storage wraps a SQLite database holding the alert journal.
type Storage struct {
	db        *sql.DB
	maxAlerts int
}

// New opens or creates the journal database at dbPath.
// An empty dbPath or MemoryDSN keeps everything in memory.
func New(maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = MemoryDSN
	}
	if dbPath != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps one shared :memory: database
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id               TEXT PRIMARY KEY,
			symbol           TEXT NOT NULL,
			price            REAL NOT NULL,
			price_change_pct REAL NOT NULL,
			volume_ratio     REAL NOT NULL,
			quote_volume     REAL NOT NULL,
			detected_at      INTEGER NOT NULL,
			delivered        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordAlert inserts alert and assigns it a fresh ID. The journal is then
// trimmed to the newest maxAlerts rows.
func (s *Storage) RecordAlert(alert *models.Alert) error {
	if alert.Symbol == "" {
		return errors.New("invalid alert: symbol must not be empty")
	}
	alert.ID = uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO alerts
			(id, symbol, price, price_change_pct, volume_ratio, quote_volume, detected_at, delivered)
		VALUES (?,?,?,?,?,?,?,?)`,
		alert.ID, alert.Symbol, alert.Price, alert.PriceChangePct, alert.VolumeRatio,
		alert.QuoteVolume, alert.DetectedAt.UnixNano(), boolToInt(alert.Delivered),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if s.maxAlerts > 0 {
		if _, err = tx.Exec(`
			DELETE FROM alerts WHERE id NOT IN (
				SELECT id FROM alerts ORDER BY detected_at DESC LIMIT ?
			)`, s.maxAlerts); err != nil {
			return fmt.Errorf("failed to trim alerts: %w", err)
		}
	}

	return tx.Commit()
}

// MarkDelivered flags a journaled alert as delivered.
func (s *Storage) MarkDelivered(id string) error {
	res, err := s.db.Exec(`UPDATE alerts SET delivered = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAlert returns one journaled alert by ID.
func (s *Storage) GetAlert(id string) (*models.Alert, error) {
	row := s.db.QueryRow(`SELECT `+alertCols+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Storage) RecentAlerts(limit int) ([]models.Alert, error) {
	rows, err := s.db.Query(`SELECT `+alertCols+` FROM alerts ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// PruneAlerts deletes alerts detected before the given instant.
func (s *Storage) PruneAlerts(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM alerts WHERE detected_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	return res.RowsAffected()
}

const alertCols = `id, symbol, price, price_change_pct, volume_ratio, quote_volume, detected_at, delivered`

func scanAlert(scan func(...any) error) (*models.Alert, error) {
	var a models.Alert
	var detectedAtNano int64
	var delivered int
	err := scan(
		&a.ID, &a.Symbol, &a.Price, &a.PriceChangePct, &a.VolumeRatio, &a.QuoteVolume,
		&detectedAtNano, &delivered,
	)
	if err != nil {
		return nil, err
	}
	a.DetectedAt = time.Unix(0, detectedAtNano)
	a.Delivered = delivered != 0
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
