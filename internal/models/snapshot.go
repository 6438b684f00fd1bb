// Package models defines the core domain entities: per-symbol snapshots and alerts.
package models

import (
	"errors"
	"math"
	"time"
)

// Snapshot is one symbol's measurement set for a single poll.
// Volume is the current window in base-asset units; AvgHistoricalVolume is the
// mean over the preceding windows in the same units.
type Snapshot struct {
	Symbol              string    `json:"symbol"`
	Price               float64   `json:"price"`
	Volume              float64   `json:"volume"`
	AvgHistoricalVolume float64   `json:"avg_historical_volume"`
	QuoteVolume         float64   `json:"quote_volume"`
	Time                time.Time `json:"time"`
}

// Validate checks snapshot field constraints. Missing numbers are zero and
// unparsable ones are NaN, so both fail here.
func (s *Snapshot) Validate() error {
	if s.Symbol == "" {
		return errors.New("symbol must not be empty")
	}
	if !positive(s.Price) {
		return errors.New("price must be a positive number")
	}
	if !positive(s.Volume) {
		return errors.New("volume must be a positive number")
	}
	if !positive(s.AvgHistoricalVolume) {
		return errors.New("average historical volume must be a positive number")
	}
	if !positive(s.QuoteVolume) {
		return errors.New("quote volume must be a positive number")
	}
	return nil
}

// VolumeRatio returns the current window volume over the historical average.
func (s *Snapshot) VolumeRatio() float64 {
	return s.Volume / s.AvgHistoricalVolume
}

func positive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
