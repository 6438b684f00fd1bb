package models

import (
	"fmt"
	"time"
)

// Alert is a detected volume and price surge for one symbol.
type Alert struct {
	ID             string    `json:"id,omitempty"`
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	PriceChangePct float64   `json:"price_change_pct"`
	VolumeRatio    float64   `json:"volume_ratio"`
	QuoteVolume    float64   `json:"quote_volume"`
	DetectedAt     time.Time `json:"detected_at"`
	Delivered      bool      `json:"delivered"`
}

// AlertText holds the display-ready strings of an alert.
type AlertText struct {
	Symbol      string
	Price       string
	PriceChange string
	VolumeRatio string
	QuoteVolume string
}

// Text formats the alert for delivery.
func (a Alert) Text() AlertText {
	return AlertText{
		Symbol:      a.Symbol,
		Price:       fmt.Sprintf("%.4f", a.Price),
		PriceChange: fmt.Sprintf("%.2f", a.PriceChangePct),
		VolumeRatio: fmt.Sprintf("%.2f", a.VolumeRatio),
		QuoteVolume: fmt.Sprintf("%.2f", a.QuoteVolume),
	}
}
