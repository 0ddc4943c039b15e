package model

import (
	"math"
	"time"
)

// Candle is one OHLCV bar for a symbol/timeframe pair at its opening timestamp.
// ID stays zero until the row has been persisted.
type Candle struct {
	ID        int64     `json:"id,omitempty" db:"id"`
	Market    string    `json:"market" db:"market"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Timeframe string    `json:"timeframe" db:"timeframe"`
	Open      float64   `json:"open" db:"open"`
	High      float64   `json:"high" db:"high"`
	Low       float64   `json:"low" db:"low"`
	Close     float64   `json:"close" db:"close"`
	Volume    int64     `json:"volume" db:"volume"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Malformed reports whether the bar's extremes are inconsistent with its body.
func (c Candle) Malformed() bool {
	if c.High < c.Low {
		return true
	}
	return c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close)
}

// CandleFilter narrows a read of stored candles. Zero values are ignored.
type CandleFilter struct {
	Market    string
	Symbols   []string
	Timeframe string
	Start     *time.Time
	End       *time.Time
	Limit     int
}
