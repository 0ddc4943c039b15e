package capture

import (
	"context"
	"time"
)

// Row is one decoded OHLCV bar as it appears in a capture file
type Row struct {
	TimeIndex time.Time
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    uint64
}

// Decoder turns a capture file into its rows in file order
type Decoder interface {
	Decode(ctx context.Context, path string) ([]Row, error)
}
