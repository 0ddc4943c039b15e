package service

import (
	"math"
	"strings"

	"github.com/yourorg/market-ingest/internal/capture"
	"github.com/yourorg/market-ingest/internal/model"
)

// RootSymbol strips the provider's contract-roll suffix: "ES.v.0" becomes "ES"
func RootSymbol(raw string) string {
	root, _, _ := strings.Cut(raw, ".")
	return root
}

// NormalizeRows maps decoded rows 1:1 onto candles, keeping decode order
func NormalizeRows(rows []capture.Row, market, timeframe string) []model.Candle {
	candles := make([]model.Candle, len(rows))
	for i, row := range rows {
		candles[i] = model.Candle{
			Market:    market,
			Symbol:    RootSymbol(row.Symbol),
			Timeframe: timeframe,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    clampVolume(row.Volume),
			Timestamp: row.TimeIndex.UTC(),
		}
	}
	return candles
}

func clampVolume(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
