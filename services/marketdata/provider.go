package marketdata

import (
	"context"
	"time"
)

// Bar is one OHLCV observation from the market-data provider
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Provider fetches recent bars for a symbol. Implementations return the
// bars in chronological order; an empty slice and an error are treated
// identically by the polling loop (log, skip, retry next cycle).
type Provider interface {
	FetchLatestBars(ctx context.Context, symbol, interval, rng string) ([]Bar, error)
}
