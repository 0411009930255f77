package storage

import (
	"context"
	"time"
)

// Store persists candles and trades. The pipeline writes fire-and-forget:
// implementations own their error handling and a failed write must never
// surface back into candle production.
type Store interface {
	SaveCandle(ctx context.Context, record *CandleRecord) error
	SaveTrade(ctx context.Context, record *TradeRecord) error
	DeleteCandlesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteTradesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
