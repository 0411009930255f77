package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a single execution received from a venue. The ID is the
// venue-assigned identifier and is treated as opaque.
type Trade struct {
	ID     string          `json:"id"`
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Time   time.Time       `json:"time"`
}

// Candle is a completed aggregate over one interval-aligned time bucket.
// Vwp is the volume-weighted price over the bucket; for a bucket with no
// trades it carries the previous close.
type Candle struct {
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	Vwp    decimal.Decimal `json:"vwp"`
	Trades int64           `json:"trades"`
}

// Empty reports whether the candle was synthesized for a bucket with no trades.
func (c Candle) Empty() bool {
	return c.Trades == 0
}

// Exchange is the venue abstraction consumed by the market data provider.
// One StreamTrades call is one connection attempt: the returned channel
// delivers trade batches until the connection drops, at which point the
// channel is closed. Reconnecting is the caller's responsibility.
type Exchange interface {
	Name() string
	StreamTrades(ctx context.Context, symbol string) (<-chan []Trade, error)
	Close() error
}

// CandleSink receives every completed candle of a pipeline. Implementations
// (trigger evaluation, notification plugins) run outside this package; a
// failing sink never interrupts candle flow.
type CandleSink interface {
	Name() string
	ProcessCandle(exchange, symbol string, c Candle) error
}

// EventPublisher pushes candles and lifecycle events to an external bus so
// that API websocket bridges can follow a market without holding a reference
// to the pipeline. Publishing is best-effort.
type EventPublisher interface {
	PublishCandle(ctx context.Context, exchange, symbol string, c Candle) error
	PublishEvent(ctx context.Context, ev Event) error
}
