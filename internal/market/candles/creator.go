// Package candles turns an ordered sequence of trade batches into an
// ordered, gap-free sequence of fixed-interval OHLCV candles.
package candles

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ildaroit/algo-trading-server/internal/market"
)

// Creator maintains the currently open candle for one (exchange, symbol)
// market and emits completed candles. Once emission begins, the bucket
// starts of emitted candles are strictly increasing with no gaps: buckets
// that saw no trades are covered by synthetic candles that carry the
// previous close forward.
//
// Creator is not safe for concurrent use; the pipeline calls Ingest and
// Flush from a single goroutine.
type Creator struct {
	interval time.Duration
	log      *zap.Logger

	open *openCandle

	// emitted is true once the first candle has been emitted; lastStart and
	// lastClose then describe the most recently emitted bucket.
	emitted   bool
	lastStart time.Time
	lastClose decimal.Decimal
}

// openCandle is the still-in-progress bucket. notional accumulates
// price*amount for the vwp; seen holds the trade ids already applied to
// this bucket so re-delivered trades are idempotent.
type openCandle struct {
	candle   market.Candle
	notional decimal.Decimal
	seen     map[string]struct{}
}

func NewCreator(interval time.Duration, log *zap.Logger) *Creator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Creator{interval: interval, log: log}
}

// Interval returns the configured bucket duration.
func (c *Creator) Interval() time.Duration {
	return c.interval
}

// Ingest consumes one batch of trades and returns the candles it completed,
// in strict chronological order. A batch may complete several candles at
// once when it spans multiple bucket boundaries, or none at all.
//
// Batches are re-sorted by timestamp defensively. Trades for a bucket
// earlier than the open one are dropped: completed candles are never
// mutated retroactively.
func (c *Creator) Ingest(trades []market.Trade) []market.Candle {
	if len(trades) == 0 {
		return nil
	}

	sorted := make([]market.Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	var completed []market.Candle
	for _, t := range sorted {
		if !t.Price.IsPositive() || !t.Amount.IsPositive() {
			c.log.Warn("dropping trade with non-positive price or amount",
				zap.String("id", t.ID))
			continue
		}
		completed = c.apply(t, completed)
	}
	return completed
}

func (c *Creator) apply(t market.Trade, completed []market.Candle) []market.Candle {
	bucket := t.Time.UTC().Truncate(c.interval)

	if c.open == nil {
		if c.emitted && !bucket.After(c.lastStart) {
			c.log.Warn("dropping late trade for already closed bucket",
				zap.String("id", t.ID),
				zap.Time("bucket", bucket),
				zap.Time("lastEmitted", c.lastStart))
			return completed
		}
		completed = c.fillTo(bucket, completed)
		c.openAt(bucket, t)
		return completed
	}

	switch {
	case bucket.Equal(c.open.candle.Start):
		c.update(t)

	case bucket.Before(c.open.candle.Start):
		c.log.Warn("dropping out-of-order trade",
			zap.String("id", t.ID),
			zap.Time("bucket", bucket),
			zap.Time("open", c.open.candle.Start))

	default:
		completed = append(completed, c.closeOpen())
		completed = c.fillTo(bucket, completed)
		c.openAt(bucket, t)
	}
	return completed
}

// Flush closes the open candle once its bucket has fully elapsed and emits
// synthetic candles for any further trade-less buckets that have elapsed
// since. The pipeline calls it from an idle timer so quiet markets still
// produce a gap-free series; the bucket containing now is left open.
func (c *Creator) Flush(now time.Time) []market.Candle {
	now = now.UTC()

	var completed []market.Candle
	if c.open != nil && !now.Before(c.open.candle.Start.Add(c.interval)) {
		completed = append(completed, c.closeOpen())
	}
	if !c.emitted {
		return completed
	}
	for next := c.lastStart.Add(c.interval); !next.Add(c.interval).After(now); next = c.lastStart.Add(c.interval) {
		completed = append(completed, c.emitSynthetic(next))
	}
	return completed
}

func (c *Creator) openAt(bucket time.Time, t market.Trade) {
	c.open = &openCandle{
		candle: market.Candle{
			Start:  bucket,
			Open:   t.Price,
			High:   t.Price,
			Low:    t.Price,
			Close:  t.Price,
			Volume: t.Amount,
			Trades: 1,
		},
		notional: t.Price.Mul(t.Amount),
		seen:     map[string]struct{}{t.ID: {}},
	}
}

func (c *Creator) update(t market.Trade) {
	if _, dup := c.open.seen[t.ID]; dup {
		return
	}
	c.open.seen[t.ID] = struct{}{}

	cd := &c.open.candle
	if t.Price.GreaterThan(cd.High) {
		cd.High = t.Price
	}
	if t.Price.LessThan(cd.Low) {
		cd.Low = t.Price
	}
	cd.Close = t.Price
	cd.Volume = cd.Volume.Add(t.Amount)
	cd.Trades++
	c.open.notional = c.open.notional.Add(t.Price.Mul(t.Amount))
}

// closeOpen finalizes the open candle. An open candle always holds at least
// one trade, so the vwp division is safe.
func (c *Creator) closeOpen() market.Candle {
	cd := c.open.candle
	cd.Vwp = c.open.notional.Div(cd.Volume)
	c.open = nil

	c.emitted = true
	c.lastStart = cd.Start
	c.lastClose = cd.Close
	return cd
}

// fillTo emits synthetic candles for every bucket strictly between the last
// emitted bucket and target, keeping the series gap-free across periods of
// venue silence.
func (c *Creator) fillTo(target time.Time, completed []market.Candle) []market.Candle {
	if !c.emitted {
		return completed
	}
	for next := c.lastStart.Add(c.interval); next.Before(target); next = c.lastStart.Add(c.interval) {
		completed = append(completed, c.emitSynthetic(next))
	}
	return completed
}

func (c *Creator) emitSynthetic(start time.Time) market.Candle {
	cd := market.Candle{
		Start:  start,
		Open:   c.lastClose,
		High:   c.lastClose,
		Low:    c.lastClose,
		Close:  c.lastClose,
		Volume: decimal.Zero,
		Vwp:    c.lastClose,
		Trades: 0,
	}
	c.lastStart = start
	return cd
}
