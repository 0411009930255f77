// Package pipeline composes a market data provider and a candle creator
// into one tracked market per (exchange, symbol) and fans results out to
// storage, sinks and external readers.
package pipeline

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ildaroit/algo-trading-server/internal/market"
	"github.com/ildaroit/algo-trading-server/internal/market/candles"
	"github.com/ildaroit/algo-trading-server/pkg/storage"
)

const (
	defaultStreamBuffer = 256
	defaultCacheSize    = 500

	// persistTimeout bounds each fire-and-forget storage write.
	persistTimeout = 5 * time.Second
)

// Config tunes one pipeline instance.
type Config struct {
	Interval     time.Duration
	StreamBuffer int // candle output stream capacity
	CacheSize    int // recent-candle cache capacity
	Provider     market.ProviderConfig
}

// Pipeline is the real-time market for one (exchange, symbol) pair: it
// tracks all new trades and emits out candles.
//
// A single processing goroutine consumes trade batches, the idle timer and
// lifecycle events, so candle ordering needs no locking on the hot path.
// Completed candles reach, in order: the JSON output stream, storage
// (fire-and-forget), every registered sink and the event relay. Each is
// isolated so one failing consumer cannot stall the others.
type Pipeline struct {
	exchange market.Exchange
	symbol   string
	cfg      Config
	log      *zap.Logger

	provider *market.Provider
	creator  *candles.Creator
	cache    *market.CandleCache

	store storage.Store         // optional
	relay market.EventPublisher // optional
	sinks []market.CandleSink

	handlersMu sync.Mutex
	handlers   []func(market.Event)

	out     chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
	stateMu sync.Mutex
}

// New builds a pipeline. store and relay may be nil to disable persistence
// and relaying respectively.
func New(exchange market.Exchange, symbol string, cfg Config, store storage.Store,
	relay market.EventPublisher, log *zap.Logger) *Pipeline {
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = defaultStreamBuffer
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("exchange", exchange.Name()), zap.String("symbol", symbol))

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		exchange: exchange,
		symbol:   symbol,
		cfg:      cfg,
		log:      log,
		provider: market.NewProvider(exchange, symbol, cfg.Provider, log),
		creator:  candles.NewCreator(cfg.Interval, log),
		cache:    market.NewCandleCache(cfg.CacheSize),
		store:    store,
		relay:    relay,
		out:      make(chan []byte, cfg.StreamBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (p *Pipeline) Exchange() string { return p.exchange.Name() }
func (p *Pipeline) Symbol() string   { return p.symbol }

// Status reports the connection state of the underlying provider.
func (p *Pipeline) Status() market.Status { return p.provider.Status() }

// Cache exposes the recent-candle window of this market.
func (p *Pipeline) Cache() *market.CandleCache { return p.cache }

// AddSink registers a candle consumer. Must be called before Start.
func (p *Pipeline) AddSink(s market.CandleSink) {
	p.sinks = append(p.sinks, s)
}

// OnEvent registers a handler for relayed market events (market-start,
// market-update, market-error, trade, trades). Handlers run on the
// processing goroutine and must return quickly.
func (p *Pipeline) OnEvent(fn func(market.Event)) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers = append(p.handlers, fn)
}

// Candles is the pipeline's output stream: one JSON-encoded candle per
// completed bucket, in emission order. The channel stays open while the
// pipeline runs and closes on Stop. A slow reader applies backpressure once
// the buffer fills; completed candles are never dropped.
func (p *Pipeline) Candles() <-chan []byte {
	return p.out
}

// Start wires the creator to the provider and begins connecting. The wiring
// happens before the connection starts so the first trade batch cannot be
// missed. Idempotent.
func (p *Pipeline) Start() {
	p.stateMu.Lock()
	if p.started || p.stopped {
		p.stateMu.Unlock()
		return
	}
	p.started = true
	p.stateMu.Unlock()

	p.log.Debug("starting market pipeline")
	p.wg.Add(1)
	go p.run()
	p.provider.Start()
}

// Stop closes the venue connection, stops the idle timer and closes the
// output stream. The still-open candle is discarded, never emitted.
func (p *Pipeline) Stop() {
	p.stateMu.Lock()
	if p.stopped {
		p.stateMu.Unlock()
		return
	}
	p.stopped = true
	wasStarted := p.started
	p.stateMu.Unlock()

	p.cancel()
	p.provider.Stop()
	if wasStarted {
		p.wg.Wait()
	} else {
		close(p.out)
	}
	p.log.Info("market pipeline stopped")
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	defer close(p.out)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	batches := p.provider.Batches()
	events := p.provider.Events()

	for {
		select {
		case <-p.ctx.Done():
			return

		case batch, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			p.relayTrades(batch)
			p.persistTrades(batch)
			p.publish(p.creator.Ingest(batch))
			ticker.Reset(p.cfg.Interval)

		case now := <-ticker.C:
			// close the open bucket on quiet markets
			p.publish(p.creator.Flush(now))

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			p.relayEvent(ev)
		}
	}
}

// publish fans one or more completed candles out in order.
func (p *Pipeline) publish(completed []market.Candle) {
	for _, c := range completed {
		p.cache.Add(c)

		encoded, err := json.Marshal(c)
		if err != nil {
			// unreachable for a well-formed candle; fail loudly, not silently
			p.log.Error("failed to encode candle", zap.Error(err))
		} else {
			select {
			case p.out <- encoded:
			case <-p.ctx.Done():
				return
			}
		}

		p.persistCandle(c)
		p.deliverToSinks(c)

		if p.relay != nil {
			candle := c
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
				defer cancel()
				if err := p.relay.PublishCandle(ctx, p.exchange.Name(), p.symbol, candle); err != nil {
					p.log.Warn("failed to relay candle", zap.Error(err))
				}
			}()
		}

		p.log.Debug("candle completed",
			zap.Time("start", c.Start),
			zap.String("close", c.Close.String()),
			zap.Int64("trades", c.Trades))
	}
}

// persistCandle writes a candle without waiting: a slow or failing storage
// layer must not stall candle production.
func (p *Pipeline) persistCandle(c market.Candle) {
	if p.store == nil {
		return
	}
	record := p.candleRecord(c)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := p.store.SaveCandle(ctx, record); err != nil {
			p.log.Warn("failed to save candle", zap.Time("start", record.Start), zap.Error(err))
		}
	}()
}

func (p *Pipeline) persistTrades(batch []market.Trade) {
	if p.store == nil {
		return
	}
	records := make([]*storage.TradeRecord, 0, len(batch))
	for _, t := range batch {
		records = append(records, &storage.TradeRecord{
			Exchange: p.exchange.Name(),
			Symbol:   p.symbol,
			TradeID:  t.ID,
			Price:    t.Price.InexactFloat64(),
			Volume:   t.Amount.InexactFloat64(),
			TradedAt: t.Time,
		})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		for _, r := range records {
			if err := p.store.SaveTrade(ctx, r); err != nil {
				p.log.Warn("failed to save trade", zap.String("tradeId", r.TradeID), zap.Error(err))
			}
		}
	}()
}

// deliverToSinks hands a candle to every sink, isolating failures so one
// broken plugin cannot break the others.
func (p *Pipeline) deliverToSinks(c market.Candle) {
	for _, sink := range p.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("candle sink panicked",
						zap.String("sink", sink.Name()), zap.Any("panic", r))
				}
			}()
			if err := sink.ProcessCandle(p.exchange.Name(), p.symbol, c); err != nil {
				p.log.Warn("candle sink failed",
					zap.String("sink", sink.Name()), zap.Error(err))
			}
		}()
	}
}

// relayTrades re-emits the batch as trades and per-trade events for external
// subscribers. Raw relay is best-effort and cannot corrupt candle state.
func (p *Pipeline) relayTrades(batch []market.Trade) {
	now := time.Now().UTC()
	p.dispatch(market.Event{
		Type:     market.EventTrades,
		Exchange: p.exchange.Name(),
		Symbol:   p.symbol,
		Time:     now,
		Trades:   batch,
	})
	for i := range batch {
		p.dispatch(market.Event{
			Type:     market.EventTrade,
			Exchange: p.exchange.Name(),
			Symbol:   p.symbol,
			Time:     now,
			Trade:    &batch[i],
		})
	}
}

func (p *Pipeline) relayEvent(ev market.Event) {
	switch ev.Type {
	case market.EventMarketStart:
		p.log.Info("market data flowing")
	case market.EventMarketUpdate:
		p.log.Info("market data resumed")
	case market.EventMarketError:
		p.log.Error("market connection failed permanently", zap.Error(ev.Err))
	}
	p.dispatch(ev)
}

func (p *Pipeline) dispatch(ev market.Event) {
	p.handlersMu.Lock()
	handlers := p.handlers
	p.handlersMu.Unlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("event handler panicked", zap.Any("panic", r))
				}
			}()
			fn(ev)
		}()
	}

	if p.relay != nil && ev.Type != market.EventTrade {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := p.relay.PublishEvent(ctx, ev); err != nil {
				p.log.Warn("failed to relay event", zap.String("type", string(ev.Type)), zap.Error(err))
			}
		}()
	}
}

func (p *Pipeline) candleRecord(c market.Candle) *storage.CandleRecord {
	return &storage.CandleRecord{
		Exchange:   p.exchange.Name(),
		Symbol:     p.symbol,
		Start:      c.Start,
		Open:       c.Open.InexactFloat64(),
		High:       c.High.InexactFloat64(),
		Low:        c.Low.InexactFloat64(),
		Close:      c.Close.InexactFloat64(),
		Volume:     c.Volume.InexactFloat64(),
		Vwp:        c.Vwp.InexactFloat64(),
		TradeCount: c.Trades,
	}
}
